package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Archive persists build logs outside of the metadata store.
type Archive interface {
	Store(ctx context.Context, namespace, key string, data []byte) error
	Fetch(ctx context.Context, namespace, key string) ([]byte, error)
	Remove(ctx context.Context, namespace, key string) error
	Close() error
}

// Options control storage behaviour across backends.
type Options struct {
	Clock  func() time.Time
	Logger zerolog.Logger
}

func (o Options) clock() func() time.Time {
	if o.Clock != nil {
		return o.Clock
	}
	return time.Now
}
