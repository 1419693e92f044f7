package service

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onexay/swiftpkgindex/internal/config"
	"github.com/onexay/swiftpkgindex/internal/storage"
	"github.com/onexay/swiftpkgindex/internal/types"
)

// logNamespace is the archive namespace holding build logs.
const logNamespace = "build-logs"

// Service holds business logic and storage dependencies.
type Service struct {
	store   storage.Store
	archive storage.Archive
	clock   func() time.Time
	log     zerolog.Logger
}

// Options configure a Service built from existing backends.
type Options struct {
	Clock  func() time.Time
	Logger zerolog.Logger
}

// New opens the configured store and archive and constructs the service.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Service, error) {
	archive, err := openArchive(cfg.Archive)
	if err != nil {
		return nil, err
	}

	options := storage.Options{Logger: logger.With().Str("component", "storage").Logger()}

	var store storage.Store
	switch cfg.Storage.Backend {
	case config.StorageBackendKeyDB:
		store, err = storage.NewKeyDBStore(ctx, cfg.Storage.KeyDB, options)
	case config.StorageBackendSQL:
		store, err = storage.NewPostgresStore(cfg.Storage.SQL, options)
	default:
		store = storage.NewMemoryStore(options)
	}
	if err != nil {
		_ = archive.Close()
		return nil, err
	}

	logger.Info().
		Str("storage", string(cfg.Storage.Backend)).
		Str("archive", string(cfg.Archive.Backend)).
		Msg("service initialized")

	return NewWithBackends(store, archive, Options{Logger: logger}), nil
}

func openArchive(cfg config.ArchiveConfig) (storage.Archive, error) {
	switch cfg.Backend {
	case config.ArchiveBackendBolt:
		return storage.NewBoltArchive(cfg.Path)
	case config.ArchiveBackendS3:
		return storage.NewS3Archive(cfg.S3)
	default:
		return storage.NewMemoryArchive(), nil
	}
}

// NewWithBackends wraps an already opened store and archive.
func NewWithBackends(store storage.Store, archive storage.Archive, opts Options) *Service {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{store: store, archive: archive, clock: clock, log: opts.Logger}
}

// Close releases the store and archive.
func (s *Service) Close() error {
	storeErr := s.store.Close()
	archiveErr := s.archive.Close()
	if storeErr != nil {
		return storeErr
	}
	return archiveErr
}

// packageByName resolves owner/name, the addressing used by every route.
func (s *Service) packageByName(ctx context.Context, owner, name string) (types.Package, error) {
	if owner == "" || name == "" {
		return types.Package{}, badRequest("owner and repository name are required")
	}
	return s.store.GetPackageByName(ctx, owner, name)
}

func (s *Service) removeLogs(ctx context.Context, builds []types.Build) {
	for _, b := range builds {
		if b.LogURL == "" {
			continue
		}
		if err := s.archive.Remove(ctx, logNamespace, b.ID.String()); err != nil {
			s.log.Warn().Err(err).Str("build", b.ID.String()).Msg("remove build log")
		}
	}
}

func badRequest(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}

func badRequestCause(msg string, cause error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg).
		WithCause(cause)
}

func preconditionFailed(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(msg)
}

func logURL(id uuid.UUID) string {
	return "/api/builds/" + id.String() + "/log"
}

func notFound(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(msg)
}
