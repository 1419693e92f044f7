package storage

import (
	"errors"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// ErrEntryNotFound is returned by archives for missing objects.
var ErrEntryNotFound = errors.New("entry not found")

func notFound(resource, key string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg(resource + " " + key + " not found")
}

func alreadyExists(resource, key string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeAlreadyExists).
		WithMsg(resource + " " + key + " already exists")
}

func invalidArgument(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}

func failedPrecondition(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(msg)
}

func internalError(msg string, cause error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg).
		WithCause(cause)
}

// IsNotFound reports whether err carries the not-found code.
func IsNotFound(err error) bool {
	return err != nil && (errbuilder.CodeOf(err) == errbuilder.CodeNotFound || errors.Is(err, ErrEntryNotFound))
}

func isCoded(err error) bool {
	var eb *errbuilder.ErrBuilder
	return errors.As(err, &eb)
}

func archiveMiss(namespace, key string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg("archive entry " + namespace + "/" + key + " not found").
		WithCause(ErrEntryNotFound)
}
