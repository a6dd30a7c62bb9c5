package errors

import "errors"

var (
	// ErrInvalid covers malformed or missing identifiers and mismatched
	// class ids in a batch upsert.
	ErrInvalid = errors.New("invalid")
	// ErrNotFound deliberately collapses not-found and access-denied so a
	// caller cannot probe for another user's resources.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks an unreachable upstream (embedding or
	// generation backend).
	ErrUnavailable = errors.New("upstream unavailable")
	// ErrPersistence marks a failed durable write; a chat turn that hits
	// it fails even if generation already succeeded.
	ErrPersistence = errors.New("persistence failed")
	ErrInternal    = errors.New("internal")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
