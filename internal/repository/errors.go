package repository

import "errors"

var (
	// ErrPollNotFound means the poll is absent from the store, including the
	// case where it expired mid-operation.
	ErrPollNotFound = errors.New("poll not found")
	// ErrStoreUnavailable means the store could not be reached even after
	// the bounded retries.
	ErrStoreUnavailable = errors.New("store unavailable")
)
