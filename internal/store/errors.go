package store

import (
	"errors"

	"rshare/internal/fsutil"
)

var (
	// ErrInvalidName is returned for names that are not a single safe entry
	// directly under the store directory.
	ErrInvalidName = fsutil.ErrInvalidName

	ErrNotFound = errors.New("not found")

	// ErrTooLarge is returned when an upload passes the configured bound.
	ErrTooLarge = errors.New("payload too large")

	// ErrAborted wraps failures reading the upload source (client gone,
	// malformed body). Nothing was committed.
	ErrAborted = errors.New("upload aborted")
)
