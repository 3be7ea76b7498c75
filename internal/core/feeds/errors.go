package feeds

import "errors"

var (
	// ErrStorage indicates a local store failure. The operation fails; the
	// feed keeps its last good state.
	ErrStorage = errors.New("feed storage error")

	// ErrEmptyCursor indicates NextPage was called without a cursor.
	ErrEmptyCursor = errors.New("empty cursor")
)
