package node

import "errors"

var (
	// ErrSessionNotFound is returned when no live session exists for a key,
	// including a second fetch of the same session.
	ErrSessionNotFound = errors.New("node session not found")
	// ErrSessionAlreadyExecuted is returned when a session is executed twice.
	ErrSessionAlreadyExecuted = errors.New("node session already executed")
	// ErrSessionNotReady is returned when a session is executed before all
	// of its dependencies delivered.
	ErrSessionNotReady = errors.New("node session has outstanding dependencies")
	// ErrSessionFailed is returned when results are fetched from a failed session.
	ErrSessionFailed = errors.New("node session failed")
	// ErrLibraryExecutionFailed is returned when a custom node library's
	// execute entry point returns a non-zero code.
	ErrLibraryExecutionFailed = errors.New("node library execution failed")
	// ErrMissingOutput is returned when an output required downstream was
	// not produced.
	ErrMissingOutput = errors.New("required node output missing")
	// ErrResultsConflict is returned when results for a session key are
	// recorded twice.
	ErrResultsConflict = errors.New("session results already recorded")
	// ErrUnknownProducer is returned when inputs arrive from a node that is
	// not connected upstream.
	ErrUnknownProducer = errors.New("inputs from unconnected producer")
	// ErrDemultiply is returned when outputs cannot be split into shards.
	ErrDemultiply = errors.New("cannot demultiply outputs")
	// ErrShardCountMismatch is returned when a delivery to a gather session
	// carries a different shard count than the session was created with.
	ErrShardCountMismatch = errors.New("shard count differs from gather session")
)
