package pipeline

import "errors"

var (
	// ErrInvalidPipeline wraps every validation failure found by Build.
	ErrInvalidPipeline = errors.New("invalid pipeline")
	// ErrNoResponse is returned when a request finishes without the exit
	// node producing a response.
	ErrNoResponse = errors.New("request finished without a response")
	// ErrClosed is returned when executing on a closed pipeline.
	ErrClosed = errors.New("pipeline closed")
	// ErrInvalidRequest is returned for request tensors that cannot be
	// turned into buffers.
	ErrInvalidRequest = errors.New("invalid request")
)
