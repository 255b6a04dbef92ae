package abi

import (
	"errors"
	"fmt"
)

// Tensor is the flat tensor descriptor passed to and returned by a library.
type Tensor struct {
	Name       *byte
	Data       *byte
	DataLength uint64
	Dims       *uint64
	DimsLength uint64
	Precision  int32
}

// Param is one static key/value parameter. Both strings are borrowed from
// the caller and valid only for the duration of the call.
type Param struct {
	Key   *byte
	Value *byte
}

// Plugin is the narrow interface the core uses to talk to a loaded library.
//
// Execute returns a library-allocated output array and a return code; any
// non-zero code is a failure and the outputs must not be trusted.
// ReleaseBuffer returns the memory behind a single output tensor.
// ReleaseTensors reclaims the output array itself.
type Plugin interface {
	Execute(inputs []Tensor, params []Param) (outputs []Tensor, code int)
	ReleaseBuffer(t *Tensor) int
	ReleaseTensors(ts []Tensor) int
}

// Entry point signatures bound when a library is loaded.
type (
	ExecuteFunc        func(inputs []Tensor, params []Param) ([]Tensor, int)
	ReleaseBufferFunc  func(t *Tensor) int
	ReleaseTensorsFunc func(ts []Tensor) int
)

// ErrIncompleteLibrary is returned when a library is missing an entry point.
var ErrIncompleteLibrary = errors.New("library is missing an entry point")

// Library is a loaded plugin: a name and its three bound entry points. It is
// immutable after construction and may be shared by many custom nodes.
type Library struct {
	name           string
	execute        ExecuteFunc
	releaseBuffer  ReleaseBufferFunc
	releaseTensors ReleaseTensorsFunc
}

// NewLibrary binds the three entry points of a plugin.
func NewLibrary(name string, execute ExecuteFunc, releaseBuffer ReleaseBufferFunc, releaseTensors ReleaseTensorsFunc) (*Library, error) {
	switch {
	case execute == nil:
		return nil, fmt.Errorf("library %q: execute: %w", name, ErrIncompleteLibrary)
	case releaseBuffer == nil:
		return nil, fmt.Errorf("library %q: releaseBuffer: %w", name, ErrIncompleteLibrary)
	case releaseTensors == nil:
		return nil, fmt.Errorf("library %q: releaseTensors: %w", name, ErrIncompleteLibrary)
	}
	return &Library{
		name:           name,
		execute:        execute,
		releaseBuffer:  releaseBuffer,
		releaseTensors: releaseTensors,
	}, nil
}

// Name returns the name the library was registered under.
func (l *Library) Name() string { return l.name }

// Execute implements Plugin.
func (l *Library) Execute(inputs []Tensor, params []Param) ([]Tensor, int) {
	return l.execute(inputs, params)
}

// ReleaseBuffer implements Plugin.
func (l *Library) ReleaseBuffer(t *Tensor) int {
	return l.releaseBuffer(t)
}

// ReleaseTensors implements Plugin.
func (l *Library) ReleaseTensors(ts []Tensor) int {
	return l.releaseTensors(ts)
}

// Parameter is an owned key/value pair. A custom node keeps its parameters
// as a slice of these and hands the library borrowed views built by
// MarshalParams.
type Parameter struct {
	Key   string
	Value string
}

// Lookup returns the value of the first parameter with the given key.
func Lookup(params []Param, key string) (string, bool) {
	for i := range params {
		if params[i].KeyString() == key {
			return params[i].ValueString(), true
		}
	}
	return "", false
}
