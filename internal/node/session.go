package node

import (
	"sync"
	"sync/atomic"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/inputhandler"
	"github.com/vk/gridflow/internal/sessionmeta"
	"github.com/vk/gridflow/internal/tensor"
)

// Status is the execution state of a session.
type Status int32

const (
	// Pending sessions are accumulating inputs.
	Pending Status = iota
	// Executing sessions are running their compute step.
	Executing
	// Succeeded sessions hold outputs waiting to be fetched.
	Succeeded
	// Failed sessions hold an error and no trusted outputs.
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Executing:
		return "executing"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the state of one node for one traversal.
type Session struct {
	meta   sessionmeta.Metadata
	inputs inputhandler.Handler
	status atomic.Int32

	mu  sync.Mutex
	err error
	// outputs holds the session's own reference to every produced buffer,
	// keyed by the name the compute step produced it under.
	outputs map[string]*tensor.Buffer
	// pluginOutputs is the array returned by a custom node library.
	pluginOutputs []abi.Tensor
	released      bool
}

func newSession(meta sessionmeta.Metadata, inputs inputhandler.Handler) *Session {
	return &Session{
		meta:    meta,
		inputs:  inputs,
		outputs: make(map[string]*tensor.Buffer),
	}
}

// Metadata returns the traversal this session belongs to.
func (s *Session) Metadata() sessionmeta.Metadata { return s.meta }

// Key returns the session key.
func (s *Session) Key() string { return s.meta.Key() }

// Status returns the current execution status.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Err returns the recorded failure, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Remaining returns how many dependency deliveries are still outstanding.
func (s *Session) Remaining() int32 { return s.inputs.Remaining() }

// setErr records err without changing the status. The first recorded error
// wins.
func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// fail records err and marks the session failed.
func (s *Session) fail(err error) {
	s.setErr(err)
	s.status.Store(int32(Failed))
}

func (s *Session) succeed() {
	s.status.Store(int32(Succeeded))
}

// setOutput stores the session's reference to a produced buffer.
func (s *Session) setOutput(name string, buf *tensor.Buffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.outputs[name]; ok && old != buf {
		_ = old.Release()
	}
	s.outputs[name] = buf
}

func (s *Session) output(name string) (*tensor.Buffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.outputs[name]
	return buf, ok
}

func (s *Session) outputNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return inputhandler.SortedNames(s.outputs)
}

// release drops the session's references to outputs and clears the inputs.
// Library outputs that were never harvested are handed back through
// releaseBuffer before the array itself goes back through releaseTensors, so
// the library sees every output released exactly once. It runs at most once.
func (s *Session) release(plugin abi.Plugin) error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	outputs := s.outputs
	s.outputs = nil
	pluginOutputs := s.pluginOutputs
	s.pluginOutputs = nil
	s.mu.Unlock()

	var firstErr error
	for _, buf := range outputs {
		if err := buf.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if plugin != nil && pluginOutputs != nil {
		for i := range pluginOutputs {
			if _, wrapped := outputs[pluginOutputs[i].NameString()]; wrapped {
				continue
			}
			if code := plugin.ReleaseBuffer(&pluginOutputs[i]); code != 0 && firstErr == nil {
				firstErr = &releaseError{entry: "releaseBuffer", code: code}
			}
		}
		if code := plugin.ReleaseTensors(pluginOutputs); code != 0 && firstErr == nil {
			firstErr = &releaseError{entry: "releaseTensors", code: code}
		}
	}
	s.inputs.Clear()
	return firstErr
}
