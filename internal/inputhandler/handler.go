// Package inputhandler accumulates the named input buffers of one node
// session until every upstream dependency has delivered.
//
// Deliveries arrive from sibling branches on different goroutines. The maps
// are guarded by a mutex, while readiness is decided by a single atomic
// decrement: exactly one caller observes the remaining count reach zero and
// is responsible for whatever has to happen at that transition.
package inputhandler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vk/gridflow/internal/tensor"
)

var (
	// ErrDuplicateInput is returned when an input name is delivered twice.
	ErrDuplicateInput = errors.New("input delivered more than once")
	// ErrTooManyDependencies is returned when more dependencies finish than
	// the handler was created for.
	ErrTooManyDependencies = errors.New("more finished dependencies than expected")
)

// Handler is the contract shared by the plain and the gather input handler.
//
// SetInput takes over the caller's reference to buf on success; on error the
// reference stays with the caller. NotifyFinishedDependency reports ready as
// true to exactly one caller; when err is non-nil alongside ready, the
// transition happened but preparing the inputs failed and the session must
// be failed.
type Handler interface {
	SetInput(name string, buf *tensor.Buffer, shardID uint32) error
	NotifyFinishedDependency() (ready bool, err error)
	Inputs() map[string]*tensor.Buffer
	Remaining() int32
	Clear()
}

// NodeInputHandler waits for one delivery per upstream node.
type NodeInputHandler struct {
	mu        sync.Mutex
	inputs    map[string]*tensor.Buffer
	remaining atomic.Int32
}

// New creates a handler expecting the given number of upstream dependencies.
func New(dependencies int) *NodeInputHandler {
	h := &NodeInputHandler{inputs: make(map[string]*tensor.Buffer)}
	h.remaining.Store(int32(dependencies))
	return h
}

// SetInput records a buffer under name. shardID is ignored.
func (h *NodeInputHandler) SetInput(name string, buf *tensor.Buffer, _ uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.setLocked(name, buf)
}

func (h *NodeInputHandler) setLocked(name string, buf *tensor.Buffer) error {
	if _, exists := h.inputs[name]; exists {
		return fmt.Errorf("input %q: %w", name, ErrDuplicateInput)
	}
	h.inputs[name] = buf
	return nil
}

// NotifyFinishedDependency decrements the remaining dependency count.
func (h *NodeInputHandler) NotifyFinishedDependency() (bool, error) {
	n, err := h.decrement()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func (h *NodeInputHandler) decrement() (int32, error) {
	n := h.remaining.Add(-1)
	if n < 0 {
		return n, ErrTooManyDependencies
	}
	return n, nil
}

// Remaining returns the number of dependencies not yet finished.
func (h *NodeInputHandler) Remaining() int32 {
	return h.remaining.Load()
}

// Inputs returns a snapshot of the accumulated inputs.
func (h *NodeInputHandler) Inputs() map[string]*tensor.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]*tensor.Buffer, len(h.inputs))
	for k, v := range h.inputs {
		out[k] = v
	}
	return out
}

// Clear drops the handler's references to all inputs.
func (h *NodeInputHandler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clearLocked()
}

func (h *NodeInputHandler) clearLocked() {
	for name, buf := range h.inputs {
		_ = buf.Release()
		delete(h.inputs, name)
	}
}

// SortedNames returns the keys of inputs in ascending order.
func SortedNames(inputs map[string]*tensor.Buffer) []string {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
