package tensor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrBufferReleased is returned when a buffer is used after its last
// reference was dropped.
var ErrBufferReleased = errors.New("tensor buffer already released")

// Owner records who is responsible for a buffer's memory.
type Owner uint8

const (
	// OwnerLocal buffers were allocated in-process; the garbage collector
	// reclaims them once released.
	OwnerLocal Owner = iota
	// OwnerPlugin buffers wrap memory owned by a loaded plugin and must be
	// returned through the plugin's release entry point.
	OwnerPlugin
)

func (o Owner) String() string {
	if o == OwnerPlugin {
		return "plugin"
	}
	return "local"
}

// ReleaseFunc returns plugin owned memory to its owner.
type ReleaseFunc func() error

// Buffer is a named, shaped, reference-counted block of bytes.
type Buffer struct {
	name      string
	shape     Shape
	precision Precision
	owner     Owner

	mu      sync.RWMutex
	data    []byte
	release ReleaseFunc

	refs atomic.Int32
}

// New creates a locally owned buffer holding one reference. The buffer takes
// ownership of data; callers must not modify it after publication.
func New(name string, shape Shape, precision Precision, data []byte) *Buffer {
	b := &Buffer{
		name:      name,
		shape:     shape.Clone(),
		precision: precision,
		owner:     OwnerLocal,
		data:      data,
	}
	b.refs.Store(1)
	return b
}

// NewPluginOwned wraps memory owned by a plugin. release is called exactly
// once, when the last reference is dropped.
func NewPluginOwned(name string, shape Shape, precision Precision, data []byte, release ReleaseFunc) *Buffer {
	b := New(name, shape, precision, data)
	b.owner = OwnerPlugin
	b.release = release
	return b
}

// Name returns the buffer's tensor name.
func (b *Buffer) Name() string { return b.name }

// Shape returns a copy of the buffer's dimensions.
func (b *Buffer) Shape() Shape { return b.shape.Clone() }

// Precision returns the buffer's precision tag.
func (b *Buffer) Precision() Precision { return b.precision }

// Owner returns who owns the buffer's memory.
func (b *Buffer) Owner() Owner { return b.owner }

// Len returns the byte length, or 0 once released.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Data returns the buffer's bytes. The returned slice is read-only.
func (b *Buffer) Data() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.refs.Load() <= 0 {
		return nil, fmt.Errorf("reading %q: %w", b.name, ErrBufferReleased)
	}
	return b.data, nil
}

// Released reports whether the last reference has been dropped.
func (b *Buffer) Released() bool {
	return b.refs.Load() <= 0
}

// Retain takes an additional reference. It fails if the buffer has already
// been released, since the memory may no longer be valid.
func (b *Buffer) Retain() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return fmt.Errorf("retaining %q: %w", b.name, ErrBufferReleased)
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Release drops one reference. Dropping the last one frees the buffer and,
// for plugin owned memory, invokes the plugin release callback.
func (b *Buffer) Release() error {
	for {
		n := b.refs.Load()
		if n <= 0 {
			return fmt.Errorf("releasing %q: %w", b.name, ErrBufferReleased)
		}
		if !b.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n > 1 {
			return nil
		}
		break
	}

	b.mu.Lock()
	b.data = nil
	release := b.release
	b.release = nil
	b.mu.Unlock()

	if release != nil {
		if err := release(); err != nil {
			return fmt.Errorf("releasing plugin buffer %q: %w", b.name, err)
		}
	}
	return nil
}
