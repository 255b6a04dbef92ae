package tensor

import "fmt"

// Allocator provides memory for buffers produced in-process, such as the
// outputs of standard nodes and consolidated gather inputs.
type Allocator interface {
	Allocate(name string, shape Shape, precision Precision, size int) (*Buffer, error)
}

// HeapAllocator allocates zeroed buffers on the Go heap.
type HeapAllocator struct{}

// Allocate implements Allocator.
func (HeapAllocator) Allocate(name string, shape Shape, precision Precision, size int) (*Buffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("allocating %q: negative size %d", name, size)
	}
	return New(name, shape, precision, make([]byte, size)), nil
}

// Split divides a buffer of shape [n, rest...] into n buffers of shape rest,
// copying each slice of bytes. It is the inverse of stacking shards along a
// new leading dimension.
func Split(b *Buffer, n int, alloc Allocator) ([]*Buffer, error) {
	shape := b.Shape()
	if len(shape) == 0 || shape[0] != uint64(n) || n <= 0 {
		return nil, fmt.Errorf("cannot split %q of shape %s into %d parts", b.Name(), shape, n)
	}
	data, err := b.Data()
	if err != nil {
		return nil, err
	}
	if len(data)%n != 0 {
		return nil, fmt.Errorf("cannot split %q: %d bytes not divisible by %d", b.Name(), len(data), n)
	}

	step := len(data) / n
	parts := make([]*Buffer, 0, n)
	for i := 0; i < n; i++ {
		part, err := alloc.Allocate(b.Name(), shape[1:], b.Precision(), step)
		if err != nil {
			for _, p := range parts {
				_ = p.Release()
			}
			return nil, err
		}
		dst, _ := part.Data()
		copy(dst, data[i*step:(i+1)*step])
		parts = append(parts, part)
	}
	return parts, nil
}
