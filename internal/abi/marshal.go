package abi

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/vk/gridflow/internal/tensor"
)

// ErrDuplicateTensor is returned when two tensors with the same name would be
// passed in one invocation.
var ErrDuplicateTensor = errors.New("duplicate tensor name at library boundary")

// CString returns a pointer to a NUL-terminated copy of s.
func CString(s string) *byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return &b[0]
}

// GoString copies a NUL-terminated string into Go memory.
func GoString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 { //nolint:gosec // G103: walks a NUL-terminated ABI string
		n++
	}
	return string(unsafe.Slice(p, n)) //nolint:gosec // G103: bounded by the terminator found above
}

// NewTensor builds a descriptor that points into data and a private copy of
// shape. The descriptor keeps both alive for as long as it is reachable.
func NewTensor(name string, shape tensor.Shape, precision tensor.Precision, data []byte) Tensor {
	t := Tensor{
		Name:       CString(name),
		DataLength: uint64(len(data)),
		DimsLength: uint64(len(shape)),
		Precision:  int32(precision),
	}
	if len(data) > 0 {
		t.Data = &data[0]
	}
	if len(shape) > 0 {
		dims := make([]uint64, len(shape))
		copy(dims, shape)
		t.Dims = &dims[0]
	}
	return t
}

// NameString returns the tensor's name.
func (t *Tensor) NameString() string {
	return GoString(t.Name)
}

// Bytes returns a view of the tensor's data without copying.
func (t *Tensor) Bytes() []byte {
	if t.Data == nil || t.DataLength == 0 {
		return nil
	}
	return unsafe.Slice(t.Data, t.DataLength) //nolint:gosec // G103: length supplied by the descriptor
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() tensor.Shape {
	if t.Dims == nil || t.DimsLength == 0 {
		return tensor.Shape{}
	}
	dims := unsafe.Slice(t.Dims, t.DimsLength) //nolint:gosec // G103: length supplied by the descriptor
	return tensor.Shape(dims).Clone()
}

// TensorPrecision returns the descriptor's precision tag.
func (t *Tensor) TensorPrecision() tensor.Precision {
	return tensor.Precision(t.Precision)
}

// KeyString returns the parameter key.
func (p *Param) KeyString() string { return GoString(p.Key) }

// ValueString returns the parameter value.
func (p *Param) ValueString() string { return GoString(p.Value) }

// MarshalBuffers lays out bufs as a flat descriptor array, naming the i-th
// descriptor names[i]. Descriptors borrow the buffers' bytes; the buffers
// must stay retained until the library call returns.
func MarshalBuffers(names []string, bufs []*tensor.Buffer) ([]Tensor, error) {
	if len(names) != len(bufs) {
		return nil, fmt.Errorf("%d names for %d buffers", len(names), len(bufs))
	}
	out := make([]Tensor, 0, len(bufs))
	seen := make(map[string]struct{}, len(bufs))
	for i, b := range bufs {
		name := names[i]
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%q: %w", name, ErrDuplicateTensor)
		}
		seen[name] = struct{}{}

		data, err := b.Data()
		if err != nil {
			return nil, fmt.Errorf("%q: %w", name, err)
		}
		out = append(out, NewTensor(name, b.Shape(), b.Precision(), data))
	}
	return out, nil
}

// MarshalParams builds the borrowed parameter array. It returns nil for an
// empty parameter list.
func MarshalParams(params []Parameter) []Param {
	if len(params) == 0 {
		return nil
	}
	out := make([]Param, len(params))
	for i, p := range params {
		out[i] = Param{Key: CString(p.Key), Value: CString(p.Value)}
	}
	return out
}

// WrapOutput exposes a library-owned output tensor as a buffer that does not
// own its memory. Dropping the buffer's last reference hands a copy of the
// descriptor back to the library's ReleaseBuffer, so the output array itself
// may be reclaimed earlier through ReleaseTensors.
func WrapOutput(name string, t Tensor, plugin Plugin) *tensor.Buffer {
	desc := t
	return tensor.NewPluginOwned(name, desc.Shape(), desc.TensorPrecision(), desc.Bytes(), func() error {
		if code := plugin.ReleaseBuffer(&desc); code != 0 {
			return fmt.Errorf("library releaseBuffer returned code %d", code)
		}
		return nil
	})
}
