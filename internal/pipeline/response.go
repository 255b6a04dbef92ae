package pipeline

import (
	"fmt"
	"sort"

	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/tensor"
)

// Response holds the exit node's tensors of one request. It owns one
// reference to every buffer until Release.
type Response struct {
	RequestKey string
	Outputs    map[string]*tensor.Buffer
}

// Names returns the output names in ascending order.
func (r *Response) Names() []string {
	names := make([]string, 0, len(r.Outputs))
	for name := range r.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Release drops the response's references. It is safe to call twice.
func (r *Response) Release() {
	for name, buf := range r.Outputs {
		_ = buf.Release()
		delete(r.Outputs, name)
	}
}

// RequestInputs turns a request document into entry buffers. The caller
// owns the returned buffers.
func RequestInputs(req *config.Request) (map[string]*tensor.Buffer, error) {
	out := make(map[string]*tensor.Buffer, len(req.Tensors))
	release := func() {
		for _, b := range out {
			_ = b.Release()
		}
	}
	for _, t := range req.Tensors {
		if _, dup := out[t.Name]; dup {
			release()
			return nil, fmt.Errorf("%w: tensor %q defined twice", ErrInvalidRequest, t.Name)
		}
		precision, ok := tensor.ParsePrecision(t.Precision)
		if !ok {
			release()
			return nil, fmt.Errorf("%w: tensor %q: unknown precision %q", ErrInvalidRequest, t.Name, t.Precision)
		}
		shape := tensor.Shape(t.Shape)
		if n := shape.NumElements(); n != uint64(len(t.Data)) {
			release()
			return nil, fmt.Errorf("%w: tensor %q: shape %s holds %d values, got %d", ErrInvalidRequest, t.Name, shape, n, len(t.Data))
		}
		data, err := tensor.Encode(precision, t.Data)
		if err != nil {
			release()
			return nil, fmt.Errorf("%w: tensor %q: %w", ErrInvalidRequest, t.Name, err)
		}
		out[t.Name] = tensor.New(t.Name, shape, precision, data)
	}
	return out, nil
}
