// Package identity provides a model that copies every input to an output of
// the same name.
package identity

import (
	"context"
	"fmt"

	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
)

// Name is the model name pipelines refer to.
const Name = "identity"

// Model implements node.Model.
type Model struct{}

// Infer copies each input into a buffer from alloc.
func (Model) Infer(ctx context.Context, inputs map[string]*tensor.Buffer, alloc tensor.Allocator) (map[string]*tensor.Buffer, error) {
	out := make(map[string]*tensor.Buffer, len(inputs))
	for name, in := range inputs {
		data, err := in.Data()
		if err != nil {
			return out, fmt.Errorf("identity input %q: %w", name, err)
		}
		buf, err := alloc.Allocate(name, in.Shape(), in.Precision(), len(data))
		if err != nil {
			return out, err
		}
		dst, err := buf.Data()
		if err != nil {
			return out, err
		}
		copy(dst, data)
		out[name] = buf
	}
	ctxlog.FromContext(ctx).Debug("Identity model copied inputs.", "count", len(out))
	return out, nil
}

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the model with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterModel(Name, Model{})
}
