package node

import (
	"context"
	"fmt"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/inputhandler"
	"github.com/vk/gridflow/internal/tensor"
)

// Model performs the numeric compute of a standard node. Infer must not keep
// references to inputs past its return; every returned buffer carries one
// reference that the session takes over.
type Model interface {
	Infer(ctx context.Context, inputs map[string]*tensor.Buffer, alloc tensor.Allocator) (map[string]*tensor.Buffer, error)
}

// NewEntry creates the node that publishes a request's input tensors.
func NewEntry(name string, opts ...Option) *Node {
	return newNode(name, EntryKind, passthroughStep{}, opts)
}

// NewExit creates the node whose inputs become the pipeline response.
func NewExit(name string, opts ...Option) *Node {
	return newNode(name, ExitKind, passthroughStep{}, opts)
}

// NewModel creates a standard node backed by model.
func NewModel(name string, model Model, opts ...Option) *Node {
	return newNode(name, ModelKind, &modelStep{model: model}, opts)
}

// passthroughStep republishes the session's inputs as its outputs.
type passthroughStep struct{}

func (passthroughStep) execute(_ context.Context, _ *Node, s *Session) error {
	inputs := s.inputs.Inputs()
	for _, name := range inputhandler.SortedNames(inputs) {
		buf := inputs[name]
		if err := buf.Retain(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		s.setOutput(name, buf)
	}
	return nil
}

func (passthroughStep) output(n *Node, s *Session, alias string) (*tensor.Buffer, error) {
	return retainedOutput(n, s, alias)
}

func (passthroughStep) plugin() abi.Plugin { return nil }

type modelStep struct {
	model Model
}

func (m *modelStep) execute(ctx context.Context, n *Node, s *Session) error {
	outputs, err := m.model.Infer(ctx, s.inputs.Inputs(), n.alloc)
	if err != nil {
		releaseAll(outputs)
		return fmt.Errorf("node %s model: %w", n.name, err)
	}
	for name, buf := range outputs {
		s.setOutput(name, buf)
	}
	return nil
}

func (m *modelStep) output(n *Node, s *Session, alias string) (*tensor.Buffer, error) {
	return retainedOutput(n, s, alias)
}

func (m *modelStep) plugin() abi.Plugin { return nil }

// retainedOutput returns a new reference to a stored output.
func retainedOutput(n *Node, s *Session, name string) (*tensor.Buffer, error) {
	buf, ok := s.output(name)
	if !ok {
		return nil, fmt.Errorf("node %s session %s output %q: %w", n.name, s.Key(), name, ErrMissingOutput)
	}
	if err := buf.Retain(); err != nil {
		return nil, fmt.Errorf("node %s output %q: %w", n.name, name, err)
	}
	return buf, nil
}
