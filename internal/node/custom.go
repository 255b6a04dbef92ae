package node

import (
	"context"
	"fmt"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/inputhandler"
	"github.com/vk/gridflow/internal/tensor"
)

// NewCustom creates a node backed by a library speaking the plugin ABI.
// params are handed to every invocation in the given order. outputAliases
// renames library outputs for downstream edges: alias -> library output name.
func NewCustom(name string, plugin abi.Plugin, params []abi.Parameter, outputAliases map[string]string, opts ...Option) *Node {
	c := &customStep{
		lib:     plugin,
		params:  append([]abi.Parameter(nil), params...),
		aliases: make(map[string]string, len(outputAliases)),
	}
	for alias, real := range outputAliases {
		c.aliases[alias] = real
	}
	c.abiParams = abi.MarshalParams(c.params)
	return newNode(name, CustomKind, c, opts)
}

type customStep struct {
	lib     abi.Plugin
	params  []abi.Parameter
	aliases map[string]string
	// abiParams borrows from params and lives as long as the step.
	abiParams []abi.Param
}

func (c *customStep) plugin() abi.Plugin { return c.lib }

func (c *customStep) execute(ctx context.Context, n *Node, s *Session) error {
	inputs := s.inputs.Inputs()
	names := inputhandler.SortedNames(inputs)
	bufs := make([]*tensor.Buffer, len(names))
	for i, name := range names {
		bufs[i] = inputs[name]
	}
	descs, err := abi.MarshalBuffers(names, bufs)
	if err != nil {
		return fmt.Errorf("node %s: %w", n.name, err)
	}

	outputs, code := c.lib.Execute(descs, c.abiParams)

	// Kept on failure too: release returns every tensor to the library,
	// and a failed session never serves them.
	s.mu.Lock()
	s.pluginOutputs = outputs
	s.mu.Unlock()

	if code != 0 {
		if len(outputs) > 0 {
			ctxlog.FromContext(ctx).Warn("Library call failed with outputs; they will only be released.", "code", code, "outputs", len(outputs))
		}
		return fmt.Errorf("node %s returned code %d: %w", n.name, code, ErrLibraryExecutionFailed)
	}
	ctxlog.FromContext(ctx).Debug("Library call succeeded.", "inputs", len(descs), "outputs", len(outputs))
	return nil
}

// output scans the library's output array for the output behind alias and
// wraps it on first use. The wrapped buffer is cached on the session under
// the library output name so the library sees exactly one releaseBuffer per
// tensor however many aliases read it.
func (c *customStep) output(n *Node, s *Session, alias string) (*tensor.Buffer, error) {
	real := alias
	if r, ok := c.aliases[alias]; ok {
		real = r
	}

	s.mu.Lock()
	buf, ok := s.outputs[real]
	if !ok {
		for i := range s.pluginOutputs {
			if s.pluginOutputs[i].NameString() == real {
				buf = abi.WrapOutput(real, s.pluginOutputs[i], c.lib)
				s.outputs[real] = buf
				ok = true
				break
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("node %s session %s output %q (library name %q): %w", n.name, s.Key(), alias, real, ErrMissingOutput)
	}
	if err := buf.Retain(); err != nil {
		return nil, fmt.Errorf("node %s output %q: %w", n.name, alias, err)
	}
	return buf, nil
}
