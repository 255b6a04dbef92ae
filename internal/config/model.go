package config

import (
	"fmt"
	"sort"
)

// Node kinds as written in configuration.
const (
	KindEntry  = "entry"
	KindModel  = "model"
	KindCustom = "custom"
	KindExit   = "exit"
)

// Model is every pipeline definition found by a loader, keyed by name.
type Model struct {
	Pipelines map[string]*Pipeline
}

// Pipeline returns the named pipeline, or the only one when name is empty.
func (m *Model) Pipeline(name string) (*Pipeline, error) {
	if name != "" {
		p, ok := m.Pipelines[name]
		if !ok {
			return nil, fmt.Errorf("pipeline %q not defined", name)
		}
		return p, nil
	}
	if len(m.Pipelines) != 1 {
		names := make([]string, 0, len(m.Pipelines))
		for n := range m.Pipelines {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("expected exactly one pipeline, found %d %v", len(names), names)
	}
	for _, p := range m.Pipelines {
		return p, nil
	}
	return nil, nil
}

// Pipeline is the format-agnostic representation of a `pipeline` block.
type Pipeline struct {
	Name  string
	Nodes []*Node
}

// Node is one vertex definition.
type Node struct {
	Kind string
	Name string
	// Library names the registered plugin of a custom node.
	Library string
	// Model names the registered model of a model node.
	Model string
	// Params are the static parameters of a custom node, ordered by key.
	Params []Param
	// OutputAlias renames library outputs: alias -> library output name.
	OutputAlias map[string]string
	// Demultiply splits outputs into shards; 0 disables, -1 takes the count
	// from the leading dimension.
	Demultiply int
	// GatherFrom names the demultiplexing node whose shards are collapsed.
	GatherFrom string
	Inputs     []*Input
}

// Input is one incoming edge: the producer and the aliasing from its output
// names to this node's input names.
type Input struct {
	From    string
	Mapping map[string]string
}

// Param is one static key/value parameter.
type Param struct {
	Key   string
	Value string
}

// Request is the format-agnostic representation of a request document.
type Request struct {
	Tensors []*Tensor
}

// Tensor is one named request input with numeric values.
type Tensor struct {
	Name      string
	Shape     []uint64
	Precision string
	Data      []float64
}
