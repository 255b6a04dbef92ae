package pipeline

import (
	"context"
	"fmt"
	"sort"

	"github.com/panjf2000/ants/v2"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/metrics"
	"github.com/vk/gridflow/internal/node"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
)

// DefaultWorkers is the worker pool size used when none is configured.
const DefaultWorkers = 8

// Option configures a Pipeline at build time.
type Option func(*Pipeline)

// WithWorkers sets the number of sessions that may execute concurrently.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithMetrics records session and request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithAllocator sets the allocator for buffers produced in-process.
func WithAllocator(alloc tensor.Allocator) Option {
	return func(p *Pipeline) { p.alloc = alloc }
}

// Build constructs and validates a pipeline from its definition.
func Build(ctx context.Context, def *config.Pipeline, r *registry.Registry, opts ...Option) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", def.Name)
	logger.Debug("Build: Starting pipeline construction.")

	p := &Pipeline{
		name:    def.Name,
		nodes:   make(map[string]*node.Node, len(def.Nodes)),
		workers: DefaultWorkers,
		alloc:   tensor.HeapAllocator{},
	}
	for _, opt := range opts {
		opt(p)
	}

	// First pass: create all nodes.
	for _, n := range def.Nodes {
		if err := p.createNode(n, r); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPipeline, def.Name, err)
		}
	}
	if p.entry == nil {
		return nil, fmt.Errorf("%w %q: no entry node", ErrInvalidPipeline, def.Name)
	}
	if p.exit == nil {
		return nil, fmt.Errorf("%w %q: no exit node", ErrInvalidPipeline, def.Name)
	}
	logger.Debug("Build: Node creation complete.", "node_count", len(p.nodes))

	// Second pass: link edges.
	for _, n := range def.Nodes {
		if err := p.linkNode(n); err != nil {
			return nil, fmt.Errorf("%w %q: %w", ErrInvalidPipeline, def.Name, err)
		}
	}
	logger.Debug("Build: Node linking complete.")

	order, err := p.topologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPipeline, def.Name, err)
	}
	p.order = order
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidPipeline, def.Name, err)
	}
	logger.Debug("Build: Validation passed.")

	pool, err := ants.NewPool(p.workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	p.pool = pool

	logger.Debug("Build: Pipeline construction successful.", "workers", p.workers)
	return p, nil
}

func (p *Pipeline) createNode(def *config.Node, r *registry.Registry) error {
	if def.Name == "" {
		return fmt.Errorf("node without a name")
	}
	if _, exists := p.nodes[def.Name]; exists {
		return fmt.Errorf("duplicate node name %q", def.Name)
	}
	if def.Demultiply < node.DynamicDemultiply {
		return fmt.Errorf("node %q: demultiply must be positive or %d, got %d", def.Name, node.DynamicDemultiply, def.Demultiply)
	}

	opts := []node.Option{node.WithAllocator(p.alloc)}
	if def.Demultiply != 0 {
		opts = append(opts, node.WithDemultiply(def.Demultiply))
	}
	if def.GatherFrom != "" {
		opts = append(opts, node.WithGatherFrom(def.GatherFrom))
	}

	var n *node.Node
	switch def.Kind {
	case config.KindEntry:
		if p.entry != nil {
			return fmt.Errorf("node %q: second entry node, %q already is one", def.Name, p.entry.Name())
		}
		if def.GatherFrom != "" {
			return fmt.Errorf("entry node %q cannot gather", def.Name)
		}
		n = node.NewEntry(def.Name, opts...)
		p.entry = n
	case config.KindExit:
		if p.exit != nil {
			return fmt.Errorf("node %q: second exit node, %q already is one", def.Name, p.exit.Name())
		}
		if def.Demultiply != 0 {
			return fmt.Errorf("exit node %q cannot demultiply", def.Name)
		}
		n = node.NewExit(def.Name, opts...)
		p.exit = n
	case config.KindModel:
		m, ok := r.Model(def.Model)
		if !ok {
			return fmt.Errorf("node %q: model %q is not registered", def.Name, def.Model)
		}
		n = node.NewModel(def.Name, m, opts...)
	case config.KindCustom:
		lib, ok := r.Library(def.Library)
		if !ok {
			return fmt.Errorf("node %q: library %q is not registered", def.Name, def.Library)
		}
		params := make([]abi.Parameter, len(def.Params))
		for i, prm := range def.Params {
			params[i] = abi.Parameter{Key: prm.Key, Value: prm.Value}
		}
		n = node.NewCustom(def.Name, lib, params, def.OutputAlias, opts...)
	default:
		return fmt.Errorf("node %q: unknown kind %q", def.Name, def.Kind)
	}
	p.nodes[def.Name] = n
	return nil
}

func (p *Pipeline) linkNode(def *config.Node) error {
	consumer := p.nodes[def.Name]
	if def.Kind == config.KindEntry && len(def.Inputs) > 0 {
		return fmt.Errorf("entry node %q cannot have inputs", def.Name)
	}
	if def.Kind != config.KindEntry && len(def.Inputs) == 0 {
		return fmt.Errorf("node %q has no inputs", def.Name)
	}
	for _, in := range def.Inputs {
		producer, ok := p.nodes[in.From]
		if !ok {
			return fmt.Errorf("node %q: input from unknown node %q", def.Name, in.From)
		}
		if producer == p.exit {
			return fmt.Errorf("node %q: exit node %q cannot feed other nodes", def.Name, in.From)
		}
		if err := node.Connect(producer, consumer, node.Mapping(in.Mapping)); err != nil {
			return err
		}
	}
	return nil
}

// topologicalOrder returns the nodes with every producer before its
// consumers, or an error naming a node on a cycle.
func (p *Pipeline) topologicalOrder() ([]*node.Node, error) {
	// Classic depth-first search with three sets of nodes:
	// permanent: fully visited and not part of a cycle.
	// temporary: on the recursion stack of the current traversal.
	// unvisited: everything else.
	permanent := make(map[*node.Node]bool)
	temporary := make(map[*node.Node]bool)
	var postorder []*node.Node

	var visit func(n *node.Node) error
	visit = func(n *node.Node) error {
		if permanent[n] {
			return nil
		}
		if temporary[n] {
			return fmt.Errorf("cycle detected involving node '%s'", n.Name())
		}
		temporary[n] = true
		for _, consumer := range n.Next() {
			if err := visit(consumer); err != nil {
				return err
			}
		}
		delete(temporary, n)
		permanent[n] = true
		postorder = append(postorder, n)
		return nil
	}

	names := make([]string, 0, len(p.nodes))
	for name := range p.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(p.nodes[name]); err != nil {
			return nil, err
		}
	}

	order := make([]*node.Node, len(postorder))
	for i, n := range postorder {
		order[len(postorder)-1-i] = n
	}
	return order, nil
}
