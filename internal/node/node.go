package node

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/inputhandler"
	"github.com/vk/gridflow/internal/sessionmeta"
	"github.com/vk/gridflow/internal/tensor"
)

// Kind distinguishes the closed set of node variants.
type Kind int

const (
	// EntryKind nodes publish the request's input tensors.
	EntryKind Kind = iota
	// ModelKind nodes delegate compute to an external Model.
	ModelKind
	// CustomKind nodes delegate compute to a library through the plugin ABI.
	CustomKind
	// ExitKind nodes collect the pipeline's response tensors.
	ExitKind
)

func (k Kind) String() string {
	switch k {
	case EntryKind:
		return "entry"
	case ModelKind:
		return "model"
	case CustomKind:
		return "custom"
	case ExitKind:
		return "exit"
	default:
		return "unknown"
	}
}

// DynamicDemultiply takes the shard count from the leading dimension of the
// outputs instead of a fixed configuration value.
const DynamicDemultiply = -1

// Mapping maps a producer's output alias to the consumer's input name.
type Mapping map[string]string

// step is the compute behaviour of one node kind.
type step interface {
	// execute runs the compute for a ready session and stores its outputs.
	execute(ctx context.Context, n *Node, s *Session) error
	// output returns the session's buffer for a required output alias.
	output(n *Node, s *Session, alias string) (*tensor.Buffer, error)
	// plugin returns the library whose output array the session releases.
	plugin() abi.Plugin
}

// Option configures a Node at construction.
type Option func(*Node)

// WithAllocator sets the allocator used for locally produced buffers.
func WithAllocator(alloc tensor.Allocator) Option {
	return func(n *Node) { n.alloc = alloc }
}

// WithDemultiply splits every output along its leading dimension into count
// shards, each continuing downstream in its own session. Use
// DynamicDemultiply to take the count from the outputs.
func WithDemultiply(count int) Option {
	return func(n *Node) { n.demultiply = count }
}

// WithGatherFrom makes the node consolidate the shards produced by the named
// demultiplexing node before executing.
func WithGatherFrom(demultiplexer string) Option {
	return func(n *Node) { n.gatherFrom = demultiplexer }
}

// Node is a vertex of the pipeline graph.
type Node struct {
	name       string
	kind       Kind
	step       step
	alloc      tensor.Allocator
	demultiply int
	gatherFrom string

	prev     []*Node
	next     []*Node
	mappings map[string]Mapping

	mu       sync.Mutex
	sessions map[string]*Session
}

func newNode(name string, kind Kind, s step, opts []Option) *Node {
	n := &Node{
		name:     name,
		kind:     kind,
		step:     s,
		alloc:    tensor.HeapAllocator{},
		mappings: make(map[string]Mapping),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the node's unique name within its pipeline.
func (n *Node) Name() string { return n.name }

// Kind returns the node's variant.
func (n *Node) Kind() Kind { return n.kind }

// Demultiply returns the configured shard count, 0 when the node does not
// demultiply.
func (n *Node) Demultiply() int { return n.demultiply }

// GatherFrom returns the demultiplexer this node gathers, if any.
func (n *Node) GatherFrom() string { return n.gatherFrom }

// Prev returns the upstream producers in connection order.
func (n *Node) Prev() []*Node { return append([]*Node(nil), n.prev...) }

// Next returns the downstream consumers in connection order.
func (n *Node) Next() []*Node { return append([]*Node(nil), n.next...) }

// MappingFrom returns the aliasing applied to outputs of the named producer.
func (n *Node) MappingFrom(producer string) (Mapping, bool) {
	m, ok := n.mappings[producer]
	return m, ok
}

// Connect adds an edge from producer to consumer. Edges must all be added
// before any session is created.
func Connect(producer, consumer *Node, mapping Mapping) error {
	if producer == consumer {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", producer.name, producer.name)
	}
	if _, exists := consumer.mappings[producer.name]; exists {
		return fmt.Errorf("duplicate edge %s -> %s", producer.name, consumer.name)
	}
	seen := make(map[string]string, len(mapping))
	for alias, input := range mapping {
		if other, dup := seen[input]; dup {
			return fmt.Errorf("edge %s -> %s maps both %q and %q to input %q", producer.name, consumer.name, other, alias, input)
		}
		seen[input] = alias
	}
	for _, prev := range consumer.prev {
		for _, input := range consumer.mappings[prev.name] {
			if alias, dup := seen[input]; dup {
				return fmt.Errorf("input %q of %s fed by both %s and %s.%s", input, consumer.name, prev.name, producer.name, alias)
			}
		}
	}

	m := make(Mapping, len(mapping))
	for k, v := range mapping {
		m[k] = v
	}
	consumer.mappings[producer.name] = m
	consumer.prev = append(consumer.prev, producer)
	producer.next = append(producer.next, consumer)
	return nil
}

// Session returns the live session for key.
func (n *Node) Session(key string) (*Session, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[key]
	return s, ok
}

// SessionCount returns the number of live sessions.
func (n *Node) SessionCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sessions)
}

// session returns the session for meta, creating it on first use. shardCount
// is only used when creating a gather session.
func (n *Node) session(ctx context.Context, meta sessionmeta.Metadata, shardCount uint32) (*Session, error) {
	key := meta.Key()
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.sessions[key]; ok {
		return s, nil
	}

	var handler inputhandler.Handler
	if n.gatherFrom != "" {
		if shardCount == 0 {
			return nil, fmt.Errorf("node %s: gather session %s without shards", n.name, key)
		}
		handler = inputhandler.NewGather(ctx, len(n.prev), shardCount, n.alloc)
	} else {
		handler = inputhandler.New(len(n.prev))
	}
	s := newSession(meta, handler)
	n.sessions[key] = s
	ctxlog.FromContext(ctx).Debug("Created node session.", "node", n.name, "session", key, "dependencies", handler.Remaining())
	return s, nil
}

// takeSession removes and returns the session for key.
func (n *Node) takeSession(key string) (*Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s, ok := n.sessions[key]
	if !ok {
		return nil, fmt.Errorf("node %s session %s: %w", n.name, key, ErrSessionNotFound)
	}
	delete(n.sessions, key)
	return s, nil
}

// SetInputs delivers the outputs of one producer session to the consumer
// session selected by meta, then counts the producer as a finished
// dependency. It returns the key of the consumer session and whether this
// call observed it becoming ready. The caller keeps its references to
// outputs; the consumer takes its own.
func (n *Node) SetInputs(ctx context.Context, producer string, meta sessionmeta.Metadata, outputs map[string]*tensor.Buffer) (string, bool, error) {
	mapping, ok := n.mappings[producer]
	if !ok {
		return "", false, fmt.Errorf("node %s from %s: %w", n.name, producer, ErrUnknownProducer)
	}

	target := meta
	var shard sessionmeta.Shard
	if n.gatherFrom != "" {
		var err error
		target, shard, err = meta.Collapse(n.gatherFrom)
		if err != nil {
			return "", false, fmt.Errorf("node %s: %w", n.name, err)
		}
	}

	s, err := n.session(ctx, target, shard.Count)
	if err != nil {
		return "", false, err
	}
	if g, ok := s.inputs.(*inputhandler.GatherInputHandler); ok && g.ShardCount() != shard.Count {
		return "", false, fmt.Errorf("node %s session %s: %s delivered shard %d of %d, session gathers %d: %w",
			n.name, s.Key(), producer, shard.ID, shard.Count, g.ShardCount(), ErrShardCountMismatch)
	}

	aliases := make([]string, 0, len(mapping))
	for alias := range mapping {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		input := mapping[alias]
		buf, ok := outputs[alias]
		if !ok {
			return "", false, fmt.Errorf("node %s input %q from %s.%s: %w", n.name, input, producer, alias, ErrMissingOutput)
		}
		if err := buf.Retain(); err != nil {
			return "", false, err
		}
		if err := s.inputs.SetInput(input, buf, shard.ID); err != nil {
			_ = buf.Release()
			return "", false, fmt.Errorf("node %s session %s: %w", n.name, s.Key(), err)
		}
	}

	ready, err := s.inputs.NotifyFinishedDependency()
	if err != nil {
		if !ready {
			return "", false, fmt.Errorf("node %s session %s: %w", n.name, s.Key(), err)
		}
		// The session saw its last dependency but could not prepare its
		// inputs; it fails when executed so the failure travels through the
		// completion event like any other.
		s.setErr(fmt.Errorf("node %s session %s: %w", n.name, s.Key(), err))
	}
	return s.Key(), ready, nil
}

// Execute runs the compute step of the session for key and pushes exactly
// one completion event, on success and on failure. A session without
// dependencies is created on demand. Executing an already executed session
// is rejected without an event, since that session reports on its own.
func (n *Node) Execute(ctx context.Context, key string, queue *EventQueue) error {
	var s *Session
	if len(n.prev) == 0 {
		var err error
		if s, err = n.session(ctx, sessionmeta.New(key), 0); err != nil {
			return err
		}
	} else {
		var ok bool
		if s, ok = n.Session(key); !ok {
			return fmt.Errorf("node %s session %s: %w", n.name, key, ErrSessionNotFound)
		}
	}

	if !s.status.CompareAndSwap(int32(Pending), int32(Executing)) {
		return fmt.Errorf("node %s session %s: %w", n.name, key, ErrSessionAlreadyExecuted)
	}
	defer queue.Push(Event{Node: n, SessionKey: key})

	logger := ctxlog.FromContext(ctx).With("node", n.name, "kind", n.kind.String(), "session", key)
	ctx = ctxlog.WithLogger(ctx, logger)

	if err := s.Err(); err != nil {
		s.fail(err)
		logger.Error("Node session failed before execution.", "error", err)
		return err
	}
	if remaining := s.inputs.Remaining(); remaining != 0 {
		err := fmt.Errorf("node %s session %s: %d left: %w", n.name, key, remaining, ErrSessionNotReady)
		s.fail(err)
		return err
	}

	logger.Debug("Executing node session.")
	if err := n.step.execute(ctx, n, s); err != nil {
		s.fail(err)
		logger.Error("Node session execution failed.", "error", err)
		return err
	}
	s.succeed()
	logger.Debug("Node session execution succeeded.")
	return nil
}

// requiredOutputs lists the output aliases consumed downstream. Exit nodes
// have no consumers and hand over everything they hold.
func (n *Node) requiredOutputs(s *Session) []string {
	if n.kind == ExitKind {
		return s.outputNames()
	}
	seen := make(map[string]struct{})
	var out []string
	for _, consumer := range n.next {
		for alias := range consumer.mappings[n.name] {
			if _, ok := seen[alias]; !ok {
				seen[alias] = struct{}{}
				out = append(out, alias)
			}
		}
	}
	sort.Strings(out)
	return out
}

// FetchResults records the outputs of a finished session in results and
// releases the session. It may be called once per session; the session is
// removed from the node whatever the outcome, so a repeated call fails with
// ErrSessionNotFound. On error nothing is recorded for the session.
func (n *Node) FetchResults(ctx context.Context, key string, results SessionResults) (err error) {
	s, err := n.takeSession(key)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := s.release(n.step.plugin()); relErr != nil {
			ctxlog.FromContext(ctx).Warn("Releasing node session failed.", "node", n.name, "session", key, "error", relErr)
			if err == nil {
				err = fmt.Errorf("node %s session %s: %w", n.name, key, relErr)
			}
		}
	}()

	switch st := s.Status(); st {
	case Succeeded:
	case Failed:
		return fmt.Errorf("node %s session %s: %w: %w", n.name, key, ErrSessionFailed, s.Err())
	default:
		return fmt.Errorf("node %s session %s is %s: %w", n.name, key, st, ErrSessionFailed)
	}

	produced := make(map[string]*tensor.Buffer)
	for _, alias := range n.requiredOutputs(s) {
		buf, err := n.step.output(n, s, alias)
		if err != nil {
			releaseAll(produced)
			return err
		}
		produced[alias] = buf
	}

	if n.demultiply != 0 {
		return n.recordShards(ctx, s, produced, results)
	}
	if err := results.add(s.meta, produced); err != nil {
		releaseAll(produced)
		return err
	}
	return nil
}

// recordShards splits every produced buffer along its leading dimension and
// records one result per shard.
func (n *Node) recordShards(ctx context.Context, s *Session, produced map[string]*tensor.Buffer, results SessionResults) error {
	defer releaseAll(produced)

	count := n.demultiply
	names := inputhandler.SortedNames(produced)
	if count == DynamicDemultiply {
		if len(names) == 0 {
			return fmt.Errorf("node %s: no outputs to take a shard count from: %w", n.name, ErrDemultiply)
		}
		shape := produced[names[0]].Shape()
		if len(shape) == 0 || shape[0] == 0 {
			return fmt.Errorf("node %s output %q has shape %s: %w", n.name, names[0], shape, ErrDemultiply)
		}
		if shape[0] > math.MaxUint32 {
			return fmt.Errorf("node %s output %q: leading dimension %d exceeds the shard limit: %w", n.name, names[0], shape[0], ErrDemultiply)
		}
		count = int(shape[0])
	}

	subs, err := s.meta.Demultiply(n.name, uint32(count))
	if err != nil {
		return fmt.Errorf("node %s: %w: %w", n.name, ErrDemultiply, err)
	}
	shards := make([]map[string]*tensor.Buffer, count)
	for i := range shards {
		shards[i] = make(map[string]*tensor.Buffer, len(names))
	}
	for _, name := range names {
		parts, err := tensor.Split(produced[name], count, n.alloc)
		if err != nil {
			for _, m := range shards {
				releaseAll(m)
			}
			return fmt.Errorf("node %s output %q: %w: %w", n.name, name, ErrDemultiply, err)
		}
		for i, p := range parts {
			shards[i][name] = p
		}
	}

	for i, sub := range subs {
		if err := results.add(sub, shards[i]); err != nil {
			for _, m := range shards[i:] {
				releaseAll(m)
			}
			return err
		}
	}
	ctxlog.FromContext(ctx).Debug("Demultiplexed node outputs.", "node", n.name, "session", s.Key(), "shards", count)
	return nil
}

// SetRequest creates the entry session for meta and stores the request
// tensors as its inputs. The caller keeps its references.
func (n *Node) SetRequest(ctx context.Context, meta sessionmeta.Metadata, inputs map[string]*tensor.Buffer) error {
	if n.kind != EntryKind {
		return fmt.Errorf("node %s is %s, not an entry node", n.name, n.kind)
	}
	s, err := n.session(ctx, meta, 0)
	if err != nil {
		return err
	}
	for _, name := range inputhandler.SortedNames(inputs) {
		buf := inputs[name]
		if err := buf.Retain(); err != nil {
			return err
		}
		if err := s.inputs.SetInput(name, buf, 0); err != nil {
			_ = buf.Release()
			return err
		}
	}
	return nil
}

// ReleaseRequest drops every live session that belongs to requestKey. It is
// used to clean up after a failed or cancelled run; sessions must not be
// executing.
func (n *Node) ReleaseRequest(ctx context.Context, requestKey string) {
	n.mu.Lock()
	var stale []*Session
	for key, s := range n.sessions {
		if s.meta.RequestKey() == requestKey {
			stale = append(stale, s)
			delete(n.sessions, key)
		}
	}
	n.mu.Unlock()

	for _, s := range stale {
		if err := s.release(n.step.plugin()); err != nil {
			ctxlog.FromContext(ctx).Warn("Releasing abandoned node session failed.", "node", n.name, "session", s.Key(), "error", err)
		}
	}
}
