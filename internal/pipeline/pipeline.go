package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/vk/gridflow/internal/metrics"
	"github.com/vk/gridflow/internal/node"
	"github.com/vk/gridflow/internal/sessionmeta"
	"github.com/vk/gridflow/internal/tensor"
)

// Pipeline is a validated node graph bound to a worker pool. Execute may be
// called concurrently; requests share nothing but the pool.
type Pipeline struct {
	name    string
	nodes   map[string]*node.Node
	order   []*node.Node
	entry   *node.Node
	exit    *node.Node
	workers int
	alloc   tensor.Allocator
	metrics *metrics.Metrics
	pool    *ants.Pool
	closed  atomic.Bool
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Node returns the named node.
func (p *Pipeline) Node(name string) (*node.Node, bool) {
	n, ok := p.nodes[name]
	return n, ok
}

// Nodes returns all nodes with producers before consumers.
func (p *Pipeline) Nodes() []*node.Node {
	return append([]*node.Node(nil), p.order...)
}

// Close releases the worker pool. Requests in flight are not interrupted.
func (p *Pipeline) Close() {
	if p.closed.CompareAndSwap(false, true) {
		p.pool.Release()
	}
}

// request is the scheduler state of one Execute call. It is only touched by
// the goroutine running Execute.
type request struct {
	p        *Pipeline
	key      string
	queue    *node.EventQueue
	inFlight int
	started  map[node.Event]time.Time
	response *Response
}

// Execute runs one request. inputs are the entry node's tensors; the caller
// keeps its references to them. On success the caller owns the returned
// Response and must Release it.
func (p *Pipeline) Execute(ctx context.Context, inputs map[string]*tensor.Buffer) (resp *Response, err error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	r := &request{
		p:       p,
		key:     uuid.NewString(),
		queue:   node.NewEventQueue(),
		started: make(map[node.Event]time.Time),
	}
	logger := ctxlog.FromContext(ctx).With("pipeline", p.name, "request", r.key)
	ctx = ctxlog.WithLogger(ctx, logger)

	if p.metrics != nil {
		finish := p.metrics.RequestStarted()
		defer func() { finish(err) }()
	}

	logger.Debug("Request started.", "inputs", len(inputs))
	if err := p.entry.SetRequest(ctx, sessionmeta.New(r.key), inputs); err != nil {
		r.abort(ctx)
		return nil, err
	}
	if err := r.dispatch(ctx, p.entry, r.key); err != nil {
		r.abort(ctx)
		return nil, err
	}

	if err := r.loop(ctx); err != nil {
		logger.Error("Request failed.", "error", err)
		r.abort(ctx)
		return nil, err
	}
	if r.response == nil {
		r.abort(ctx)
		return nil, ErrNoResponse
	}
	logger.Debug("Request finished.", "outputs", len(r.response.Outputs))
	return r.response, nil
}

// loop handles completion events until no session is in flight.
func (r *request) loop(ctx context.Context) error {
	for r.inFlight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := r.queue.Pop(ctx)
		if err != nil {
			return err
		}
		r.inFlight--
		if err := r.handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// dispatch submits one ready session to the worker pool. The session pushes
// its completion event whatever the outcome; when it cannot report itself,
// the worker pushes on its behalf so that the in-flight count stays exact.
func (r *request) dispatch(ctx context.Context, n *node.Node, key string) error {
	ev := node.Event{Node: n, SessionKey: key}
	queue := r.queue
	err := r.p.pool.Submit(func() {
		err := n.Execute(ctx, key, queue)
		if errors.Is(err, node.ErrSessionNotFound) || errors.Is(err, node.ErrSessionAlreadyExecuted) {
			queue.Push(ev)
		}
	})
	if err != nil {
		return fmt.Errorf("submitting node %s session %s: %w", n.Name(), key, err)
	}
	r.inFlight++
	r.started[ev] = time.Now()
	return nil
}

// handle fetches the results of a finished session and delivers them to
// every consumer, dispatching the sessions that become ready.
func (r *request) handle(ctx context.Context, ev node.Event) error {
	n := ev.Node
	r.observe(ev)

	results := node.SessionResults{}
	if err := n.FetchResults(ctx, ev.SessionKey, results); err != nil {
		results.Release()
		return err
	}

	if n == r.p.exit {
		res, ok := results[r.key]
		if !ok || len(results) != 1 {
			results.Release()
			return fmt.Errorf("exit node %s produced session %s outside the request root", n.Name(), ev.SessionKey)
		}
		r.response = &Response{RequestKey: r.key, Outputs: res.Outputs}
		return nil
	}
	defer results.Release()

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, consumer := range n.Next() {
		for _, k := range keys {
			res := results[k]
			key, ready, err := consumer.SetInputs(ctx, n.Name(), res.Metadata, res.Outputs)
			if err != nil {
				return err
			}
			if ready {
				if err := r.dispatch(ctx, consumer, key); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *request) observe(ev node.Event) {
	started, ok := r.started[ev]
	delete(r.started, ev)
	if r.p.metrics == nil || !ok {
		return
	}
	var err error
	if s, found := ev.Node.Session(ev.SessionKey); found {
		if s.Status() != node.Succeeded {
			err = s.Err()
			if err == nil {
				err = node.ErrSessionFailed
			}
		}
	}
	r.p.metrics.ObserveSession(ev.Node.Name(), time.Since(started), err)
}

// abort waits for every session still in flight, then drops all sessions of
// the request and any collected response.
func (r *request) abort(ctx context.Context) {
	for r.inFlight > 0 {
		ev, err := r.queue.Pop(context.WithoutCancel(ctx))
		if err != nil {
			break
		}
		r.inFlight--
		r.observe(ev)
	}
	for _, n := range r.p.order {
		n.ReleaseRequest(ctx, r.key)
	}
	if r.response != nil {
		r.response.Release()
		r.response = nil
	}
}
