package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/metrics"
	"github.com/vk/gridflow/internal/node"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
	"github.com/vk/gridflow/modules/addition"
	"github.com/vk/gridflow/modules/addsub"
	"github.com/vk/gridflow/modules/identity"
)

type testModules struct {
	reg      *registry.Registry
	addition *addition.Module
	addsub   *addsub.Module
}

func newTestModules() *testModules {
	m := &testModules{reg: registry.New(), addition: &addition.Module{}, addsub: &addsub.Module{}}
	m.addition.Register(m.reg)
	m.addsub.Register(m.reg)
	(&identity.Module{}).Register(m.reg)
	return m
}

func (m *testModules) outstanding() int64 {
	return m.addition.Plugin().Outstanding() + m.addsub.Plugin().Outstanding()
}

func build(t *testing.T, m *testModules, def *config.Pipeline, opts ...Option) *Pipeline {
	t.Helper()
	p, err := Build(context.Background(), def, m.reg, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func fp32(t *testing.T, name string, shape tensor.Shape, values ...float64) *tensor.Buffer {
	t.Helper()
	data, err := tensor.Encode(tensor.FP32, values)
	require.NoError(t, err)
	return tensor.New(name, shape, tensor.FP32, data)
}

func values(t *testing.T, b *tensor.Buffer) []float64 {
	t.Helper()
	data, err := b.Data()
	require.NoError(t, err)
	v, err := tensor.Decode(b.Precision(), data)
	require.NoError(t, err)
	return v
}

func entry() *config.Node { return &config.Node{Kind: config.KindEntry, Name: "request"} }

func exit(from string, mapping map[string]string) *config.Node {
	return &config.Node{Kind: config.KindExit, Name: "response", Inputs: []*config.Input{{From: from, Mapping: mapping}}}
}

func addsubNode(name, from, input string, add, sub string) *config.Node {
	return &config.Node{
		Kind:    config.KindCustom,
		Name:    name,
		Library: addsub.Name,
		Params:  []config.Param{{Key: "add_value", Value: add}, {Key: "sub_value", Value: sub}},
		Inputs:  []*config.Input{{From: from, Mapping: map[string]string{input: addsub.InputName}}},
	}
}

func sumPipeline() *config.Pipeline {
	return &config.Pipeline{Name: "sum", Nodes: []*config.Node{
		entry(),
		{
			Kind:        config.KindCustom,
			Name:        "adder",
			Library:     addition.Name,
			Params:      []config.Param{{Key: "add_value_1", Value: "2"}, {Key: "add_value_2", Value: "3"}},
			OutputAlias: map[string]string{"total": addition.OutputName},
			Inputs:      []*config.Input{{From: "request", Mapping: map[string]string{"a": "a", "b": "b"}}},
		},
		exit("adder", map[string]string{"total": "result"}),
	}}
}

// diamondPipeline computes (x + 10) + (x - 1) + 0 through two branches.
func diamondPipeline() *config.Pipeline {
	return &config.Pipeline{Name: "diamond", Nodes: []*config.Node{
		entry(),
		addsubNode("plus", "request", "x", "10", "0"),
		addsubNode("minus", "request", "x", "0", "1"),
		{
			Kind:    config.KindCustom,
			Name:    "join",
			Library: addition.Name,
			Inputs: []*config.Input{
				{From: "plus", Mapping: map[string]string{addsub.OutputName: "left"}},
				{From: "minus", Mapping: map[string]string{addsub.OutputName: "right"}},
			},
		},
		exit("join", map[string]string{addition.OutputName: "result"}),
	}}
}

func TestExecute_Sum(t *testing.T) {
	m := newTestModules()
	p := build(t, m, sumPipeline())

	a, b := fp32(t, "a", tensor.Shape{1, 2}, 1, 2), fp32(t, "b", tensor.Shape{1, 2}, 10, 20)
	resp, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"a": a, "b": b})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.RequestKey)
	assert.Equal(t, []string{"result"}, resp.Names())
	assert.Equal(t, []float64{16, 27}, values(t, resp.Outputs["result"]))
	assert.Equal(t, tensor.OwnerPlugin, resp.Outputs["result"].Owner())

	assert.Equal(t, int64(1), m.outstanding(), "the response still holds the library output")
	resp.Release()
	assert.Zero(t, m.outstanding())

	for _, n := range p.Nodes() {
		assert.Zero(t, n.SessionCount(), "node %s", n.Name())
	}
	assert.False(t, a.Released(), "request inputs stay with the caller")
}

func TestExecute_Diamond(t *testing.T) {
	m := newTestModules()
	p := build(t, m, diamondPipeline(), WithWorkers(4))

	x := fp32(t, "x", tensor.Shape{3}, 1, 2, 3)
	resp, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"x": x})
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 13, 15}, values(t, resp.Outputs["result"]))
	resp.Release()
	assert.Zero(t, m.outstanding())
}

func TestExecute_ConcurrentRequests(t *testing.T) {
	m := newTestModules()
	p := build(t, m, diamondPipeline(), WithWorkers(3))

	const requests = 20
	var wg sync.WaitGroup
	wg.Add(requests)
	for i := 0; i < requests; i++ {
		go func(i int) {
			defer wg.Done()
			x := fp32(t, "x", tensor.Shape{1}, float64(i))
			resp, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"x": x})
			if !assert.NoError(t, err) {
				return
			}
			data, err := resp.Outputs["result"].Data()
			assert.NoError(t, err)
			got, err := tensor.Decode(tensor.FP32, data)
			assert.NoError(t, err)
			assert.Equal(t, []float64{float64(2*i + 9)}, got)
			resp.Release()
		}(i)
	}
	wg.Wait()
	assert.Zero(t, m.outstanding())
}

func TestExecute_DemultiplyAndGather(t *testing.T) {
	m := newTestModules()
	def := &config.Pipeline{Name: "shards", Nodes: []*config.Node{
		{Kind: config.KindEntry, Name: "request", Demultiply: node.DynamicDemultiply},
		{
			Kind:   config.KindModel,
			Name:   "copy",
			Model:  identity.Name,
			Inputs: []*config.Input{{From: "request", Mapping: map[string]string{"x": "x"}}},
		},
		addsubNode("shift", "copy", "x", "100", "0"),
		{
			Kind:       config.KindExit,
			Name:       "response",
			GatherFrom: "request",
			Inputs:     []*config.Input{{From: "shift", Mapping: map[string]string{addsub.OutputName: "y"}}},
		},
	}}
	p := build(t, m, def)

	x := fp32(t, "x", tensor.Shape{3, 2}, 1, 2, 3, 4, 5, 6)
	resp, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"x": x})
	require.NoError(t, err)
	y := resp.Outputs["y"]
	assert.Equal(t, tensor.Shape{3, 2}, y.Shape())
	assert.Equal(t, []float64{101, 102, 103, 104, 105, 106}, values(t, y))
	resp.Release()
	assert.Zero(t, m.outstanding())
}

func TestExecute_LibraryFailureReleasesEverything(t *testing.T) {
	m := newTestModules()
	def := diamondPipeline()
	// "minus" gets its input under a name the library does not know.
	def.Nodes[2] = addsubNode("minus", "request", "x", "0", "1")
	def.Nodes[2].Inputs[0].Mapping = map[string]string{"x": "wrong_name"}
	p := build(t, m, def)

	_, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"x": fp32(t, "x", tensor.Shape{1}, 1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, node.ErrLibraryExecutionFailed)

	for _, n := range p.Nodes() {
		assert.Zero(t, n.SessionCount(), "node %s", n.Name())
	}
	assert.Zero(t, m.outstanding())
}

func TestExecute_MissingOutput(t *testing.T) {
	m := newTestModules()
	def := sumPipeline()
	def.Nodes[2] = exit("adder", map[string]string{"nonexistent": "result"})
	p := build(t, m, def)

	_, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"a": fp32(t, "a", tensor.Shape{1}, 1)})
	assert.ErrorIs(t, err, node.ErrMissingOutput)
	assert.Zero(t, m.outstanding())
}

func TestExecute_CancelledContext(t *testing.T) {
	m := newTestModules()
	p := build(t, m, diamondPipeline())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Execute(ctx, map[string]*tensor.Buffer{"x": fp32(t, "x", tensor.Shape{1}, 1)})
	assert.ErrorIs(t, err, context.Canceled)
	for _, n := range p.Nodes() {
		assert.Zero(t, n.SessionCount(), "node %s", n.Name())
	}
}

func TestExecute_Closed(t *testing.T) {
	m := newTestModules()
	p := build(t, m, sumPipeline())
	p.Close()
	p.Close()

	_, err := p.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestExecute_Metrics(t *testing.T) {
	m := newTestModules()
	met := metrics.New("sum")
	p := build(t, m, sumPipeline(), WithMetrics(met))

	resp, err := p.Execute(context.Background(), map[string]*tensor.Buffer{"a": fp32(t, "a", tensor.Shape{1}, 1)})
	require.NoError(t, err)
	resp.Release()

	families, err := met.Registry().Gather()
	require.NoError(t, err)
	var sessions float64
	for _, f := range families {
		if f.GetName() != "gridflow_node_sessions_total" {
			continue
		}
		for _, s := range f.GetMetric() {
			sessions += s.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 3.0, sessions, "one session per node")
}

func TestBuild_Validation(t *testing.T) {
	custom := func(name string, inputs ...*config.Input) *config.Node {
		return &config.Node{Kind: config.KindCustom, Name: name, Library: addition.Name, Inputs: inputs}
	}
	from := func(name string) *config.Input {
		return &config.Input{From: name, Mapping: map[string]string{addition.OutputName: fmt.Sprintf("from_%s", name)}}
	}

	tests := []struct {
		name  string
		nodes []*config.Node
		want  string
	}{
		{"no entry", []*config.Node{exit("x", nil)}, "no entry node"},
		{"no exit", []*config.Node{entry()}, "no exit node"},
		{"two entries", []*config.Node{entry(), {Kind: config.KindEntry, Name: "other"}}, "second entry node"},
		{"duplicate name", []*config.Node{entry(), custom("request", from("request"))}, "duplicate node name"},
		{"unknown library", []*config.Node{entry(), {Kind: config.KindCustom, Name: "c", Library: "nope"}}, "not registered"},
		{"unknown input", []*config.Node{entry(), exit("ghost", nil)}, "unknown node"},
		{"no inputs", []*config.Node{entry(), custom("c"), exit("request", nil)}, "has no inputs"},
		{"cycle", []*config.Node{entry(), custom("a", from("request"), from("b")), custom("b", from("a")), exit("b", nil)}, "cycle detected"},
		{"exit feeds", []*config.Node{entry(), exit("request", nil), custom("c", from("response"))}, "cannot feed"},
		{"bad demultiply", []*config.Node{{Kind: config.KindEntry, Name: "request", Demultiply: -2}}, "demultiply"},
		{"ungathered shards", []*config.Node{{Kind: config.KindEntry, Name: "request", Demultiply: 2}, exit("request", nil)}, "never gathered"},
		{"gather without demultiply", []*config.Node{entry(), {Kind: config.KindExit, Name: "response", GatherFrom: "request", Inputs: []*config.Input{from("request")}}}, "does not demultiply"},
		{"mixed shard levels", []*config.Node{
			{Kind: config.KindEntry, Name: "request", Demultiply: 2},
			{Kind: config.KindModel, Name: "flat", Model: identity.Name, GatherFrom: "request", Inputs: []*config.Input{from("request")}},
			custom("join", from("request"), from("flat")),
			exit("join", nil),
		}, "different shard levels"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(context.Background(), &config.Pipeline{Name: "p", Nodes: tt.nodes}, newTestModules().reg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPipeline)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRequestInputs(t *testing.T) {
	bufs, err := RequestInputs(&config.Request{Tensors: []*config.Tensor{
		{Name: "a", Shape: []uint64{1, 2}, Precision: "FP32", Data: []float64{1, 2}},
	}})
	require.NoError(t, err)
	require.Contains(t, bufs, "a")
	assert.Equal(t, tensor.Shape{1, 2}, bufs["a"].Shape())
	assert.Equal(t, []float64{1, 2}, values(t, bufs["a"]))

	bad := []*config.Tensor{
		{Name: "a", Shape: []uint64{3}, Precision: "FP32", Data: []float64{1}},
		{Name: "a", Shape: []uint64{1}, Precision: "BF16", Data: []float64{1}},
		{Name: "a", Shape: []uint64{1}, Precision: "FP16", Data: []float64{1}},
	}
	for _, tensorDef := range bad {
		_, err := RequestInputs(&config.Request{Tensors: []*config.Tensor{tensorDef}})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}

	_, err = RequestInputs(&config.Request{Tensors: []*config.Tensor{
		{Name: "a", Shape: []uint64{1}, Precision: "U8", Data: []float64{1}},
		{Name: "a", Shape: []uint64{1}, Precision: "U8", Data: []float64{1}},
	}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
