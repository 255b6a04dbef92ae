package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/tensor"
)

type nopPlugin struct{}

func (nopPlugin) Execute([]abi.Tensor, []abi.Param) ([]abi.Tensor, int) { return nil, 0 }
func (nopPlugin) ReleaseBuffer(*abi.Tensor) int                         { return 0 }
func (nopPlugin) ReleaseTensors([]abi.Tensor) int                       { return 0 }

type nopModel struct{}

func (nopModel) Infer(context.Context, map[string]*tensor.Buffer, tensor.Allocator) (map[string]*tensor.Buffer, error) {
	return nil, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	r.RegisterLibrary("b", nopPlugin{})
	r.RegisterLibrary("a", nopPlugin{})
	r.RegisterModel("m", nopModel{})

	_, ok := r.Library("a")
	assert.True(t, ok)
	_, ok = r.Library("zzz")
	assert.False(t, ok)
	_, ok = r.Model("m")
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, r.Libraries())
	assert.Equal(t, []string{"m"}, r.Models())

	assert.Panics(t, func() { r.RegisterLibrary("a", nopPlugin{}) })
	assert.Panics(t, func() { r.RegisterModel("m", nopModel{}) })
}

func TestRegistry_Validate(t *testing.T) {
	r := New()
	r.RegisterLibrary("addition", nopPlugin{})
	r.RegisterModel("identity", nopModel{})

	good := &config.Model{Pipelines: map[string]*config.Pipeline{
		"p": {Name: "p", Nodes: []*config.Node{
			{Kind: config.KindEntry, Name: "request"},
			{Kind: config.KindCustom, Name: "c", Library: "addition"},
			{Kind: config.KindModel, Name: "m", Model: "identity"},
			{Kind: config.KindExit, Name: "response"},
		}},
	}}
	require.NoError(t, r.Validate(context.Background(), good))

	bad := &config.Model{Pipelines: map[string]*config.Pipeline{
		"p": {Name: "p", Nodes: []*config.Node{
			{Kind: config.KindCustom, Name: "c1", Library: "missing"},
			{Kind: config.KindCustom, Name: "c2"},
			{Kind: config.KindModel, Name: "m", Model: "missing"},
		}},
	}}
	err := r.Validate(context.Background(), bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "library 'missing' is not registered")
	assert.Contains(t, err.Error(), "custom node has no library")
	assert.Contains(t, err.Error(), "model 'missing' is not registered")
}
