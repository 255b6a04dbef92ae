package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
)

func TestInfer_Copies(t *testing.T) {
	in := tensor.New("x", tensor.Shape{2}, tensor.U8, []byte{1, 2})
	out, err := Model{}.Infer(context.Background(), map[string]*tensor.Buffer{"x": in}, tensor.HeapAllocator{})
	require.NoError(t, err)
	require.Contains(t, out, "x")
	assert.NotSame(t, in, out["x"])

	require.NoError(t, in.Release())
	data, err := out["x"].Data()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)
	assert.Equal(t, tensor.Shape{2}, out["x"].Shape())
}

func TestInfer_ReleasedInput(t *testing.T) {
	in := tensor.New("x", tensor.Shape{1}, tensor.U8, []byte{1})
	require.NoError(t, in.Release())
	_, err := Model{}.Infer(context.Background(), map[string]*tensor.Buffer{"x": in}, tensor.HeapAllocator{})
	assert.ErrorIs(t, err, tensor.ErrBufferReleased)
}

func TestModule_Register(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)
	_, ok := r.Model(Name)
	assert.True(t, ok)
}
