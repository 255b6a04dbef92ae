package addition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
)

func fp32(t *testing.T, name string, shape tensor.Shape, values ...float64) abi.Tensor {
	t.Helper()
	data, err := tensor.Encode(tensor.FP32, values)
	require.NoError(t, err)
	return abi.NewTensor(name, shape, tensor.FP32, data)
}

var params = abi.MarshalParams([]abi.Parameter{{Key: "add_value_1", Value: "2"}, {Key: "add_value_2", Value: "3"}})

func TestExecute_NoInputsNoOutputs(t *testing.T) {
	p := &Plugin{}
	out, code := p.Execute(nil, params)
	assert.Equal(t, 0, code)
	assert.Empty(t, out)
	assert.Zero(t, p.Outstanding())
}

func TestExecute_Sums(t *testing.T) {
	p := &Plugin{}
	inputs := []abi.Tensor{
		fp32(t, "a", tensor.Shape{1, 2}, 1, 2),
		fp32(t, "b", tensor.Shape{1, 2}, 10, 20),
	}
	out, code := p.Execute(inputs, params)
	require.Equal(t, 0, code)
	require.Len(t, out, 1)
	assert.Equal(t, OutputName, out[0].NameString())
	assert.Equal(t, tensor.Shape{1, 2}, out[0].Shape())

	got, err := tensor.Decode(tensor.FP32, out[0].Bytes())
	require.NoError(t, err)
	assert.Equal(t, []float64{16, 27}, got)
	assert.Equal(t, int64(1), p.Outstanding())

	assert.Equal(t, 0, p.ReleaseBuffer(&out[0]))
	assert.Equal(t, 0, p.ReleaseTensors(out))
	assert.Zero(t, p.Outstanding())
}

func TestExecute_Rejects(t *testing.T) {
	p := &Plugin{}

	_, code := p.Execute(nil, abi.MarshalParams([]abi.Parameter{{Key: "add_value_1", Value: "two"}}))
	assert.Equal(t, codeBadParam, code)

	_, code = p.Execute([]abi.Tensor{
		fp32(t, "a", tensor.Shape{2}, 1, 2),
		fp32(t, "b", tensor.Shape{1}, 1),
	}, nil)
	assert.Equal(t, codeBadInput, code)

	_, code = p.Execute([]abi.Tensor{abi.NewTensor("u", tensor.Shape{1}, tensor.U8, []byte{1})}, nil)
	assert.Equal(t, codeBadInput, code)
	assert.Zero(t, p.Outstanding())
}

func TestModule_Register(t *testing.T) {
	r := registry.New()
	m := &Module{}
	m.Register(r)

	lib, ok := r.Library(Name)
	require.True(t, ok)
	require.NotNil(t, m.Plugin())

	out, code := lib.Execute([]abi.Tensor{fp32(t, "a", tensor.Shape{1}, 1)}, nil)
	require.Equal(t, 0, code)
	require.Len(t, out, 1)
	assert.Equal(t, int64(1), m.Plugin().Outstanding())
	lib.ReleaseBuffer(&out[0])
	assert.Zero(t, m.Plugin().Outstanding())
}
