// Package addition provides a library that adds FP32 inputs element-wise
// and offsets the result by two static parameters.
package addition

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
)

// Name is the library name pipelines refer to.
const Name = "addition"

// OutputName is the name of the single output tensor.
const OutputName = "sum"

// Return codes of Execute.
const (
	codeOK = iota
	codeBadParam
	codeBadInput
)

// Plugin implements the library. It counts output buffers handed out and
// not yet released.
type Plugin struct {
	outstanding atomic.Int64
}

// Execute sums all inputs element-wise and adds add_value_1 and add_value_2
// to every element. All inputs must be FP32 and share a shape. Without
// inputs it produces no outputs.
func (p *Plugin) Execute(inputs []abi.Tensor, params []abi.Param) ([]abi.Tensor, int) {
	var offset float64
	for _, key := range []string{"add_value_1", "add_value_2"} {
		raw, ok := abi.Lookup(params, key)
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			slog.Error("Invalid addition parameter.", "key", key, "value", raw)
			return nil, codeBadParam
		}
		offset += v
	}
	slog.Debug("Addition library invoked.", "inputs", len(inputs), "offset", offset)

	if len(inputs) == 0 {
		return []abi.Tensor{}, codeOK
	}

	shape := inputs[0].Shape()
	var sum []float64
	for i := range inputs {
		in := &inputs[i]
		if in.TensorPrecision() != tensor.FP32 || !in.Shape().Equal(shape) {
			slog.Error("Addition input rejected.", "input", in.NameString(), "precision", in.TensorPrecision(), "shape", in.Shape())
			return nil, codeBadInput
		}
		values, err := tensor.Decode(tensor.FP32, in.Bytes())
		if err != nil {
			return nil, codeBadInput
		}
		if sum == nil {
			sum = make([]float64, len(values))
		}
		for j, v := range values {
			sum[j] += v
		}
	}
	for j := range sum {
		sum[j] += offset
	}

	data, err := tensor.Encode(tensor.FP32, sum)
	if err != nil {
		return nil, codeBadInput
	}
	p.outstanding.Add(1)
	return []abi.Tensor{abi.NewTensor(OutputName, shape, tensor.FP32, data)}, codeOK
}

// ReleaseBuffer returns one output tensor.
func (p *Plugin) ReleaseBuffer(*abi.Tensor) int {
	p.outstanding.Add(-1)
	return codeOK
}

// ReleaseTensors returns an output array. Buffers are tracked individually,
// so there is nothing left to reclaim.
func (p *Plugin) ReleaseTensors([]abi.Tensor) int {
	return codeOK
}

// Outstanding returns the number of output tensors not yet released.
func (p *Plugin) Outstanding() int64 { return p.outstanding.Load() }

// Module implements the registry.Module interface for this package.
type Module struct {
	plugin *Plugin
}

// Plugin returns the instance registered by Register.
func (m *Module) Plugin() *Plugin { return m.plugin }

// Register registers the library with the registry.
func (m *Module) Register(r *registry.Registry) {
	m.plugin = &Plugin{}
	lib, err := abi.NewLibrary(Name, m.plugin.Execute, m.plugin.ReleaseBuffer, m.plugin.ReleaseTensors)
	if err != nil {
		panic(err)
	}
	r.RegisterLibrary(Name, lib)
}
