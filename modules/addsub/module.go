// Package addsub provides a library computing
// output_numbers = input_numbers + add_value - sub_value.
package addsub

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/vk/gridflow/internal/abi"
	"github.com/vk/gridflow/internal/registry"
	"github.com/vk/gridflow/internal/tensor"
)

// Name is the library name pipelines refer to.
const Name = "addsub"

// Tensor names of the library.
const (
	InputName  = "input_numbers"
	OutputName = "output_numbers"
)

// Return codes of Execute.
const (
	codeOK = iota
	codeBadParam
	codeMissingInput
	codeBadInput
)

// Plugin implements the library.
type Plugin struct {
	outstanding atomic.Int64
}

func param(params []abi.Param, key string) (float64, bool) {
	raw, ok := abi.Lookup(params, key)
	if !ok {
		return 0, true
	}
	v, err := strconv.ParseFloat(raw, 32)
	if err != nil {
		slog.Error("Invalid addsub parameter.", "key", key, "value", raw)
		return 0, false
	}
	return v, true
}

// Execute implements the library entry point.
func (p *Plugin) Execute(inputs []abi.Tensor, params []abi.Param) ([]abi.Tensor, int) {
	add, ok := param(params, "add_value")
	if !ok {
		return nil, codeBadParam
	}
	sub, ok := param(params, "sub_value")
	if !ok {
		return nil, codeBadParam
	}
	slog.Debug("Addsub library invoked.", "add_value", add, "sub_value", sub)

	var in *abi.Tensor
	for i := range inputs {
		if inputs[i].NameString() == InputName {
			in = &inputs[i]
			break
		}
	}
	if in == nil {
		return nil, codeMissingInput
	}
	if in.TensorPrecision() != tensor.FP32 {
		return nil, codeBadInput
	}

	values, err := tensor.Decode(tensor.FP32, in.Bytes())
	if err != nil {
		return nil, codeBadInput
	}
	for i := range values {
		values[i] += add - sub
	}
	data, err := tensor.Encode(tensor.FP32, values)
	if err != nil {
		return nil, codeBadInput
	}
	p.outstanding.Add(1)
	return []abi.Tensor{abi.NewTensor(OutputName, in.Shape(), tensor.FP32, data)}, codeOK
}

// ReleaseBuffer returns one output tensor.
func (p *Plugin) ReleaseBuffer(*abi.Tensor) int {
	p.outstanding.Add(-1)
	return codeOK
}

// ReleaseTensors returns an output array.
func (p *Plugin) ReleaseTensors([]abi.Tensor) int { return codeOK }

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
