package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/gridflow/internal/config"
	"github.com/vk/gridflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// translatePipeline converts the HCL pipeline schema into the agnostic model.
func (l *Loader) translatePipeline(ctx context.Context, p *pipelineBlock) (*config.Pipeline, error) {
	out := &config.Pipeline{Name: p.Name}
	for _, n := range p.Nodes {
		node, err := l.translateNode(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		out.Nodes = append(out.Nodes, node)
	}
	return out, nil
}

func (l *Loader) translateNode(ctx context.Context, n *nodeBlock) (*config.Node, error) {
	logger := ctxlog.FromContext(ctx).With("node_kind", n.Kind, "node_name", n.Name)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Translating HCL node to internal config model.")

	switch n.Kind {
	case config.KindEntry, config.KindModel, config.KindCustom, config.KindExit:
	default:
		return nil, fmt.Errorf("node %q: unknown kind %q", n.Name, n.Kind)
	}

	out := &config.Node{
		Kind:        n.Kind,
		Name:        n.Name,
		Library:     n.Library,
		Model:       n.Model,
		OutputAlias: n.OutputAlias,
		Demultiply:  n.Demultiply,
		GatherFrom:  n.GatherFrom,
	}

	if isExprDefined(ctx, n.Params, "params") {
		params, err := stringMap(n.Params)
		if err != nil {
			return nil, fmt.Errorf("node %q params: %w", n.Name, err)
		}
		for _, k := range sortedKeys(params) {
			out.Params = append(out.Params, config.Param{Key: k, Value: params[k]})
		}
	}

	for _, in := range n.Inputs {
		mapping, err := bodyStringMap(in.Body)
		if err != nil {
			return nil, fmt.Errorf("node %q input from %q: %w", n.Name, in.From, err)
		}
		out.Inputs = append(out.Inputs, &config.Input{From: in.From, Mapping: mapping})
	}
	return out, nil
}

func translateRequest(ctx context.Context, r *requestRoot) (*config.Request, error) {
	out := &config.Request{}
	for _, t := range r.Tensors {
		shape, err := decodeList[uint64](t.Shape.Value(nil))
		if err != nil {
			return nil, fmt.Errorf("tensor %q shape: %w", t.Name, err)
		}
		data, err := decodeList[float64](t.Data.Value(nil))
		if err != nil {
			return nil, fmt.Errorf("tensor %q data: %w", t.Name, err)
		}
		ctxlog.FromContext(ctx).Debug("Decoded request tensor.", "tensor", t.Name, "shape", shape, "values", len(data))
		out.Tensors = append(out.Tensors, &config.Tensor{
			Name:      t.Name,
			Shape:     shape,
			Precision: t.Precision,
			Data:      data,
		})
	}
	return out, nil
}

// decodeList converts a tuple or list of numbers into a Go slice.
func decodeList[T uint64 | float64](val cty.Value, diags hcl.Diagnostics) ([]T, error) {
	if diags.HasErrors() {
		return nil, diags
	}
	if val.IsNull() {
		return nil, nil
	}
	list, err := convert.Convert(val, cty.List(cty.Number))
	if err != nil {
		return nil, err
	}
	var out []T
	if err := gocty.FromCtyValue(list, &out); err != nil {
		return nil, err
	}
	return out, nil
}
