package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot decodes every top-level block a pipeline file may contain.
type fileRoot struct {
	Pipelines []*pipelineBlock `hcl:"pipeline,block"`
	Remain    hcl.Body         `hcl:",remain"`
}

type pipelineBlock struct {
	Name  string       `hcl:"name,label"`
	Nodes []*nodeBlock `hcl:"node,block"`
}

type nodeBlock struct {
	Kind        string            `hcl:"kind,label"`
	Name        string            `hcl:"name,label"`
	Library     string            `hcl:"library,optional"`
	Model       string            `hcl:"model,optional"`
	Params      hcl.Expression    `hcl:"params,optional"`
	OutputAlias map[string]string `hcl:"output_alias,optional"`
	Demultiply  int               `hcl:"demultiply,optional"`
	GatherFrom  string            `hcl:"gather_from,optional"`
	Inputs      []*inputBlock     `hcl:"input,block"`
}

// inputBlock is an edge. Its attributes map producer output names to the
// consuming node's input names.
type inputBlock struct {
	From string   `hcl:"from,label"`
	Body hcl.Body `hcl:",remain"`
}

// requestRoot decodes a request document.
type requestRoot struct {
	Tensors []*tensorBlock `hcl:"tensor,block"`
	Remain  hcl.Body       `hcl:",remain"`
}

type tensorBlock struct {
	Name      string         `hcl:"name,label"`
	Shape     hcl.Expression `hcl:"shape"`
	Precision string         `hcl:"precision"`
	Data      hcl.Expression `hcl:"data"`
}
