package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/vk/gridflow/internal/node"
)

// validate checks the linked graph: every node is fed from the entry node
// and shard levels opened by demultiplexing nodes are closed by gathers in
// reverse order before the exit node.
func (p *Pipeline) validate() error {
	reachable := map[*node.Node]bool{p.entry: true}
	for _, n := range p.order {
		if !reachable[n] {
			continue
		}
		for _, consumer := range n.Next() {
			reachable[consumer] = true
		}
	}
	for _, n := range p.order {
		if !reachable[n] {
			return fmt.Errorf("node %q is not reachable from entry node %q", n.Name(), p.entry.Name())
		}
	}

	// scope is the stack of demultiplexers whose shards a node's outputs
	// belong to, outermost first.
	scope := make(map[*node.Node][]string, len(p.order))
	for _, n := range p.order {
		var in []string
		for i, producer := range n.Prev() {
			if i == 0 {
				in = scope[producer]
				continue
			}
			if !slices.Equal(in, scope[producer]) {
				return fmt.Errorf("node %q joins inputs at different shard levels [%s] and [%s]",
					n.Name(), strings.Join(in, ", "), strings.Join(scope[producer], ", "))
			}
		}

		if from := n.GatherFrom(); from != "" {
			gathered, ok := p.nodes[from]
			if !ok {
				return fmt.Errorf("node %q gathers from unknown node %q", n.Name(), from)
			}
			if gathered.Demultiply() == 0 {
				return fmt.Errorf("node %q gathers from %q, which does not demultiply", n.Name(), from)
			}
			if len(in) == 0 || in[len(in)-1] != from {
				return fmt.Errorf("node %q gathers from %q but its inputs are at shard level [%s]", n.Name(), from, strings.Join(in, ", "))
			}
			in = in[:len(in)-1]
		}

		out := slices.Clone(in)
		if n.Demultiply() != 0 {
			out = append(out, n.Name())
		}
		scope[n] = out
	}

	if open := scope[p.exit]; len(open) > 0 {
		return fmt.Errorf("exit node %q receives shards of [%s] that are never gathered", p.exit.Name(), strings.Join(open, ", "))
	}
	return nil
}
