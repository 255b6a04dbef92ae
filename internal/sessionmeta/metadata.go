// Package sessionmeta identifies one traversal context of one node: the
// request it belongs to plus the shard coordinates collected while passing
// through demultiplexing nodes.
package sessionmeta

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotCollapsible is returned when a gather asks to collapse a shard level
// that is not the innermost one of the metadata.
var ErrNotCollapsible = errors.New("shard level cannot be collapsed")

// Shard is one coordinate: which demultiplexer produced it, which slot it
// occupies and how many sibling slots exist.
type Shard struct {
	Node  string
	ID    uint32
	Count uint32
}

// Metadata is immutable; every derivation returns a new value.
type Metadata struct {
	request string
	shards  []Shard
}

// New creates metadata for the root traversal of a request.
func New(requestKey string) Metadata {
	return Metadata{request: requestKey}
}

// RequestKey returns the key of the request this traversal belongs to.
func (m Metadata) RequestKey() string { return m.request }

// Shards returns a copy of the shard coordinates, outermost first.
func (m Metadata) Shards() []Shard {
	out := make([]Shard, len(m.shards))
	copy(out, m.shards)
	return out
}

// Key returns the session key. It is derived only from the request key and
// the shard coordinates, so every node computes the same key for the same
// traversal.
func (m Metadata) Key() string {
	var sb strings.Builder
	sb.WriteString(m.request)
	for _, s := range m.shards {
		fmt.Fprintf(&sb, "/%s:%d", s.Node, s.ID)
	}
	return sb.String()
}

func (m Metadata) String() string { return m.Key() }

// Demultiply derives one child traversal per shard produced by node.
func (m Metadata) Demultiply(node string, count uint32) ([]Metadata, error) {
	if count == 0 {
		return nil, fmt.Errorf("demultiplying by %q: shard count must be positive", node)
	}
	for _, s := range m.shards {
		if s.Node == node {
			return nil, fmt.Errorf("demultiplying by %q: session %s already sharded by this node", node, m.Key())
		}
	}
	out := make([]Metadata, count)
	for i := uint32(0); i < count; i++ {
		shards := make([]Shard, len(m.shards), len(m.shards)+1)
		copy(shards, m.shards)
		out[i] = Metadata{
			request: m.request,
			shards:  append(shards, Shard{Node: node, ID: i, Count: count}),
		}
	}
	return out, nil
}

// Collapse removes the innermost shard level, which must belong to node. It
// returns the parent traversal and the removed coordinate.
func (m Metadata) Collapse(node string) (Metadata, Shard, error) {
	if len(m.shards) == 0 {
		return Metadata{}, Shard{}, fmt.Errorf("collapsing %q in unsharded session %s: %w", node, m.Key(), ErrNotCollapsible)
	}
	last := m.shards[len(m.shards)-1]
	if last.Node != node {
		return Metadata{}, Shard{}, fmt.Errorf("collapsing %q in session %s (innermost level is %q): %w", node, m.Key(), last.Node, ErrNotCollapsible)
	}
	shards := make([]Shard, len(m.shards)-1)
	copy(shards, m.shards)
	return Metadata{request: m.request, shards: shards}, last, nil
}
