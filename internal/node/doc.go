// Package node implements pipeline vertices and their per-request sessions.
//
// A Node owns one Session per session key. A session accumulates inputs
// through an input handler, runs the node's compute step once the handler
// reports that every dependency has delivered, pushes exactly one completion
// Event and then holds its outputs until the scheduler fetches them. Fetching
// releases the session and removes it from the node.
//
// The set of node kinds is closed: entry, model, custom and exit. Each kind
// supplies its own compute step; whether a node gathers shards is orthogonal
// and only changes the input handler its sessions use.
package node
