// Package pipeline builds node graphs from configuration and drives requests
// through them.
//
// A request is one traversal of the graph. The scheduler owns a completion
// queue per request: ready sessions are executed on a shared worker pool,
// every execution pushes exactly one event, and the scheduler loop turns
// events into result fetches and downstream deliveries until no session is
// in flight. Nodes never call each other directly.
package pipeline
