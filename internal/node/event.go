package node

import "github.com/vk/gridflow/internal/eventqueue"

// Event notifies the scheduler that a session of Node finished its compute
// step. It carries no outcome; the scheduler reads the session status.
type Event struct {
	Node       *Node
	SessionKey string
}

// EventQueue is the completion queue shared by all nodes of one request.
type EventQueue = eventqueue.Queue[Event]

// NewEventQueue creates an empty completion queue.
func NewEventQueue() *EventQueue {
	return eventqueue.New[Event]()
}
