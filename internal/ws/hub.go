// Package ws fans job events out to live websocket subscribers.
package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub tracks, per job, the set of subscribers waiting on its event stream.
// All methods are safe for concurrent use.
type Hub struct {
	mu   sync.Mutex
	jobs map[string]map[Subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{jobs: make(map[string]map[Subscriber]struct{})}
}

// Register adds a subscriber to a job's event stream.
func (h *Hub) Register(jobID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.jobs[jobID]
	if set == nil {
		set = make(map[Subscriber]struct{})
		h.jobs[jobID] = set
	}
	set[sub] = struct{}{}
}

// Unregister removes a subscriber. Unknown subscribers are ignored.
func (h *Hub) Unregister(jobID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(jobID, sub)
}

// Broadcast delivers payload to every subscriber of the job. Subscribers
// whose Send fails are closed and dropped; the rest still receive the
// payload.
func (h *Hub) Broadcast(jobID string, payload []byte) {
	h.mu.Lock()
	subs := make([]Subscriber, 0, len(h.jobs[jobID]))
	for sub := range h.jobs[jobID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	var dead []Subscriber
	for _, sub := range subs {
		if err := sub.Send(payload); err != nil {
			sub.Close()
			dead = append(dead, sub)
		}
	}
	if len(dead) == 0 {
		return
	}
	h.mu.Lock()
	for _, sub := range dead {
		h.drop(jobID, sub)
	}
	h.mu.Unlock()
}

// drop removes the subscriber and prunes the job entry when it empties.
// Caller must hold h.mu.
func (h *Hub) drop(jobID string, sub Subscriber) {
	set, ok := h.jobs[jobID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.jobs, jobID)
	}
}
