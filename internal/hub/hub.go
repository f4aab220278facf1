// Package hub fans received CAN frames out to in-process subscribers such as
// the stock DAS_control tracker. Broadcast never blocks on a slow subscriber.
package hub

import (
	"sync"

	"github.com/kstaniek/go-tesla-das/internal/can"
	"github.com/kstaniek/go-tesla-das/internal/logging"
	"github.com/kstaniek/go-tesla-das/internal/metrics"
)

type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota // drop the frame for that subscriber
	PolicyKick                           // close the subscriber
)

// ParsePolicy maps "drop" or "kick" to a policy.
func ParsePolicy(s string) (BackpressurePolicy, bool) {
	switch s {
	case "drop":
		return PolicyDrop, true
	case "kick":
		return PolicyKick, true
	}
	return PolicyDrop, false
}

func (p BackpressurePolicy) String() string {
	if p == PolicyKick {
		return "kick"
	}
	return "drop"
}

// Subscriber receives frames on C until Done is closed. C is never closed
// by the hub; select on Done to detect a kick or unsubscribe.
type Subscriber struct {
	C         chan can.Frame
	name      string
	done      chan struct{}
	closeOnce sync.Once
}

// Done is closed when the subscriber is removed or kicked.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) Name() string { return s.name }

func (s *Subscriber) close() { s.closeOnce.Do(func() { close(s.done) }) }

type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscriber]struct{}
	buf    int
	policy BackpressurePolicy
}

// New creates a hub whose subscribers get buf-frame queues (min 1).
func New(buf int, policy BackpressurePolicy) *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{}), buf: max(buf, 1), policy: policy}
}

func (h *Hub) Policy() BackpressurePolicy { return h.policy }

// Subscribe registers a new subscriber. name only appears in logs.
func (h *Hub) Subscribe(name string) *Subscriber {
	s := &Subscriber{C: make(chan can.Frame, h.buf), name: name, done: make(chan struct{})}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	metrics.SetHubClients(n)
	logging.L().Debug("hub_subscribe", "name", name, "subscribers", n)
	return s
}

// Unsubscribe removes s and closes Done; safe to call more than once.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	_, existed := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	s.close()
	if existed {
		metrics.SetHubClients(n)
		logging.L().Debug("hub_unsubscribe", "name", s.name, "subscribers", n)
	}
}

// Broadcast offers fr to every subscriber, applying the policy to full queues.
// Kicked subscribers are removed.
func (h *Hub) Broadcast(fr can.Frame) {
	var kicked []*Subscriber
	h.mu.RLock()
	for s := range h.subs {
		select {
		case s.C <- fr:
		default:
			if h.policy == PolicyKick {
				metrics.IncHubKick()
				kicked = append(kicked, s)
			} else {
				metrics.IncHubDrop()
			}
		}
	}
	h.mu.RUnlock()
	for _, s := range kicked {
		logging.L().Warn("hub_subscriber_kicked", "name", s.name)
		h.Unsubscribe(s)
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int { h.mu.RLock(); n := len(h.subs); h.mu.RUnlock(); return n }
