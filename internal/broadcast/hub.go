// Package broadcast fans task events out to live subscribers.
//
// Each subscriber owns a bounded channel. Broadcast never blocks: when a
// subscriber's buffer is full an output event is dropped for that subscriber
// only and counted, so a slow reader cannot stall the agent output pump. The
// terminal exit or error event replaces the oldest buffered event instead.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/domain"
)

// Broadcaster is the push surface consumed by the runner and workflow engine.
type Broadcaster interface {
	Broadcast(taskID string, msg domain.LogMessage)
}

type subscriber struct {
	ch      chan domain.LogMessage
	dropped int
}

// Hub is an in-memory Broadcaster keyed by task id.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	logger zerolog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHubLogger sets the hub logger.
func WithHubLogger(logger zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.logger = logger.With().Str("component", "broadcast").Logger()
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: constants.SubscriberBuffer,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a subscriber for taskID. The returned cancel function
// unregisters it and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(taskID string) (<-chan domain.LogMessage, func()) {
	s := &subscriber{ch: make(chan domain.LogMessage, h.buffer)}

	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[taskID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[taskID]; ok {
				delete(set, s)
				if len(set) == 0 {
					delete(h.subs, taskID)
				}
			}
			close(s.ch)
			if s.dropped > 0 {
				h.logger.Warn().Str("task_id", taskID).Int("dropped", s.dropped).Msg("subscriber dropped events")
			}
		})
	}
	return s.ch, cancel
}

// Broadcast delivers msg to every subscriber of taskID without blocking.
// Terminal events (exit, error) are never dropped: when a buffer is full the
// oldest buffered event makes room for them.
func (h *Hub) Broadcast(taskID string, msg domain.LogMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[taskID] {
		if msg.Type.IsTerminal() {
			s.deliver(msg)
			continue
		}
		select {
		case s.ch <- msg:
		default:
			s.dropped++
		}
	}
}

// deliver sends msg, evicting the oldest buffered events until it fits.
// Only Broadcast sends, under the hub lock, so an eviction always frees a slot.
func (s *subscriber) deliver(msg domain.LogMessage) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
		default:
		}
	}
}

// Subscribers returns the number of live subscribers for taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

// Nop discards every event.
type Nop struct{}

// Broadcast implements Broadcaster.
func (Nop) Broadcast(string, domain.LogMessage) {}

var (
	_ Broadcaster = (*Hub)(nil)
	_ Broadcaster = Nop{}
)
