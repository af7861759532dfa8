// Package stream delivers finalized verdicts to live subscribers over
// websockets, with a one-message replay buffer so a subscriber that connects
// just after finalization still receives the verdict.
package stream

import (
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// Config controls per-stream liveness behavior.
type Config struct {
	KeepaliveInterval time.Duration `yaml:"keepaliveInterval"`
	IdleTimeout       time.Duration `yaml:"idleTimeout"`
	SubscriberBuffer  int           `yaml:"subscriberBuffer"`
}

// Hub fans verdict payloads out to per-submission streams. One stream is
// shared by all subscribers to the same submission.
type Hub struct {
	streams *xsync.MapOf[string, *stream]
	cfg     Config
}

type stream struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	last      []byte
	idleTimer *time.Timer
	closed    bool
}

// Subscriber is one attached consumer of a stream.
type Subscriber struct {
	ch chan []byte
}

// Messages returns the channel delivering payloads for this subscriber.
// The hub never closes the channel; delivery simply stops once the
// subscriber is detached with Unsubscribe.
func (s *Subscriber) Messages() <-chan []byte {
	return s.ch
}

// NewHub creates a hub.
func NewHub(cfg Config) *Hub {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 25 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 8
	}
	return &Hub{
		streams: xsync.NewMapOf[string, *stream](),
		cfg:     cfg,
	}
}

// KeepaliveInterval is the ping cadence transport handlers should use.
func (h *Hub) KeepaliveInterval() time.Duration {
	return h.cfg.KeepaliveInterval
}

// Subscribe attaches a subscriber to the submission's stream, creating the
// stream if needed. A buffered verdict, if any, is replayed immediately.
func (h *Hub) Subscribe(submissionID string) *Subscriber {
	for {
		st, _ := h.streams.LoadOrCompute(submissionID, func() *stream {
			return &stream{subs: make(map[*Subscriber]struct{})}
		})
		st.mu.Lock()
		if st.closed {
			// Lost a race with idle teardown; the map entry is gone,
			// retry against a fresh stream.
			st.mu.Unlock()
			continue
		}
		sub := &Subscriber{ch: make(chan []byte, h.cfg.SubscriberBuffer)}
		st.subs[sub] = struct{}{}
		if st.idleTimer != nil {
			st.idleTimer.Stop()
			st.idleTimer = nil
		}
		if st.last != nil {
			sub.ch <- st.last
		}
		st.mu.Unlock()
		return sub
	}
}

// Unsubscribe detaches a subscriber. The stream lingers for the idle timeout
// so its replay buffer can serve reconnects.
func (h *Hub) Unsubscribe(submissionID string, sub *Subscriber) {
	st, ok := h.streams.Load(submissionID)
	if !ok {
		return
	}
	st.mu.Lock()
	delete(st.subs, sub)
	if len(st.subs) == 0 {
		h.armIdleTimer(submissionID, st)
	}
	st.mu.Unlock()
}

// Publish stores the payload in the replay buffer and fans it out to every
// attached subscriber. A subscriber that cannot keep up is skipped; it will
// still observe the payload through the replay buffer on reconnect.
func (h *Hub) Publish(submissionID string, payload []byte) {
	st, _ := h.streams.LoadOrCompute(submissionID, func() *stream {
		return &stream{subs: make(map[*Subscriber]struct{})}
	})
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		// Teardown raced the publish; recreate so late subscribers can
		// still replay this verdict.
		h.Publish(submissionID, payload)
		return
	}
	st.last = payload
	for sub := range st.subs {
		select {
		case sub.ch <- payload:
		default:
		}
	}
	if len(st.subs) == 0 {
		h.armIdleTimer(submissionID, st)
	}
	st.mu.Unlock()
}

// armIdleTimer schedules teardown of a subscriber-less stream.
// Caller holds st.mu.
func (h *Hub) armIdleTimer(submissionID string, st *stream) {
	if st.idleTimer != nil {
		st.idleTimer.Stop()
	}
	st.idleTimer = time.AfterFunc(h.cfg.IdleTimeout, func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if len(st.subs) > 0 || st.closed {
			return
		}
		st.closed = true
		h.streams.Delete(submissionID)
	})
}

// Streams returns the number of live streams, for observability.
func (h *Hub) Streams() int {
	return h.streams.Size()
}
