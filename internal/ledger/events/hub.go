// Package events fans balance changes out to in-process subscribers.
package events

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const DefaultSubscriberBuffer = 8

var (
	ErrHubUnavailable = errors.New("hub_unavailable")
	ErrInvalidUserID  = errors.New("invalid_user_id")
)

// BalanceChanged is published after a mutation is durable.
type BalanceChanged struct {
	UserID        string    `json:"user_id"`
	Balance       int64     `json:"balance"`
	Delta         int64     `json:"delta"`
	Reason        string    `json:"reason"`
	TransactionID string    `json:"transaction_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Hub keeps one stream per user. Slow subscribers lose their oldest pending events,
// never the newest one.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	subs   map[uint64]chan BalanceChanged
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan BalanceChanged
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(event BalanceChanged) {
	if h == nil {
		return
	}
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return
	}

	h.mu.RLock()
	s := h.streams[userID]
	h.mu.RUnlock()
	if s == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		deliver(ch, event)
	}
}

func deliver(ch chan BalanceChanged, event BalanceChanged) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Hub) Subscribe(userID string) (*Subscription, error) {
	if h == nil {
		return nil, ErrHubUnavailable
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	// The stream is created and joined under h.mu so a concurrent close of its last
	// subscriber cannot drop it in between.
	h.mu.Lock()
	s := h.streams[userID]
	if s == nil {
		s = &stream{subs: make(map[uint64]chan BalanceChanged)}
		h.streams[userID] = s
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan BalanceChanged, h.subscriberBuffer)
	s.subs[id] = ch
	s.mu.Unlock()
	h.mu.Unlock()

	return &Subscription{hub: h, userID: userID, id: id, ch: ch}, nil
}

// Subscribers reports how many subscriptions are open for userID.
func (h *Hub) Subscribers(userID string) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	s := h.streams[strings.TrimSpace(userID)]
	h.mu.RUnlock()
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (h *Hub) unsubscribe(userID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.streams[userID]
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.subs, id)
	empty := len(s.subs) == 0
	s.mu.Unlock()
	if empty {
		delete(h.streams, userID)
	}
}

func (s *Subscription) Events() <-chan BalanceChanged {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
