package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Channels a subscriber can opt into.
const (
	ChannelGlobal = "global"
	ChannelRounds = "rounds"
	ChannelPrices = "prices"
)

const TopicPriceUpdate = "price:update"

// Message is one notification as delivered to subscribers and external
// sinks.
type Message struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Subscription is one consumer's buffered view of the hub. Channels can
// be adjusted while subscribed.
type Subscription struct {
	ID string
	C  chan Message

	mu       sync.Mutex
	channels map[string]struct{}
}

func (s *Subscription) SetChannel(name string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.channels[name] = struct{}{}
	} else {
		delete(s.channels, name)
	}
}

func (s *Subscription) wants(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ChannelGlobal]; ok {
		return true
	}
	if topic == TopicPriceUpdate {
		_, ok := s.channels[ChannelPrices]
		return ok
	}
	_, ok := s.channels[ChannelRounds]
	return ok
}

// Hub fans notifications out to subscribers. Sends never block: a
// subscriber that stops draining loses messages, not the hub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	logger *zap.Logger

	published     atomic.Uint64
	droppedFanout atomic.Uint64
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subs:   map[string]*Subscription{},
		logger: logger,
	}
}

// Subscribe registers a consumer listening on the given channels.
func (h *Hub) Subscribe(channels []string, buf int) *Subscription {
	if buf <= 0 {
		buf = 32
	}
	sub := &Subscription{
		ID:       uuid.NewString(),
		C:        make(chan Message, buf),
		channels: map[string]struct{}{},
	}
	for _, name := range channels {
		sub.channels[name] = struct{}{}
	}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subs, sub.ID)
	h.mu.Unlock()
}

// Publish delivers the payload to every interested subscriber.
func (h *Hub) Publish(topic string, payload any) {
	msg := Message{Topic: topic, Payload: payload, At: time.Now().UTC()}
	h.published.Add(1)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.C <- msg:
		default:
			// Drop when subscriber is slow; hub must not block.
			h.droppedFanout.Add(1)
		}
	}
}

func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.droppedFanout.Load()
}
