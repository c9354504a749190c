// Package pubsub implements in-process publish/subscribe fan-out for
// SUBSCRIBE/PSUBSCRIBE. Grounded on the teacher's internal/pubsub.Hub,
// with the PostgreSQL LISTEN/NOTIFY transport removed: delivery happens
// directly within Publish since there is only one process to fan out to.
package pubsub

import (
	"sync"

	"github.com/mnorrsken/redigo/internal/resp"
)

// Subscriber is anything that can receive an async push message, kept
// from the teacher's abstraction so connections don't need to know
// anything about Hub's internals.
type Subscriber interface {
	SendPush(v resp.Value) error
	ID() uint64
}

type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[uint64]Subscriber // channel -> subscriber id -> subscriber
	subscribers   map[uint64]map[string]bool        // subscriber id -> channel set

	patternMu   sync.RWMutex
	patterns    map[string]map[uint64]Subscriber // pattern -> subscriber id -> subscriber
	subPatterns map[uint64]map[string]bool        // subscriber id -> pattern set
}

func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[string]map[uint64]Subscriber),
		subscribers:   make(map[uint64]map[string]bool),
		patterns:      make(map[string]map[uint64]Subscriber),
		subPatterns:   make(map[uint64]map[string]bool),
	}
}

func (h *Hub) Subscribe(sub Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscriptions[channel] == nil {
		h.subscriptions[channel] = make(map[uint64]Subscriber)
	}
	h.subscriptions[channel][sub.ID()] = sub
	if h.subscribers[sub.ID()] == nil {
		h.subscribers[sub.ID()] = make(map[string]bool)
	}
	h.subscribers[sub.ID()][channel] = true
}

func (h *Hub) Unsubscribe(sub Subscriber, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscriptions[channel]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.subscriptions, channel)
		}
	}
	if chans, ok := h.subscribers[sub.ID()]; ok {
		delete(chans, channel)
	}
}

func (h *Hub) PSubscribe(sub Subscriber, pattern string) {
	h.patternMu.Lock()
	defer h.patternMu.Unlock()
	if h.patterns[pattern] == nil {
		h.patterns[pattern] = make(map[uint64]Subscriber)
	}
	h.patterns[pattern][sub.ID()] = sub
	if h.subPatterns[sub.ID()] == nil {
		h.subPatterns[sub.ID()] = make(map[string]bool)
	}
	h.subPatterns[sub.ID()][pattern] = true
}

func (h *Hub) PUnsubscribe(sub Subscriber, pattern string) {
	h.patternMu.Lock()
	defer h.patternMu.Unlock()
	if subs, ok := h.patterns[pattern]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.patterns, pattern)
		}
	}
	if pats, ok := h.subPatterns[sub.ID()]; ok {
		delete(pats, pattern)
	}
}

// RemoveSubscriber drops every channel and pattern subscription sub holds,
// called when its connection closes.
func (h *Hub) RemoveSubscriber(sub Subscriber) {
	h.mu.Lock()
	if chans, ok := h.subscribers[sub.ID()]; ok {
		for ch := range chans {
			if subs, ok := h.subscriptions[ch]; ok {
				delete(subs, sub.ID())
				if len(subs) == 0 {
					delete(h.subscriptions, ch)
				}
			}
		}
		delete(h.subscribers, sub.ID())
	}
	h.mu.Unlock()

	h.patternMu.Lock()
	if pats, ok := h.subPatterns[sub.ID()]; ok {
		for p := range pats {
			if subs, ok := h.patterns[p]; ok {
				delete(subs, sub.ID())
				if len(subs) == 0 {
					delete(h.patterns, p)
				}
			}
		}
		delete(h.subPatterns, sub.ID())
	}
	h.patternMu.Unlock()
}

// Publish delivers payload to every subscriber of channel and every
// subscriber whose pattern matches it, returning the total receiver
// count (what PUBLISH replies with).
func (h *Hub) Publish(channel, payload string) int64 {
	var n int64
	n += h.deliverToChannel(channel, payload)
	n += h.deliverToPatterns(channel, payload)
	return n
}

func (h *Hub) deliverToChannel(channel, payload string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.subscriptions[channel]
	var n int64
	for _, sub := range subs {
		if sub.SendPush(BuildMessage(channel, payload)) == nil {
			n++
		}
	}
	return n
}

func (h *Hub) deliverToPatterns(channel, payload string) int64 {
	h.patternMu.RLock()
	defer h.patternMu.RUnlock()
	var n int64
	for pattern, subs := range h.patterns {
		if !matchPattern(pattern, channel) {
			continue
		}
		for _, sub := range subs {
			if sub.SendPush(BuildPMessage(pattern, channel, payload)) == nil {
				n++
			}
		}
	}
	return n
}

func (h *Hub) SubscriptionCount(sub Subscriber) int {
	h.mu.RLock()
	h.patternMu.RLock()
	defer h.mu.RUnlock()
	defer h.patternMu.RUnlock()
	return len(h.subscribers[sub.ID()]) + len(h.subPatterns[sub.ID()])
}

func (h *Hub) ChannelSubscriberCount(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int64(len(h.subscriptions[channel]))
}

// BuildSubscribeResponse/.. construct the exact 3-element array replies
// SUBSCRIBE-family commands send per spec.md §4.5.
func BuildSubscribeResponse(channel string, count int64) resp.Value {
	return resp.Arr(resp.BulkStr("subscribe"), resp.BulkStr(channel), resp.Int(count))
}

func BuildUnsubscribeResponse(channel string, count int64) resp.Value {
	return resp.Arr(resp.BulkStr("unsubscribe"), resp.BulkStr(channel), resp.Int(count))
}

func BuildPSubscribeResponse(pattern string, count int64) resp.Value {
	return resp.Arr(resp.BulkStr("psubscribe"), resp.BulkStr(pattern), resp.Int(count))
}

func BuildPUnsubscribeResponse(pattern string, count int64) resp.Value {
	return resp.Arr(resp.BulkStr("punsubscribe"), resp.BulkStr(pattern), resp.Int(count))
}

func BuildMessage(channel, payload string) resp.Value {
	return resp.Arr(resp.BulkStr("message"), resp.BulkStr(channel), resp.BulkStr(payload))
}

func BuildPMessage(pattern, channel, payload string) resp.Value {
	return resp.Arr(resp.BulkStr("pmessage"), resp.BulkStr(pattern), resp.BulkStr(channel), resp.BulkStr(payload))
}

// matchPattern implements a simpler glob dialect than storage.Keys: it
// supports '*', '?' and '\' escapes, but not '[...]' character classes.
func matchPattern(pattern, s string) bool {
	return globMatch([]rune(pattern), []rune(s))
}

func globMatch(pat, str []rune) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case '*':
			for len(pat) > 1 && pat[1] == '*' {
				pat = pat[1:]
			}
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(str); i++ {
				if globMatch(pat[1:], str[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(str) == 0 {
				return false
			}
			pat, str = pat[1:], str[1:]
		case '\\':
			if len(pat) > 1 {
				pat = pat[1:]
			}
			if len(str) == 0 || str[0] != pat[0] {
				return false
			}
			pat, str = pat[1:], str[1:]
		default:
			if len(str) == 0 || str[0] != pat[0] {
				return false
			}
			pat, str = pat[1:], str[1:]
		}
	}
	return len(str) == 0
}
