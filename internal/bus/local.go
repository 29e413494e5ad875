package bus

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"
)

var errClosed = errors.New("bus: local bus is closed")

// LocalBus is the single-node degraded-mode implementation of Bus: an
// in-process pub/sub plus a TTL key-value store, satisfying the same
// interface Redis does so the rest of the system never branches on
// which one is active, per spec.md §4.3.
type LocalBus struct {
	mu          sync.Mutex
	subscribers map[string][]chan Message
	kv          map[string]localEntry
	sets        map[string]map[string]struct{}
	closed      bool
	stop        chan struct{}
}

type localEntry struct {
	value     string
	expiresAt time.Time
	hasTTL    bool
}

func NewLocal() *LocalBus {
	b := &LocalBus{
		subscribers: make(map[string][]chan Message),
		kv:          make(map[string]localEntry),
		sets:        make(map[string]map[string]struct{}),
		stop:        make(chan struct{}),
	}
	go b.expireLoop()
	return b
}

func (b *LocalBus) expireLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for k, e := range b.kv {
				if e.hasTTL && now.After(e.expiresAt) {
					delete(b.kv, k)
				}
			}
			b.mu.Unlock()
		}
	}
}

func (b *LocalBus) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *LocalBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := append([]chan Message(nil), b.subscribers[topic]...)
	b.mu.Unlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	out := make(chan Message, 64)
	b.mu.Lock()
	for _, topic := range topics {
		b.subscribers[topic] = append(b.subscribers[topic], out)
	}
	b.mu.Unlock()

	return &localSubscription{bus: b, topics: topics, out: out}, nil
}

type localSubscription struct {
	bus    *LocalBus
	topics []string
	out    chan Message
	once   sync.Once
}

func (s *localSubscription) Channel() <-chan Message { return s.out }

func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for _, topic := range s.topics {
			subs := s.bus.subscribers[topic]
			for i, ch := range subs {
				if ch == s.out {
					s.bus.subscribers[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		}
		close(s.out)
	})
	return nil
}

func (b *LocalBus) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.hasTTL = true
		entry.expiresAt = time.Now().Add(ttl)
	}
	b.kv[key] = entry
	return nil
}

func (b *LocalBus) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.kv[key]
	if !ok {
		return "", false, nil
	}
	if entry.hasTTL && time.Now().After(entry.expiresAt) {
		delete(b.kv, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (b *LocalBus) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.kv, key)
	return nil
}

func (b *LocalBus) AddToSet(ctx context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sets[key]
	if !ok {
		set = make(map[string]struct{})
		b.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (b *LocalBus) RemoveFromSet(ctx context.Context, key, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(b.sets, key)
		}
	}
	return nil
}

func (b *LocalBus) SetMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.sets[key]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(set))
	for member := range set {
		out = append(out, member)
	}
	return out, nil
}

// Increment mirrors RedisBus.Increment's fixed-window semantics: the
// window's TTL is set only when the key is (re)created, not refreshed on
// every hit.
func (b *LocalBus) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.kv[key]
	if ok && entry.hasTTL && time.Now().After(entry.expiresAt) {
		ok = false
	}

	var count int64
	if ok {
		count, _ = strconv.ParseInt(entry.value, 10, 64)
		count++
		entry.value = strconv.FormatInt(count, 10)
	} else {
		count = 1
		entry = localEntry{value: "1"}
		if ttl > 0 {
			entry.hasTTL = true
			entry.expiresAt = time.Now().Add(ttl)
		}
	}
	b.kv[key] = entry
	return count, nil
}

// Ping returns errClosed once Close has been called and nil otherwise:
// the in-process fallback has no external dependency to probe.
func (b *LocalBus) Ping(ctx context.Context) error {
	if b.Closed() {
		return errClosed
	}
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.stop)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	return nil
}
