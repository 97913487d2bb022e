package ephemeral

import (
	"context"
	"path"
	"sync"
	"time"
)

// MemoryStore is the in-process Store twin. It backs tests and dev mode and
// honors TTLs, SetNX atomicity, and pattern pub/sub.
type MemoryStore struct {
	mu      sync.RWMutex
	strings map[string]memoryValue
	hashes  map[string]memoryHash
	sets    map[string]map[string]struct{}
	subs    map[int]*memorySub
	nextSub int
	closed  bool

	nowFunc func() time.Time
}

type memoryValue struct {
	value     string
	expiresAt time.Time
}

type memoryHash struct {
	fields    map[string]string
	expiresAt time.Time
}

type memorySub struct {
	store   *MemoryStore
	id      int
	pattern string
	ch      chan memoryMessage
	done    chan struct{}
}

type memoryMessage struct {
	channel string
	payload []byte
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strings: make(map[string]memoryValue),
		hashes:  make(map[string]memoryHash),
		sets:    make(map[string]map[string]struct{}),
		subs:    make(map[int]*memorySub),
		nowFunc: time.Now,
	}
}

// SetNowFunc injects a clock for TTL tests.
func (s *MemoryStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.nowFunc = fn
	s.mu.Unlock()
}

func (s *MemoryStore) now() time.Time { return s.nowFunc() }

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (v memoryValue) expired(now time.Time) bool {
	return !v.expiresAt.IsZero() && !v.expiresAt.After(now)
}

func (h memoryHash) expired(now time.Time) bool {
	return !h.expiresAt.IsZero() && !h.expiresAt.After(now)
}

func (s *MemoryStore) GetString(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.strings[key]
	if !ok {
		return "", false, nil
	}
	if v.expired(s.now()) {
		delete(s.strings, key)
		return "", false, nil
	}
	return v.value, true, nil
}

func (s *MemoryStore) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[key] = memoryValue{value: value, expiresAt: expiry(s.now(), ttl)}
	return nil
}

func (s *MemoryStore) SetStringNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.strings[key]; ok && !v.expired(s.now()) {
		return false, nil
	}
	s.strings[key] = memoryValue{value: value, expiresAt: expiry(s.now(), ttl)}
	return true, nil
}

func (s *MemoryStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		return map[string]string{}, nil
	}
	if h.expired(s.now()) {
		delete(s.hashes, key)
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) HashSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashSetLocked(key, fields, ttl)
	return nil
}

func (s *MemoryStore) hashSetLocked(key string, fields map[string]string, ttl time.Duration) {
	now := s.now()
	h, ok := s.hashes[key]
	if !ok || h.expired(now) {
		h = memoryHash{fields: make(map[string]string)}
	}
	for k, v := range fields {
		h.fields[k] = v
	}
	if ttl > 0 {
		h.expiresAt = expiry(now, ttl)
	}
	s.hashes[key] = h
}

func (s *MemoryStore) SetAdd(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAddLocked(key, member)
	return nil
}

func (s *MemoryStore) setAddLocked(key, member string) {
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
}

func (s *MemoryStore) SetRemove(ctx context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setRemoveLocked(key, member)
	return nil
}

func (s *MemoryStore) setRemoveLocked(key, member string) {
	if set, ok := s.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(s.sets, key)
		}
	}
}

func (s *MemoryStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.sets[key]
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var keys []string
	for k, v := range s.strings {
		if v.expired(now) {
			delete(s.strings, k)
			continue
		}
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k, h := range s.hashes {
		if h.expired(now) {
			delete(s.hashes, k)
			continue
		}
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range s.sets {
		if globMatch(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if v, ok := s.strings[key]; ok && !v.expired(now) {
		return true, nil
	}
	if h, ok := s.hashes[key]; ok && !h.expired(now) {
		return true, nil
	}
	_, ok := s.sets[key]
	return ok, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if v, ok := s.strings[key]; ok && !v.expired(now) {
		v.expiresAt = expiry(now, ttl)
		s.strings[key] = v
	}
	if h, ok := s.hashes[key]; ok && !h.expired(now) {
		h.expiresAt = expiry(now, ttl)
		s.hashes[key] = h
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.deleteLocked(k)
	}
	return nil
}

func (s *MemoryStore) deleteLocked(key string) {
	delete(s.strings, key)
	delete(s.hashes, key)
	delete(s.sets, key)
}

func (s *MemoryStore) Publish(ctx context.Context, channel string, payload []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if globMatch(sub.pattern, channel) {
			select {
			case sub.ch <- memoryMessage{channel: channel, payload: payload}:
			default:
				// Slow subscriber; drop rather than block the publisher.
			}
		}
	}
	return nil
}

func (s *MemoryStore) PatternSubscribe(ctx context.Context, pattern string, handler func(channel string, payload []byte)) (Subscription, error) {
	sub := &memorySub{
		store:   s,
		pattern: pattern,
		ch:      make(chan memoryMessage, 256),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.nextSub++
	sub.id = s.nextSub
	s.subs[sub.id] = sub
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case msg := <-sub.ch:
				handler(msg.channel, msg.payload)
			}
		}
	}()
	return sub, nil
}

func (sub *memorySub) Close() error {
	sub.store.mu.Lock()
	if _, ok := sub.store.subs[sub.id]; ok {
		delete(sub.store.subs, sub.id)
		close(sub.done)
	}
	sub.store.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrUnavailable
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, sub := range s.subs {
		delete(s.subs, id)
		close(sub.done)
	}
	return nil
}

// Pipeline batches writes; Exec applies them under one lock.
func (s *MemoryStore) Pipeline() Pipeline {
	return &memoryPipeline{store: s}
}

type memoryPipeline struct {
	store *MemoryStore
	ops   []func()
}

func (p *memoryPipeline) SetString(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, func() {
		p.store.strings[key] = memoryValue{value: value, expiresAt: expiry(p.store.now(), ttl)}
	})
}

func (p *memoryPipeline) HashSet(key string, fields map[string]string, ttl time.Duration) {
	p.ops = append(p.ops, func() { p.store.hashSetLocked(key, fields, ttl) })
}

func (p *memoryPipeline) SetAdd(key, member string) {
	p.ops = append(p.ops, func() { p.store.setAddLocked(key, member) })
}

func (p *memoryPipeline) SetRemove(key, member string) {
	p.ops = append(p.ops, func() { p.store.setRemoveLocked(key, member) })
}

func (p *memoryPipeline) Delete(keys ...string) {
	p.ops = append(p.ops, func() {
		for _, k := range keys {
			p.store.deleteLocked(k)
		}
	})
}

func (p *memoryPipeline) Expire(key string, ttl time.Duration) {
	p.ops = append(p.ops, func() {
		now := p.store.now()
		if v, ok := p.store.strings[key]; ok {
			v.expiresAt = expiry(now, ttl)
			p.store.strings[key] = v
		}
		if h, ok := p.store.hashes[key]; ok {
			h.expiresAt = expiry(now, ttl)
			p.store.hashes[key] = h
		}
	})
}

func (p *memoryPipeline) Exec(ctx context.Context) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, op := range p.ops {
		op()
	}
	p.ops = nil
	return nil
}

// globMatch matches redis-style glob patterns. Keys never contain '/', so
// path.Match semantics line up with redis '*' and '?'.
func globMatch(pattern, s string) bool {
	ok, err := path.Match(pattern, s)
	return err == nil && ok
}
