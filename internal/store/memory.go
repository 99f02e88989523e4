package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is the in-process Store used by tests and by offline runs without a
// Redis instance. It preserves sorted-set score ordering and TTL semantics.
// The clock is injectable so expiry can be driven deterministically.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	values map[string]string
	hashes map[string]map[string]string
	zsets  map[string]map[string]float64 // member → score
	sets   map[string]map[string]bool
	expiry map[string]time.Time // absent = no expiry
}

// NewMemory creates an empty in-memory store using the wall clock.
func NewMemory() *Memory {
	return NewMemoryAt(time.Now)
}

// NewMemoryAt creates an in-memory store with an injected clock.
func NewMemoryAt(now func() time.Time) *Memory {
	return &Memory{
		now:    now,
		values: make(map[string]string),
		hashes: make(map[string]map[string]string),
		zsets:  make(map[string]map[string]float64),
		sets:   make(map[string]map[string]bool),
		expiry: make(map[string]time.Time),
	}
}

// expireLocked drops the key in every namespace if its TTL has lapsed.
func (m *Memory) expireLocked(key string) {
	deadline, ok := m.expiry[key]
	if !ok || m.now().Before(deadline) {
		return
	}
	delete(m.values, key)
	delete(m.hashes, key)
	delete(m.zsets, key)
	delete(m.sets, key)
	delete(m.expiry, key)
}

func (m *Memory) setExpiryLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		m.expiry[key] = m.now().Add(ttl)
	} else {
		delete(m.expiry, key)
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	m.setExpiryLocked(key, ttl)
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = value
	m.setExpiryLocked(key, ttl)
	return true, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
		delete(m.hashes, key)
		delete(m.zsets, key)
		delete(m.sets, key)
		delete(m.expiry, key)
	}
	return nil
}

func (m *Memory) IncrByFloat(_ context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	cur, _ := strconv.ParseFloat(m.values[key], 64)
	cur += delta
	m.values[key] = strconv.FormatFloat(cur, 'f', -1, 64)
	return cur, nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	for _, f := range fields {
		delete(m.hashes[key], f)
	}
	return nil
}

func (m *Memory) ZAdd(_ context.Context, key string, members ...ZMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	for _, mem := range members {
		z[mem.Member] = mem.Score
	}
	return nil
}

func (m *Memory) ZRangeByScore(_ context.Context, key string, min, max float64) ([]ZMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	var out []ZMember
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			out = append(out, ZMember{Score: score, Member: member})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Member < out[j].Member
	})
	return out, nil
}

func (m *Memory) ZRemRangeByScore(_ context.Context, key string, min, max float64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	var removed int64
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			delete(m.zsets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	return int64(len(m.zsets[key])), nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]bool)
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = true
	}
	return nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	for _, mem := range members {
		delete(m.sets[key], mem)
	}
	return nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	out := make([]string, 0, len(m.sets[key]))
	for mem := range m.sets[key] {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	return m.sets[key][member], nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setExpiryLocked(key, ttl)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
