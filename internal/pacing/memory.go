package pacing

import (
	"context"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
)

// MemoryStore keeps pacing state in process. Suitable when one worker process owns all campaigns.
type MemoryStore struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{last: make(map[string]time.Time)}
}

func (s *MemoryStore) LastSend(_ context.Context, campaignID string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[campaignID]
	return t, ok, nil
}

func (s *MemoryStore) RecordSend(_ context.Context, campaignID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.last[campaignID]; ok && !at.After(cur) {
		return nil
	}
	s.last[campaignID] = at
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, campaignID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, campaignID)
	return nil
}

// MemoryLocker is a per-campaign try-lock with expiry.
type MemoryLocker struct {
	mu      sync.Mutex
	held    map[string]memoryHold
	seq     uint64
	timeNow func() time.Time
}

type memoryHold struct {
	token   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryHold), timeNow: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, campaignID string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.timeNow()
	if h, ok := l.held[campaignID]; ok && now.Before(h.expires) {
		return nil, appErrors.ErrLockNotAcquired
	}
	l.seq++
	l.held[campaignID] = memoryHold{token: l.seq, expires: now.Add(ttl)}
	return &memoryLock{locker: l, campaignID: campaignID, token: l.seq}, nil
}

type memoryLock struct {
	locker     *MemoryLocker
	campaignID string
	token      uint64
}

func (m *memoryLock) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if h, ok := m.locker.held[m.campaignID]; ok && h.token == m.token {
		delete(m.locker.held, m.campaignID)
	}
	return nil
}
