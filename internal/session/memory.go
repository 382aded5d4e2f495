package session

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/chatgate/internal/log"
)

// MemoryStore keeps sessions in process memory. Sessions do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]Record
}

// NewMemoryStore creates an in-process store whose sessions idle out after ttl.
func NewMemoryStore(ttl time.Duration, opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		ttl:     ttl,
		now:     o.now,
		records: make(map[string]Record),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, username string) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	s.mu.Lock()
	s.records[token] = Record{
		Token:         token,
		Username:      username,
		CreatedAt:     now,
		LastTouchedAt: now,
		ExpiresAt:     now.Add(s.ttl),
	}
	s.mu.Unlock()
	return token, nil
}

// Resolve implements Store.
func (s *MemoryStore) Resolve(_ context.Context, token string) (Record, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[token]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Expired(now) {
		delete(s.records, token)
		return Record{}, ErrNotFound
	}

	rec.LastTouchedAt = now
	rec.ExpiresAt = now.Add(s.ttl)
	s.records[token] = rec
	return rec, nil
}

// Destroy implements Store.
func (s *MemoryStore) Destroy(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.records, token)
	s.mu.Unlock()
	return nil
}

// Len returns the number of records held, expired ones included until swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Sweep drops expired records and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, token)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps expired records every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				l := log.L()
				l.Debug().Int("removed", n).Msg("swept expired sessions")
			}
		}
	}
}
