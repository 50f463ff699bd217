package otp

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in development and tests, where a
// Redis instance may not be available. Expiry is checked on read.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	codes map[string]memoryCode
	now   func() time.Time
}

type memoryCode struct {
	code    string
	expires time.Time
}

// NewMemoryStore creates a MemoryStore with the given code TTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:   ttl,
		codes: make(map[string]memoryCode),
		now:   time.Now,
	}
}

func (s *MemoryStore) Issue(_ context.Context, recipient string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.codes[recipient] = memoryCode{code: code, expires: s.now().Add(s.ttl)}
	s.mu.Unlock()

	return code, nil
}

func (s *MemoryStore) Verify(_ context.Context, recipient, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[recipient]
	if !ok || s.now().After(entry.expires) {
		delete(s.codes, recipient)
		return ErrCodeMismatch
	}
	if entry.code != code {
		return ErrCodeMismatch
	}
	delete(s.codes, recipient)
	return nil
}
