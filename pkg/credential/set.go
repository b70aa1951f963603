package credential

import (
	"errors"
	"sync"
)

// Set errors.
var (
	ErrExhausted     = errors.New("no credentials remaining")
	ErrNoCredentials = errors.New("credential set is empty")
)

// Set is an ordered list of candidate credentials, consumed front-to-back.
// A discarded credential is never retried. Set is safe for concurrent use.
type Set struct {
	mu sync.Mutex

	// Remaining candidates, head first
	creds []Credential

	// Total discarded since construction
	discarded int
}

// NewSet creates a credential set from the given candidates, in order.
// At least one credential must be present to attempt initialization.
func NewSet(creds ...Credential) (*Set, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	for _, c := range creds {
		if !c.Valid() {
			return nil, errors.New("credential missing device ID, hub host or key")
		}
	}

	s := &Set{creds: make([]Credential, len(creds))}
	copy(s.creds, creds)
	return s, nil
}

// Head returns the current head credential.
// Returns ErrExhausted when no candidates remain.
func (s *Set) Head() (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.creds) == 0 {
		return Credential{}, ErrExhausted
	}
	return s.creds[0], nil
}

// DiscardHead permanently removes the head credential.
// Returns the number of candidates remaining.
func (s *Set) DiscardHead() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.creds) == 0 {
		return 0
	}
	s.creds = s.creds[1:]
	s.discarded++
	return len(s.creds)
}

// Remaining returns the number of candidates not yet discarded.
func (s *Set) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.creds)
}

// Discarded returns the number of credentials discarded since construction.
func (s *Set) Discarded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discarded
}

// DiscardFirst discards the first n credentials without attempting them.
// Used when restoring persisted state so a restart does not retry a key
// the hub has already rejected.
func (s *Set) DiscardFirst(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n > len(s.creds) {
		n = len(s.creds)
	}
	s.creds = s.creds[n:]
	s.discarded += n
}
