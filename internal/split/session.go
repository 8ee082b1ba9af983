package split

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"
)

// Session is an in-memory ports.AssignmentStore, safe for concurrent use.
// Hosts with their own session storage implement the interface directly.
type Session struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewSession() *Session {
	return &Session{values: make(map[string]string)}
}

func (s *Session) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *Session) Set(key, alternative string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = alternative
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Keys returns the assignment keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// MarshalJSON encodes the session as a flat object of key to alternative.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.values)
}

func (s *Session) UnmarshalJSON(data []byte) error {
	values := make(map[string]string)
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = values
	return nil
}

// Overrides maps experiment names to a requested alternative.
type Overrides map[string]string

func (o Overrides) Requested(experiment string) (string, bool) {
	v, ok := o[experiment]
	return v, ok && v != ""
}
