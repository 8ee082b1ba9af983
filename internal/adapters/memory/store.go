// Package memory provides an in-process ports.Store. It backs tests and the
// simulation mode; state is lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/emiliopalmerini/msplit/internal/domain"
)

// Store keeps every key type in its own map. A single mutex serialises all
// operations, which makes each call atomic.
type Store struct {
	mu      sync.Mutex
	strings map[string]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	lists   map[string][]string
	closed  bool
}

func NewStore() *Store {
	return &Store{
		strings: make(map[string]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][]string),
	}
}

func (s *Store) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("memory store closed: %w", domain.ErrStoreUnavailable)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	return s.exists(key), nil
}

func (s *Store) exists(key string) bool {
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.hashes[key]; ok {
		return true
	}
	if _, ok := s.sets[key]; ok {
		return true
	}
	_, ok := s.lists[key]
	return ok
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.strings, k)
		delete(s.hashes, k)
		delete(s.sets, k)
		delete(s.lists, k)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	if err := s.lock(); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	v, ok := s.strings[key]
	return v, ok, nil
}

func (s *Store) Incr(_ context.Context, key string) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n, err := parseInt(s.strings[key])
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	n++
	s.strings[key] = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *Store) HGet(_ context.Context, key, field string) (string, bool, error) {
	if err := s.lock(); err != nil {
		return "", false, err
	}
	defer s.mu.Unlock()

	v, ok := s.hashes[key][field]
	return v, ok, nil
}

func (s *Store) HSet(_ context.Context, key string, values map[string]string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if len(values) == 0 {
		return nil
	}
	h := s.hash(key)
	for f, v := range values {
		h[f] = v
	}
	return nil
}

func (s *Store) HSetNX(_ context.Context, key, field, value string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	h := s.hash(key)
	if _, ok := h[field]; ok {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (s *Store) HIncrBy(_ context.Context, key, field string, n int64) (int64, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	h := s.hash(key)
	cur, err := parseInt(h[field])
	if err != nil {
		return 0, fmt.Errorf("hincrby %s %s: %w", key, field, err)
	}
	cur += n
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (s *Store) HDel(_ context.Context, key, field string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	h, ok := s.hashes[key]
	if !ok {
		return nil
	}
	delete(h, field)
	if len(h) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

func (s *Store) SAdd(_ context.Context, key, member string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *Store) SRem(_ context.Context, key, member string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	slices.Sort(members)
	return members, nil
}

func (s *Store) RPush(_ context.Context, key string, values ...string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if len(values) == 0 {
		return nil
	}
	s.lists[key] = append(s.lists[key], values...)
	return nil
}

func (s *Store) LRange(_ context.Context, key string) ([]string, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	return slices.Clone(s.lists[key]), nil
}

// Close makes every later call fail with domain.ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) hash(key string) map[string]string {
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string)
		s.hashes[key] = h
	}
	return h
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value is not an integer")
	}
	return n, nil
}
