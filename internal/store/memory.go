package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements the Store contract in process memory with the same
// path semantics as the Redis backend. Used by tests and by the "memory"
// store driver for local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*memRecord
}

type memRecord struct {
	doc       []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]*memRecord),
	}
}

func (s *MemoryStore) SetPoll(_ context.Context, pollID string, doc []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cloned := make([]byte, len(doc))
	copy(cloned, doc)
	s.recs[Key(pollID)] = &memRecord{
		doc:       cloned,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) GetPoll(_ context.Context, pollID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := s.live(pollID)
	if err != nil {
		return nil, err
	}
	cloned := make([]byte, len(rec.doc))
	copy(cloned, rec.doc)
	return cloned, nil
}

func (s *MemoryStore) SetPath(_ context.Context, pollID, path string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.live(pollID)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal(value, &parsed); err != nil {
		return fmt.Errorf("invalid value for %s: %w", path, err)
	}

	doc, err := applyPath(rec.doc, path, parsed, false)
	if err != nil {
		return err
	}
	rec.doc = doc
	return nil
}

func (s *MemoryStore) DelPath(_ context.Context, pollID, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.live(pollID)
	if err != nil {
		return err
	}

	doc, err := applyPath(rec.doc, path, nil, true)
	if err != nil {
		return err
	}
	rec.doc = doc
	return nil
}

func (s *MemoryStore) DelPoll(_ context.Context, pollID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.recs, Key(pollID))
	return nil
}

// live returns the record if present and not expired. Expired records are
// treated as absent; the caller holds at least a read lock.
func (s *MemoryStore) live(pollID string) (*memRecord, error) {
	rec, ok := s.recs[Key(pollID)]
	if !ok {
		return nil, ErrNotFound
	}
	if time.Now().After(rec.expiresAt) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// applyPath sets or deletes a dotted field path inside a JSON document.
// Intermediate objects are created on set; deleting an absent path is a no-op.
func applyPath(doc []byte, path string, value any, del bool) ([]byte, error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		if del {
			return nil, fmt.Errorf("cannot delete root path via DelPath")
		}
		return json.Marshal(value)
	}

	var root map[string]any
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("corrupt document: %w", err)
	}

	node := root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if del {
				return doc, nil
			}
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}

	last := segments[len(segments)-1]
	if del {
		delete(node, last)
	} else {
		node[last] = value
	}

	return json.Marshal(root)
}

func splitPath(path string) []string {
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}
