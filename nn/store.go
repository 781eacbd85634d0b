package nn

import (
	"fmt"

	"cvaesurgery/tensor"
)

// Store is an ordered parameter dictionary, e.g. "fc1.weight" -> (out, in) matrix.
// A Store is not safe for concurrent mutation.
type Store struct {
	keys   []string
	params map[string]*tensor.Tensor
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{params: make(map[string]*tensor.Tensor)}
}

// Set stores t under key. New keys are appended to the key order.
func (s *Store) Set(key string, t *tensor.Tensor) {
	if _, ok := s.params[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.params[key] = t
}

// Get returns the tensor stored under key.
func (s *Store) Get(key string) (*tensor.Tensor, bool) {
	t, ok := s.params[key]
	return t, ok
}

// Delete removes key, keeping the order of the remaining keys.
func (s *Store) Delete(key string) {
	if _, ok := s.params[key]; !ok {
		return
	}
	delete(s.params, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (s *Store) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len is the number of entries.
func (s *Store) Len() int { return len(s.keys) }

// Clone returns a deep copy of s.
func (s *Store) Clone() *Store {
	c := &Store{
		keys:   append([]string(nil), s.keys...),
		params: make(map[string]*tensor.Tensor, len(s.params)),
	}
	for k, t := range s.params {
		c.params[k] = t.Clone()
	}
	return c
}

// Equal reports whether both stores hold the same keys, in the same order, with equal tensors.
func (s *Store) Equal(o *Store) bool {
	if len(s.keys) != len(o.keys) {
		return false
	}
	for i, k := range s.keys {
		if o.keys[i] != k || !tensor.Equal(s.params[k], o.params[k]) {
			return false
		}
	}
	return true
}

// Shape returns the shape stored under key formatted for reports.
func (s *Store) Shape(key string) string {
	t, ok := s.params[key]
	if !ok {
		return "<missing>"
	}
	return fmt.Sprint(t.Shape)
}
