// Package history remembers values an operator submitted per input field
// and answers substring queries for suggestions.
package history

import (
	"sort"
	"strings"
	"sync"
)

// Store keeps submitted values per field id in submission order.
type Store struct {
	mu     sync.RWMutex
	fields map[string][]string
	limit  int
}

// New creates a store. A positive limit caps each field, dropping the
// oldest entries first.
func New(limit int) *Store {
	return &Store{fields: make(map[string][]string), limit: limit}
}

// Record appends value to the field's history. Empty values are ignored.
func (s *Store) Record(field, value string) {
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[field] = s.trim(append(s.fields[field], value))
}

// Replace overwrites the field's history.
func (s *Store) Replace(field string, values []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields[field] = s.trim(append([]string(nil), values...))
}

// Suggest returns every recorded value of field containing term,
// case-insensitively, in recorded order. An empty term matches all.
func (s *Store) Suggest(field, term string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	term = strings.ToLower(term)
	matches := make([]string, 0, len(s.fields[field]))
	for _, choice := range s.fields[field] {
		if strings.Contains(strings.ToLower(choice), term) {
			matches = append(matches, choice)
		}
	}
	return matches
}

// Fields returns the known field ids, sorted.
func (s *Store) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.fields))
	for id := range s.fields {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Store) trim(values []string) []string {
	if s.limit > 0 && len(values) > s.limit {
		return values[len(values)-s.limit:]
	}
	return values
}
