// Package memory stores past exchanges and retrieves the ones relevant to a new input.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEntries bounds an InMemoryStore created with a non-positive size.
const DefaultMaxEntries = 1000

// Store is the memory backend consulted by an agent before and after a run.
type Store interface {
	// Store records one input/response exchange.
	Store(ctx context.Context, input, response string) error
	// Retrieve returns up to limit formatted exchanges relevant to query, best first.
	Retrieve(ctx context.Context, query string, limit int) ([]string, error)
	// Clear removes every exchange.
	Clear(ctx context.Context) error
	// Stats reports the current size of the store.
	Stats(ctx context.Context) (Stats, error)
}

// Stats describes the contents of a store.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	TotalSizeBytes int `json:"total_size_bytes"`
}

// Entry is one remembered exchange.
type Entry struct {
	CreatedAt time.Time
	ID        string
	Input     string
	Response  string
	lowered   string
}

// String formats the exchange for injection into a conversation.
func (e *Entry) String() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", e.Input, e.Response)
}

// InMemoryStore keeps the most recent exchanges in process memory.
// Relevance is the number of query words found in the remembered input.
type InMemoryStore struct {
	entries    []Entry
	maxEntries int
	now        func() time.Time
	mu         sync.RWMutex
}

// NewInMemoryStore creates a store holding at most maxEntries exchanges; the oldest is dropped first.
func NewInMemoryStore(maxEntries int) *InMemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &InMemoryStore{maxEntries: maxEntries, now: time.Now}
}

// Store records one exchange.
func (s *InMemoryStore) Store(_ context.Context, input, response string) error {
	if strings.TrimSpace(input) == "" {
		return fmt.Errorf("memory input cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{
		ID:        uuid.NewString(),
		Input:     input,
		Response:  response,
		CreatedAt: s.now(),
		lowered:   strings.ToLower(input),
	})
	if over := len(s.entries) - s.maxEntries; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// Retrieve returns up to limit exchanges sharing words with query. Entries with equal
// scores keep insertion order. A non-positive limit returns nothing.
func (s *InMemoryStore) Retrieve(_ context.Context, query string, limit int) ([]string, error) {
	words := strings.Fields(strings.ToLower(query))
	if limit <= 0 || len(words) == 0 {
		return nil, nil
	}

	type match struct {
		entry *Entry
		score int
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]match, 0)
	for i := range s.entries {
		score := 0
		for _, w := range words {
			if strings.Contains(s.entries[i].lowered, w) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, match{entry: &s.entries[i], score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]string, len(matches))
	for i := range matches {
		out[i] = matches[i].entry.String()
	}
	return out, nil
}

// Clear removes every exchange.
func (s *InMemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Stats reports entry count and stored text size.
func (s *InMemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{TotalEntries: len(s.entries)}
	for i := range s.entries {
		st.TotalSizeBytes += len(s.entries[i].Input) + len(s.entries[i].Response)
	}
	return st, nil
}

// Entries returns a copy of the stored exchanges, oldest first.
func (s *InMemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries...)
}
