package lifecycle

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Store is an in-memory EventStore. With a positive limit the oldest events
// are evicted first.
type Store struct {
	mu     sync.RWMutex
	limit  int
	events []*Event
	byID   map[string]*Event
}

// NewStore creates a new event store
func NewStore(limit int) *Store {
	return &Store{
		limit: limit,
		byID:  make(map[string]*Event),
	}
}

// Store records a lifecycle event
func (s *Store) Store(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	s.byID[event.ID] = event
	if s.limit > 0 && len(s.events) > s.limit {
		evicted := s.events[0]
		s.events = s.events[1:]
		delete(s.byID, evicted.ID)
	}
	return nil
}

// Get retrieves a specific event by ID
func (s *Store) Get(_ context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.byID[eventID]
	if !exists {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// Query returns matching events in dispatch order, or reversed with OrderDesc.
func (s *Store) Query(_ context.Context, criteria *QueryCriteria) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Event
	for _, e := range s.events {
		if criteria.matches(e) {
			out = append(out, e)
		}
	}
	if criteria != nil && criteria.OrderDesc {
		slices.Reverse(out)
	}
	if criteria != nil && criteria.Limit > 0 && len(out) > criteria.Limit {
		out = out[:criteria.Limit]
	}
	return out, nil
}

// Delete removes matching events
func (s *Store) Delete(_ context.Context, criteria *QueryCriteria) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	for _, e := range s.events {
		if criteria.matches(e) {
			delete(s.byID, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return nil
}

// GetEventHistory returns the events of one module after since
func (s *Store) GetEventHistory(ctx context.Context, module int64, since time.Time) ([]*Event, error) {
	return s.Query(ctx, &QueryCriteria{Modules: []int64{module}, Since: &since})
}

func (c *QueryCriteria) matches(e *Event) bool {
	if c == nil {
		return true
	}
	if len(c.EventTypes) > 0 && !slices.Contains(c.EventTypes, e.Type) {
		return false
	}
	if len(c.Modules) > 0 && !slices.Contains(c.Modules, e.Module) {
		return false
	}
	if c.Since != nil && !e.Timestamp.After(*c.Since) {
		return false
	}
	if c.Until != nil && e.Timestamp.After(*c.Until) {
		return false
	}
	return true
}
