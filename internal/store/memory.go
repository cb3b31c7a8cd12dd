package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/weather-station-feed/internal/sensor"
)

var (
	// ErrNotFound is returned when no state is known for a sensor.
	ErrNotFound = errors.New("no state for sensor")
)

// MemoryStore is a concurrency-safe in-memory store of the latest state of
// each sensor. It keeps no history.
type MemoryStore struct {
	mu sync.RWMutex

	// key: sensor id
	data map[string]sensor.State

	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]sensor.State),
		now:  time.Now,
	}
}

// WriteState replaces the stored state of st.ID. A state without an update
// time is stamped with the time of the write.
func (s *MemoryStore) WriteState(_ context.Context, st sensor.State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[st.ID] = st
	return nil
}

// Get returns the latest state of the sensor with the given id.
func (s *MemoryStore) Get(id string) (sensor.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.data[id]
	if !ok {
		return sensor.State{}, ErrNotFound
	}
	return st, nil
}

// List returns all known states ordered by sensor name.
func (s *MemoryStore) List() []sensor.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]sensor.State, 0, len(s.data))
	for _, st := range s.data {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
