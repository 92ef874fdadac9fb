package history

import (
	"sync"

	"firewatch/internal/model"
)

// Store keeps a bounded ring of recent sensor readings for display. Only the
// latest reading is authoritative for state decisions; the rest exist for
// the history endpoint.
type Store struct {
	mu    sync.RWMutex
	buf   []model.SensorReading
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 50
	}
	return &Store{limit: limit}
}

func (s *Store) Add(reading model.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, reading)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = reading
}

func (s *Store) Latest() (model.SensorReading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.buf) == 0 {
		return model.SensorReading{}, false
	}
	return s.buf[len(s.buf)-1], true
}

func (s *Store) List(limit int) []model.SensorReading {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.SensorReading, 0, limit)
	start := len(s.buf) - limit
	if start < 0 {
		start = 0
	}
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
