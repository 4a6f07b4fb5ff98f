package storage

import (
	"context"
	"sync"

	"traffic-router/internal/engine"
)

// Memory is the in-process backend used by tests and local development.
// Increments are serialized behind the mutex, so the counter contract holds.
type Memory struct {
	mu      sync.RWMutex
	targets map[string]engine.Target
	order   []string // insertion order, so List is deterministic
	counts  map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		targets: make(map[string]engine.Target),
		counts:  make(map[string]int64),
	}
}

func (s *Memory) Upsert(_ context.Context, t engine.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.targets[t.ID]; !ok {
		s.order = append(s.order, t.ID)
	}
	s.targets[t.ID] = cloneTarget(t)
	return nil
}

func (s *Memory) List(_ context.Context) ([]engine.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]engine.Target, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneTarget(s.targets[id]))
	}
	return out, nil
}

func (s *Memory) Get(_ context.Context, id string) (engine.Target, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.targets[id]
	if !ok {
		return engine.Target{}, engine.ErrNotFound
	}
	return cloneTarget(t), nil
}

func (s *Memory) Count(_ context.Context, id string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[id], nil
}

func (s *Memory) Increment(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[id]++
	return s.counts[id], nil
}

func (s *Memory) Ping(context.Context) error { return nil }

func (s *Memory) Close() {}

// cloneTarget copies the rule slices so callers cannot alias stored state.
func cloneTarget(t engine.Target) engine.Target {
	t.Accept.GeoState.In = append([]string(nil), t.Accept.GeoState.In...)
	t.Accept.Hour.In = append([]string(nil), t.Accept.Hour.In...)
	return t
}
