package plugin

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Set holds the bridges of a running plugin set in startup order
type Set struct {
	mu      sync.RWMutex
	bridges map[string]*Bridge
	order   []string
}

// NewSet creates an empty Set
func NewSet() *Set {
	return &Set{bridges: make(map[string]*Bridge)}
}

// Add appends b. Plugin ids are unique within a set.
func (s *Set) Add(b *Bridge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := b.ID()
	if _, exists := s.bridges[id]; exists {
		return &LoadError{Kind: LoadErrorDuplicateID, PluginID: id}
	}
	s.bridges[id] = b
	s.order = append(s.order, id)
	return nil
}

// Get returns the bridge for id
func (s *Set) Get(id string) (*Bridge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bridges[id]
	return b, ok
}

// IDs returns plugin ids in startup order
func (s *Set) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// All returns bridges in startup order
func (s *Set) All() []*Bridge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Bridge, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.bridges[id])
	}
	return out
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Close closes every bridge concurrently and returns the first failure
func (s *Set) Close() error {
	var g errgroup.Group
	for _, b := range s.All() {
		b := b
		g.Go(func() error {
			return b.Close()
		})
	}
	return g.Wait()
}

// Wait blocks until every plugin has exited. The first non-nil exit error
// is returned, tagged with its plugin id.
func (s *Set) Wait() error {
	var g errgroup.Group
	for _, b := range s.All() {
		b := b
		g.Go(func() error {
			if err := b.Wait(); err != nil {
				return fmt.Errorf("plugin %q: %w", b.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Exited returns a channel that receives the id of each plugin as it
// exits. The channel is closed after the last one.
func (s *Set) Exited() <-chan string {
	bridges := s.All()
	out := make(chan string, len(bridges))
	var wg sync.WaitGroup
	for _, b := range bridges {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-b.Exited()
			out <- b.ID()
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
