package authorize

import (
	"sync"

	"github.com/ppiankov/intentgate/internal/alert"
)

// generation is one pipeline together with the webhooks it dispatches
// and the requests currently using it.
type generation struct {
	pipeline *Pipeline
	alerts   *alert.Dispatcher
	inflight sync.WaitGroup
}

// Swapper holds the pipeline serving requests on a long-running surface.
// Replaced pipelines are forgotten once their in-flight requests and
// webhook deliveries have finished.
type Swapper struct {
	mu       sync.RWMutex
	cur      *generation
	retiring map[*generation]struct{}
}

// Swap makes p the current pipeline. alerts is the dispatcher p was built
// with, or nil.
func (s *Swapper) Swap(p *Pipeline, alerts *alert.Dispatcher) {
	g := &generation{pipeline: p, alerts: alerts}

	s.mu.Lock()
	prev := s.cur
	s.cur = g
	if prev != nil {
		if s.retiring == nil {
			s.retiring = make(map[*generation]struct{})
		}
		s.retiring[prev] = struct{}{}
	}
	s.mu.Unlock()

	if prev != nil {
		go s.retire(prev)
	}
}

// No Acquire can reach g once it is swapped out, so its counter only falls.
func (s *Swapper) retire(g *generation) {
	g.inflight.Wait()
	g.alerts.Wait()
	s.mu.Lock()
	delete(s.retiring, g)
	s.mu.Unlock()
}

// Acquire returns the current pipeline and a release func that must be
// called when the request is done with it. It panics before the first Swap.
func (s *Swapper) Acquire() (*Pipeline, func()) {
	s.mu.RLock()
	g := s.cur
	g.inflight.Add(1)
	s.mu.RUnlock()
	return g.pipeline, g.inflight.Done
}

// Retiring reports how many replaced pipelines are still draining.
func (s *Swapper) Retiring() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.retiring)
}

// Drain waits for pending webhooks of the current pipeline and of every
// pipeline still retiring. Call it after the surface stops taking requests.
func (s *Swapper) Drain() {
	s.mu.RLock()
	cur := s.cur
	gens := make([]*generation, 0, len(s.retiring))
	for g := range s.retiring {
		gens = append(gens, g)
	}
	s.mu.RUnlock()

	for _, g := range gens {
		g.inflight.Wait()
		g.alerts.Wait()
	}
	if cur != nil {
		cur.alerts.Wait()
	}
}
