package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is the handle of the detection request currently in flight.
type Request struct {
	ID      uuid.UUID
	Started time.Time
}

// requestGuard is a single slot: at most one Request may hold it.
type requestGuard struct {
	mu      sync.Mutex
	current *Request
}

// acquire returns a new handle, or false when the slot is taken
func (g *requestGuard) acquire(now time.Time) (*Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current != nil {
		return nil, false
	}
	g.current = &Request{
		ID:      uuid.New(),
		Started: now,
	}
	return g.current, true
}

// release frees the slot if it is still held by req
func (g *requestGuard) release(req *Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == req {
		g.current = nil
	}
}

func (g *requestGuard) outstanding() (Request, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Request{}, false
	}
	return *g.current, true
}
