// Package crawl implements the concurrent crawl engine: the shared
// frontier, the worker pool that drives probe round-trips, and the result
// sink consumed by the engine loop.
package crawl

import (
	"errors"
	"sync"

	"github.com/user/surface-mapper/internal/entity"
)

// ErrExitRequested is the control signal that shuts a worker down
// gracefully. Not a failure.
var ErrExitRequested = errors.New("exit requested")

// Frontier is the shared, append-only request sequence with a monotonic
// claim cursor. The sequence, the cursor and the exit flag are guarded by
// one monitor; the condition doubles as "new work" and "exit" signaling.
type Frontier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	requests []*entity.Request
	cursor   int
	exit     bool
}

func NewFrontier() *Frontier {
	f := &Frontier{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// ClaimNext blocks until a request is available or an exit is requested.
// No two calls ever return the same index. Wakes are re-checked in a loop,
// so broadcast and spurious wakeups are tolerated.
func (f *Frontier) ClaimNext() (*entity.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		if f.exit {
			// Make sure every other blocked worker gets its own turn to
			// observe the flag.
			f.cond.Broadcast()
			return nil, ErrExitRequested
		}
		if f.cursor < len(f.requests) {
			req := f.requests[f.cursor]
			f.cursor++
			return req, nil
		}
		f.cond.Wait()
	}
}

// Append adds requests to the sequence and wakes blocked workers. The
// sequence is never truncated or reordered during a run.
func (f *Frontier) Append(reqs ...*entity.Request) {
	if len(reqs) == 0 {
		return
	}
	f.mu.Lock()
	f.requests = append(f.requests, reqs...)
	f.mu.Unlock()
	f.cond.Broadcast()
}

// RequestExit sets the exit flag and wakes all blocked workers.
func (f *Frontier) RequestExit() {
	f.mu.Lock()
	f.exit = true
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Backlog returns the number of appended-but-unclaimed requests.
func (f *Frontier) Backlog() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) - f.cursor
}
