package crawl

import (
	"sync"

	"github.com/user/surface-mapper/internal/entity"
)

// ResultSink is the monitor-guarded results list shared by all workers and
// consumed by the engine loop. Publication order is completion order; no
// ordering is guaranteed relative to claim order.
type ResultSink struct {
	mu      sync.Mutex
	cond    *sync.Cond
	results []*entity.CrawlResult
	closed  bool
}

func NewResultSink() *ResultSink {
	s := &ResultSink{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Publish appends one result and wakes the consumer.
func (s *ResultSink) Publish(res *entity.CrawlResult) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
	s.cond.Signal()
}

// Next blocks until a result is available and pops it. Once the sink is
// closed it drains what remains, then reports ok=false.
func (s *ResultSink) Next() (*entity.CrawlResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.results) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.results) == 0 {
		return nil, false
	}
	res := s.results[0]
	s.results = s.results[1:]
	return res, true
}

// Close marks the sink as finished and wakes the consumer. Idempotent.
func (s *ResultSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Len returns the number of unconsumed results.
func (s *ResultSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}
