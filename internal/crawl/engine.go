package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/surface-mapper/internal/entity"
	"github.com/user/surface-mapper/internal/monitoring"
)

// VisitedSet records crawl targets across the run (and, with the Redis
// implementation, across runs). Seen reports whether key was already
// recorded, recording it as a side effect.
type VisitedSet interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// ResultStore persists published crawl results.
type ResultStore interface {
	SaveResult(ctx context.Context, res *entity.CrawlResult) error
}

// Options configures an Engine run.
type Options struct {
	Workers int

	// NewProber builds one ProbeSender per worker. Each sender owns its
	// worker's private cookie-jar file.
	NewProber func() (ProbeSender, error)

	// Fallback is used when the probe path fails entirely. Nil disables it.
	Fallback Fetcher

	Adjuster Adjuster
	Visited  VisitedSet
	Store    ResultStore // nil skips persistence
	Metrics  *monitoring.Metrics
	Logger   *zap.Logger
}

// Engine owns the crawl run: it seeds the frontier, consumes results on
// the calling goroutine, folds in-scope discoveries back into the
// frontier, and requests exit once no claims are pending.
type Engine struct {
	opts     Options
	frontier *Frontier
	sink     *ResultSink
	cookies  *CookieSnapshot
	nextID   int
	results  []*entity.CrawlResult
}

func NewEngine(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{
		opts:     opts,
		frontier: NewFrontier(),
		sink:     NewResultSink(),
		cookies:  &CookieSnapshot{},
	}
}

// Run crawls until every claimed request has produced a result and no
// unclaimed work remains, or until ctx is cancelled. Cancellation is
// cooperative: in-flight probes finish, bounded by their own timeouts.
func (e *Engine) Run(ctx context.Context, seeds []*entity.Request) error {
	pending := 0
	for _, s := range seeds {
		if e.enqueue(ctx, s) {
			pending++
		}
	}
	if pending == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < e.opts.Workers; i++ {
		prober, err := e.opts.NewProber()
		if err != nil {
			e.frontier.RequestExit()
			wg.Wait()
			return fmt.Errorf("start worker %d: %w", i, err)
		}
		w := NewWorker(uuid.NewString(), e.frontier, e.sink, e.cookies, prober,
			e.opts.Fallback, e.opts.Adjuster, e.opts.Metrics, e.opts.Logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run()
		}()
	}

	// Once the last worker exits, the sink drains and reports closed,
	// which is what unblocks the consumer loop after a cancellation.
	go func() {
		wg.Wait()
		e.sink.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			e.opts.Logger.Info("cancellation received, letting in-flight probes finish")
			e.frontier.RequestExit()
		case <-done:
		}
	}()

	for pending > 0 {
		res, ok := e.sink.Next()
		if !ok {
			break
		}
		pending--
		e.results = append(e.results, res)
		e.opts.Metrics.SetBacklog(e.frontier.Backlog())

		if e.opts.Store != nil {
			if err := e.opts.Store.SaveResult(ctx, res); err != nil {
				e.opts.Logger.Warn("failed to persist crawl result",
					zap.String("url", res.Request.URL), zap.Error(err))
			}
		}

		for _, d := range res.Discovered {
			if d.OutOfScope {
				continue
			}
			if e.enqueue(ctx, d) {
				pending++
			}
		}
	}

	e.frontier.RequestExit()
	wg.Wait()
	return ctx.Err()
}

// enqueue appends a request to the frontier unless it was already seen.
func (e *Engine) enqueue(ctx context.Context, req *entity.Request) bool {
	seen, err := e.opts.Visited.Seen(ctx, req.Key())
	if err != nil {
		// Dedup is best effort; a visited-set outage must not stall the run.
		e.opts.Logger.Warn("visited set lookup failed", zap.String("url", req.URL), zap.Error(err))
	}
	if seen {
		return false
	}
	e.nextID++
	req.ID = e.nextID
	e.frontier.Append(req)
	return true
}

// Results returns every crawl result consumed so far, in completion order.
func (e *Engine) Results() []*entity.CrawlResult {
	return e.results
}

// EndCookies returns the final shared cookie snapshot.
func (e *Engine) EndCookies() []entity.Cookie {
	return e.cookies.Get()
}
