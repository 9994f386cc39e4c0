package crawl

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/user/surface-mapper/internal/entity"
	"github.com/user/surface-mapper/internal/monitoring"
	"github.com/user/surface-mapper/internal/probe"
)

// Worker states.
type State int32

const (
	StateRunning State = iota
	StateWaiting
	StateExited
)

// ProbeSender runs the full probe protocol (invocation, retries, decode)
// for one request. Each worker owns exactly one sender, because the sender
// owns the worker's private cookie-jar file.
type ProbeSender interface {
	Send(ctx context.Context, req *entity.Request) (*probe.Probe, []string)
	Close() error
}

// Fetcher is the plain-HTTP fallback used when the probe path yields
// nothing at all.
type Fetcher interface {
	Fetch(ctx context.Context, req *entity.Request) ([]*entity.Request, error)
}

// Adjuster applies the scope/grouping filter in place to a discovered
// batch before it is published.
type Adjuster interface {
	Adjust(reqs []*entity.Request)
}

// Worker claims requests from the frontier, drives the probe round-trip,
// merges results and publishes exactly one CrawlResult per claim.
type Worker struct {
	id       string
	frontier *Frontier
	sink     *ResultSink
	cookies  *CookieSnapshot
	prober   ProbeSender
	fallback Fetcher // nil when fallback fetching is disabled
	adjuster Adjuster
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	state    atomic.Int32
}

func NewWorker(id string, f *Frontier, s *ResultSink, cs *CookieSnapshot, prober ProbeSender,
	fallback Fetcher, adjuster Adjuster, m *monitoring.Metrics, logger *zap.Logger) *Worker {
	return &Worker{
		id:       id,
		frontier: f,
		sink:     s,
		cookies:  cs,
		prober:   prober,
		fallback: fallback,
		adjuster: adjuster,
		metrics:  m,
		logger:   logger.With(zap.String("worker", id)),
	}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run is the worker lifecycle loop. It exits only after observing an exit
// request, and releases the prober (and with it the worker's cookie-jar
// file) on the way out. Cancellation is checked only at the claim point;
// an in-flight probe always finishes, bounded by its own kill-timeout.
func (w *Worker) Run() {
	defer w.state.Store(int32(StateExited))
	defer func() {
		if err := w.prober.Close(); err != nil {
			w.logger.Warn("failed to release prober", zap.Error(err))
		}
	}()

	for {
		w.state.Store(int32(StateWaiting))
		req, err := w.frontier.ClaimNext()
		if err != nil {
			w.logger.Debug("exit request received")
			return
		}
		w.state.Store(int32(StateRunning))
		w.process(req)
	}
}

func (w *Worker) process(req *entity.Request) {
	start := time.Now()
	var discovered []*entity.Request
	outcome := "failed"

	pr, errs := w.prober.Send(context.Background(), req)
	w.metrics.AddFailedAttempts(len(errs))

	switch {
	case pr != nil && pr.Accepted():
		discovered = pr.Requests
		if pr.HTML != "" {
			req.HTML = pr.HTML
		}
		if len(pr.UserOutput) > 0 {
			req.UserOutput = pr.UserOutput
		}
		// Whichever probe completes last owns the snapshot.
		if len(pr.Cookies) > 0 {
			w.cookies.Set(pr.Cookies)
		}
		outcome = "probe"

	case pr == nil:
		errs = append(errs, probe.ErrCodeProbeFailure)
		if w.fallback != nil {
			reqs, err := w.fallback.Fetch(context.Background(), req)
			if err != nil {
				errs = append(errs, err.Error())
				w.logger.Warn("fallback fetch failed", zap.String("url", req.URL), zap.Error(err))
			} else {
				discovered = reqs
				outcome = "fallback"
			}
		}
	}

	w.adjuster.Adjust(discovered)

	for _, e := range errs {
		w.metrics.IncError(e)
	}
	w.metrics.IncProcessed(outcome)
	w.metrics.AddDiscovered(len(discovered))
	w.metrics.ObserveProbeDuration(time.Since(start).Seconds())

	w.logger.Info("request processed",
		zap.String("url", req.URL),
		zap.String("outcome", outcome),
		zap.Int("discovered", len(discovered)),
		zap.Int("errors", len(errs)))

	w.sink.Publish(&entity.CrawlResult{Request: req, Discovered: discovered, Errors: errs})
}
