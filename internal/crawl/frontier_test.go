package crawl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/surface-mapper/internal/entity"
)

func makeRequests(n int) []*entity.Request {
	reqs := make([]*entity.Request, n)
	for i := range reqs {
		reqs[i] = &entity.Request{ID: i + 1, Method: "GET", URL: "http://example.com/"}
	}
	return reqs
}

func TestClaimNextNeverReturnsTheSameRequestTwice(t *testing.T) {
	const workers = 8
	const total = 1000

	f := NewFrontier()
	claimed := make(chan int, total)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				req, err := f.ClaimNext()
				if err != nil {
					return
				}
				claimed <- req.ID
			}
		}()
	}

	// Append in bursts while workers are already claiming.
	reqs := makeRequests(total)
	for i := 0; i < total; i += 100 {
		f.Append(reqs[i : i+100]...)
	}

	waitFor(t, func() bool { return len(claimed) == total })
	f.RequestExit()
	wg.Wait()
	close(claimed)

	seen := make(map[int]bool, total)
	for id := range claimed {
		require.False(t, seen[id], "request %d claimed twice", id)
		seen[id] = true
	}
	assert.Len(t, seen, total)
}

func TestRequestExitWakesAllBlockedWorkers(t *testing.T) {
	const workers = 6
	f := NewFrontier()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ClaimNext()
			errs <- err
		}()
	}

	// Give the workers time to block on the condition.
	time.Sleep(20 * time.Millisecond)
	f.RequestExit()
	wg.Wait()
	close(errs)

	count := 0
	for err := range errs {
		assert.ErrorIs(t, err, ErrExitRequested)
		count++
	}
	assert.Equal(t, workers, count)
}

func TestAppendWakesBlockedWorker(t *testing.T) {
	f := NewFrontier()
	got := make(chan *entity.Request, 1)

	go func() {
		req, err := f.ClaimNext()
		if err == nil {
			got <- req
		}
	}()

	time.Sleep(10 * time.Millisecond)
	f.Append(&entity.Request{ID: 1})

	select {
	case req := <-got:
		assert.Equal(t, 1, req.ID)
	case <-time.After(time.Second):
		t.Fatal("worker was not woken by Append")
	}
	f.RequestExit()
}

func TestClaimAfterExitReturnsExitRequested(t *testing.T) {
	f := NewFrontier()
	f.Append(&entity.Request{ID: 1})
	f.RequestExit()

	// Exit takes precedence over remaining work.
	_, err := f.ClaimNext()
	assert.ErrorIs(t, err, ErrExitRequested)
}

func TestBacklog(t *testing.T) {
	f := NewFrontier()
	assert.Equal(t, 0, f.Backlog())

	f.Append(makeRequests(3)...)
	assert.Equal(t, 3, f.Backlog())

	_, err := f.ClaimNext()
	require.NoError(t, err)
	assert.Equal(t, 2, f.Backlog())
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
