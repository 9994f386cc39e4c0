package probe

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/surface-mapper/internal/entity"
)

// scriptedRunner replays a fixed sequence of outcomes; the last one repeats
// once the script runs out.
type scriptedRunner struct {
	mu     sync.Mutex
	script []func() (string, error)
	calls  []Invocation
}

func (r *scriptedRunner) Run(_ context.Context, inv Invocation) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inv)
	i := len(r.calls) - 1
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	return r.script[i]()
}

func killed() func() (string, error) {
	return func() (string, error) { return "", ErrProbeKilled }
}

func emits(out string) func() (string, error) {
	return func() (string, error) { return out, nil }
}

func newTestProcess(t *testing.T, retries int, runner Runner) *Process {
	t.Helper()
	p, err := NewProcess(Config{
		Timeout:       time.Second,
		Retries:       retries,
		RetryInterval: time.Millisecond,
		SetReferer:    true,
	}, runner, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestSendExhaustsRetryBudgetOnRepeatedKills(t *testing.T) {
	runner := &scriptedRunner{script: []func() (string, error){killed()}}
	p := newTestProcess(t, 2, runner)

	pr, errs := p.Send(context.Background(), parentRequest())

	assert.Nil(t, pr)
	assert.Len(t, runner.calls, 3) // budget K=2 means K+1 attempts
	assert.Equal(t, []string{ErrCodeProbeKilled, ErrCodeProbeKilled, ErrCodeProbeKilled}, errs)
}

func TestSendStopsOnFirstOKProbe(t *testing.T) {
	runner := &scriptedRunner{script: []func() (string, error){
		killed(),
		emits(`[{"status":"ok"}]`),
	}}
	p := newTestProcess(t, 2, runner)

	pr, errs := p.Send(context.Background(), parentRequest())

	require.NotNil(t, pr)
	assert.Equal(t, StatusOK, pr.Status)
	assert.Len(t, runner.calls, 2)
	assert.Equal(t, []string{ErrCodeProbeKilled}, errs)
}

func TestSendTerminalErrorHaltsRetriesWithBudgetLeft(t *testing.T) {
	runner := &scriptedRunner{script: []func() (string, error){
		emits(`[{"status":"error","code":"contentType"}]`),
	}}
	p := newTestProcess(t, 5, runner)

	pr, errs := p.Send(context.Background(), parentRequest())

	require.NotNil(t, pr)
	assert.Equal(t, ErrCodeContentType, pr.ErrCode)
	assert.Len(t, runner.calls, 1)
	assert.Equal(t, []string{ErrCodeContentType}, errs)
}

func TestSendRetriesNonTerminalProbeErrors(t *testing.T) {
	runner := &scriptedRunner{script: []func() (string, error){
		emits(`[{"status":"error","code":"jsError"}]`),
	}}
	p := newTestProcess(t, 1, runner)

	pr, errs := p.Send(context.Background(), parentRequest())

	assert.Nil(t, pr)
	assert.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"jsError", "jsError"}, errs)
}

func TestSendDecodeFailureIsFatalForTheRequest(t *testing.T) {
	runner := &scriptedRunner{script: []func() (string, error){
		emits(`[{"request":{"type`),
	}}
	p := newTestProcess(t, 5, runner)

	pr, errs := p.Send(context.Background(), parentRequest())

	assert.Nil(t, pr)
	assert.Len(t, runner.calls, 1) // not retried in this design
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "not decodable")
}

func TestBuildArgsGETMinimal(t *testing.T) {
	p := newTestProcess(t, 0, &scriptedRunner{script: []func() (string, error){killed()}})

	args, err := p.buildArgs(&entity.Request{ID: 42, Method: "GET", URL: "http://example.com/"})
	require.NoError(t, err)

	assert.Equal(t, []string{"-i", "42", "http://example.com/"}, args)
}

func TestBuildArgsPOSTWithBodyAuthAndReferer(t *testing.T) {
	p := newTestProcess(t, 0, &scriptedRunner{script: []func() (string, error){killed()}})

	args, err := p.buildArgs(&entity.Request{
		ID:       3,
		Method:   "POST",
		URL:      "http://example.com/save",
		Data:     "a=1&b=2",
		HTTPAuth: "user:pass",
		Referer:  "http://example.com/",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"-P", "-D", "a=1&b=2",
		"-p", "user:pass",
		"-r", "http://example.com/",
		"-i", "3", "http://example.com/save",
	}, args)
}

func TestBuildArgsRefererOmittedWhenDisabled(t *testing.T) {
	p, err := NewProcess(Config{Timeout: time.Second, SetReferer: false},
		&scriptedRunner{script: []func() (string, error){killed()}}, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	args, err := p.buildArgs(&entity.Request{ID: 1, Method: "GET", URL: "http://x/", Referer: "http://y/"})
	require.NoError(t, err)
	assert.NotContains(t, args, "-r")
}

func TestBuildArgsRewritesCookieFilePerInvocation(t *testing.T) {
	p := newTestProcess(t, 0, &scriptedRunner{script: []func() (string, error){killed()}})

	first := &entity.Request{ID: 1, Method: "GET", URL: "http://x/", Cookies: []entity.Cookie{
		{Name: "a", Value: "1", Domain: "x", Path: "/"},
		{Name: "b", Value: "2", Domain: "x", Path: "/"},
	}}
	args, err := p.buildArgs(first)
	require.NoError(t, err)
	require.Contains(t, args, "-c")
	assert.Contains(t, args, p.cookieFile.Name())

	// Second invocation carries fewer cookies; the file must hold exactly
	// the new set, not a stale suffix of the old one.
	second := &entity.Request{ID: 2, Method: "GET", URL: "http://x/", Cookies: []entity.Cookie{
		{Name: "c", Value: "3", Domain: "x", Path: "/"},
	}}
	_, err = p.buildArgs(second)
	require.NoError(t, err)

	data, err := os.ReadFile(p.cookieFile.Name())
	require.NoError(t, err)
	var cookies []entity.Cookie
	require.NoError(t, json.Unmarshal(data, &cookies))
	require.Len(t, cookies, 1)
	assert.Equal(t, "c", cookies[0].Name)
}

func TestCloseRemovesCookieFile(t *testing.T) {
	p, err := NewProcess(Config{Timeout: time.Second},
		&scriptedRunner{script: []func() (string, error){killed()}}, zap.NewNop())
	require.NoError(t, err)

	name := p.cookieFile.Name()
	require.NoError(t, p.Close())
	_, statErr := os.Stat(name)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommandRunnerReturnsStdout(t *testing.T) {
	r := NewCommandRunner("echo", nil, zap.NewNop())
	out, err := r.Run(context.Background(), Invocation{
		Args:    []string{`[{"status":"ok"}]`},
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
}

func TestCommandRunnerTreatsEmptyOutputAsKilled(t *testing.T) {
	r := NewCommandRunner("true", nil, zap.NewNop())
	_, err := r.Run(context.Background(), Invocation{Timeout: time.Second})
	require.ErrorIs(t, err, ErrProbeKilled)
}
