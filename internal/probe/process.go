package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/user/surface-mapper/internal/entity"
)

// ErrProbeKilled signals that an attempt was killed by the hard timeout or
// produced no output. Retryable, unlike a decode failure.
var ErrProbeKilled = errors.New("probe killed or produced no output")

// killGrace is how much the hard kill-timeout exceeds the soft process
// timeout handed to the probe itself.
const killGrace = 2 * time.Second

// Invocation is one probe attempt handed to a Runner.
type Invocation struct {
	Args    []string
	Request *entity.Request
	Timeout time.Duration
}

// Runner executes one probe attempt and returns its raw stdout. It must
// return ErrProbeKilled when the attempt was killed or yielded nothing;
// any stdout it does return goes to the decoder untouched.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (string, error)
}

// Config tunes the invocation protocol for one Process.
type Config struct {
	Timeout       time.Duration // soft process timeout
	Retries       int           // retry budget on top of the first attempt
	RetryInterval time.Duration // fixed backoff between attempts
	SetReferer    bool          // pass -r when the request carries a referer
}

// Process owns the probe round-trip for a single worker: one private
// cookie-jar file for its whole lifetime, argument construction, and the
// retry loop. Not safe for concurrent use; every worker builds its own.
type Process struct {
	cfg        Config
	runner     Runner
	cookieFile *os.File
	logger     *zap.Logger
}

// NewProcess creates a Process with a fresh private cookie-jar temp file.
// Close releases the file.
func NewProcess(cfg Config, runner Runner, logger *zap.Logger) (*Process, error) {
	f, err := os.CreateTemp("", "mapper_cookie_file-*.json")
	if err != nil {
		return nil, fmt.Errorf("create cookie file: %w", err)
	}
	return &Process{cfg: cfg, runner: runner, cookieFile: f, logger: logger}, nil
}

// Close removes the worker's cookie-jar file.
func (p *Process) Close() error {
	name := p.cookieFile.Name()
	if err := p.cookieFile.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// buildArgs assembles the probe CLI arguments for req, rewriting the
// cookie file when the request carries cookies.
func (p *Process) buildArgs(req *entity.Request) ([]string, error) {
	var args []string

	if req.Method == http.MethodPost {
		args = append(args, "-P")
		if req.Data != "" {
			args = append(args, "-D", req.Data)
		}
	}

	if len(req.Cookies) > 0 {
		if err := p.writeCookies(req.Cookies); err != nil {
			return nil, err
		}
		args = append(args, "-c", p.cookieFile.Name())
	}

	if req.HTTPAuth != "" {
		args = append(args, "-p", req.HTTPAuth)
	}
	if p.cfg.SetReferer && req.Referer != "" {
		args = append(args, "-r", req.Referer)
	}

	return append(args, "-i", strconv.Itoa(req.ID), req.URL), nil
}

// writeCookies rewrites the private cookie jar in place. The fsync matters:
// the probe process opens the file immediately after we return.
func (p *Process) writeCookies(cookies []entity.Cookie) error {
	data, err := json.Marshal(cookies)
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	if err := p.cookieFile.Truncate(0); err != nil {
		return fmt.Errorf("truncate cookie file: %w", err)
	}
	if _, err := p.cookieFile.WriteAt(data, 0); err != nil {
		return fmt.Errorf("write cookie file: %w", err)
	}
	return p.cookieFile.Sync()
}

// Send runs the probe protocol for req: up to Retries+1 attempts, fixed
// backoff between them. It returns the first ok or terminal-error probe,
// or nil once the budget is exhausted, along with every error recorded on
// the way. A decode failure is fatal for the request and stops the loop.
func (p *Process) Send(ctx context.Context, req *entity.Request) (*Probe, []string) {
	var errs []string

	args, err := p.buildArgs(req)
	if err != nil {
		p.logger.Error("probe argument construction failed",
			zap.String("url", req.URL), zap.Error(err))
		return nil, append(errs, err.Error())
	}

	for attempt := 0; attempt <= p.cfg.Retries; attempt++ {
		out, err := p.runner.Run(ctx, Invocation{Args: args, Request: req, Timeout: p.cfg.Timeout})
		if err != nil {
			errs = append(errs, ErrCodeProbeKilled)
			p.logger.Warn("probe killed",
				zap.String("url", req.URL), zap.Int("attempt", attempt), zap.Error(err))
			time.Sleep(p.cfg.RetryInterval)
			continue
		}

		pr, derr := Decode(out, req)
		if derr != nil {
			p.logger.Error("probe output decode failed",
				zap.String("url", req.URL), zap.Error(derr))
			return nil, append(errs, derr.Error())
		}

		if pr.Status == StatusOK {
			return pr, errs
		}

		errs = append(errs, pr.ErrCode)
		if pr.Terminal() {
			return pr, errs
		}

		p.logger.Warn("probe reported retryable error",
			zap.String("url", req.URL), zap.String("code", pr.ErrCode), zap.Int("attempt", attempt))
		time.Sleep(p.cfg.RetryInterval)
	}

	return nil, errs
}

// CommandRunner executes the external probe binary. The kill-timeout is
// enforced here via the command context, strictly above the soft timeout
// the probe applies to itself.
type CommandRunner struct {
	Command string
	Args    []string // base arguments (probe script path, user agent, proxy)
	logger  *zap.Logger
}

func NewCommandRunner(command string, baseArgs []string, logger *zap.Logger) *CommandRunner {
	return &CommandRunner{Command: command, Args: baseArgs, logger: logger}
}

func (r *CommandRunner) Run(ctx context.Context, inv Invocation) (string, error) {
	killCtx, cancel := context.WithTimeout(ctx, inv.Timeout+killGrace)
	defer cancel()

	cmd := exec.CommandContext(killCtx, r.Command, append(append([]string{}, r.Args...), inv.Args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		r.logger.Debug("probe stderr", zap.String("stderr", stderr.String()))
	}
	if killCtx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrProbeKilled, killCtx.Err())
	}
	out := stdout.String()
	// A crashed probe sometimes still emits a usable record stream, so a
	// non-zero exit with output goes to the decoder anyway.
	if len(bytes.TrimSpace(stdout.Bytes())) == 0 {
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrProbeKilled, err)
		}
		return "", ErrProbeKilled
	}
	return out, nil
}
