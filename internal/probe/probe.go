// Package probe drives the external rendering probe: it assembles the
// invocation, enforces the timeout and retry policy, and decodes the
// probe's tagged-record output stream into a structured result.
package probe

import (
	"encoding/json"

	"github.com/user/surface-mapper/internal/entity"
)

// Probe status tags.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Error codes reported by the probe or synthesized by the harness.
// ErrCodeContentType and ErrCodeProbeTimeout are terminal: once reported,
// retrying the same request cannot succeed.
const (
	ErrCodeContentType  = "contentType"
	ErrCodeProbeTimeout = "probe_timeout"
	ErrCodeProbeKilled  = "probe_killed"
	ErrCodeProbeFailure = "probe_failure"
)

// Probe is the decoded outcome of one rendering-probe invocation.
// Constructed once per decode, never mutated afterwards.
type Probe struct {
	Status         string
	ErrCode        string
	Requests       []*entity.Request
	Cookies        []entity.Cookie
	Redirect       string
	PartialContent bool
	HTML           string
	UserOutput     []json.RawMessage
}

// Accepted reports whether the worker should take this probe's discovered
// requests: a clean run, or a probe-level timeout that still produced a
// usable partial record stream.
func (p *Probe) Accepted() bool {
	return p.Status == StatusOK || p.ErrCode == ErrCodeProbeTimeout
}

// Terminal reports whether the error code makes further retries pointless.
func (p *Probe) Terminal() bool {
	return p.ErrCode == ErrCodeContentType || p.ErrCode == ErrCodeProbeTimeout
}
