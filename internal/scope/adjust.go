// Package scope filters discovered requests before publication: it marks
// out-of-scope targets and collapses query-string duplicates.
package scope

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/user/surface-mapper/internal/entity"
)

// Adjuster applies the scope filter in place. Scope is the host of the
// seed URL plus its directory subtree. With GroupQS set, requests that
// differ only in query-string values collapse to the first occurrence;
// later duplicates are marked out of scope. Safe for concurrent use once
// constructed, except that Adjust batches are per-worker by design.
type Adjuster struct {
	base    *url.URL
	baseDir string
	groupQS bool
}

func NewAdjuster(scopeURL string, groupQS bool) (*Adjuster, error) {
	base, err := url.Parse(scopeURL)
	if err != nil {
		return nil, fmt.Errorf("parse scope url: %w", err)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("scope url %q has no host", scopeURL)
	}
	dir := base.Path
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i+1]
	} else {
		dir = "/"
	}
	return &Adjuster{base: base, baseDir: dir, groupQS: groupQS}, nil
}

// Adjust marks out-of-scope entries and, when grouping is on, query-string
// duplicates within the batch.
func (a *Adjuster) Adjust(reqs []*entity.Request) {
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		u, err := url.Parse(r.URL)
		if err != nil || !a.inScope(u) {
			r.OutOfScope = true
			continue
		}
		if !a.groupQS || u.RawQuery == "" {
			continue
		}
		key := r.Method + " " + groupKey(u) + "\x00" + r.Data
		if seen[key] {
			r.OutOfScope = true
			continue
		}
		seen[key] = true
	}
}

func (a *Adjuster) inScope(u *url.URL) bool {
	switch u.Scheme {
	case "http", "https":
	default:
		return false
	}
	if !strings.EqualFold(u.Hostname(), a.base.Hostname()) {
		return false
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(path, a.baseDir)
}

// groupKey reduces a URL to its path plus the sorted set of query-string
// parameter names, dropping the values.
func groupKey(u *url.URL) string {
	keys := make([]string, 0, len(u.Query()))
	for k := range u.Query() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return u.Hostname() + u.Path + "?" + strings.Join(keys, "&")
}
