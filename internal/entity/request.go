package entity

import (
	"encoding/json"
	"net/url"
)

// Request types as reported by the probe or synthesized by the engine.
const (
	ReqTypeLink     = "link"
	ReqTypeForm     = "form"
	ReqTypeRedirect = "redirect"
	ReqTypeXHR      = "xhr"
	ReqTypeIframe   = "iframe"
)

// Request is a single discovered HTTP request. Once constructed it is only
// mutated by its owning worker (HTML, UserOutput) and by the adjustment
// filter (OutOfScope) before the result is published.
type Request struct {
	ID       int
	ParentID int
	Type     string
	Method   string
	URL      string
	Data     string
	Cookies  []Cookie
	Referer  string
	HTTPAuth string
	Trigger  string

	OutOfScope bool

	// Filled in by the worker after a successful probe round-trip.
	HTML       string
	UserOutput []json.RawMessage
}

// NewRequest builds a request discovered while probing parent. The URL is
// resolved against the parent URL, and referer and auth are inherited.
func NewRequest(reqType, method, rawURL string, parent *Request, cookies []Cookie, data, trigger string) *Request {
	r := &Request{
		Type:    reqType,
		Method:  method,
		URL:     rawURL,
		Data:    data,
		Cookies: cookies,
		Trigger: trigger,
	}
	if parent != nil {
		r.ParentID = parent.ID
		r.Referer = parent.URL
		r.HTTPAuth = parent.HTTPAuth
		if base, err := url.Parse(parent.URL); err == nil {
			if rel, err := url.Parse(rawURL); err == nil {
				r.URL = base.ResolveReference(rel).String()
			}
		}
	}
	return r
}

// Key identifies a request for deduplication. Two requests with the same
// method, URL and body are considered the same crawl target.
func (r *Request) Key() string {
	return r.Method + " " + r.URL + "\x00" + r.Data
}
