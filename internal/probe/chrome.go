package probe

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/user/surface-mapper/internal/entity"
)

// ChromeRunner is an in-process alternative to the external probe command.
// It drives a headless Chrome via chromedp and emits the same tagged-record
// stream, so decoding and the retry policy stay on a single code path.
//
// Navigation is always a GET; POST bodies are not replayed. Requests that
// need them keep going through the external probe.
type ChromeRunner struct {
	userAgent string
	proxy     string
	logger    *zap.Logger
}

func NewChromeRunner(userAgent, proxy string, logger *zap.Logger) *ChromeRunner {
	return &ChromeRunner{userAgent: userAgent, proxy: proxy, logger: logger}
}

func (r *ChromeRunner) Run(ctx context.Context, inv Invocation) (string, error) {
	hardCtx, cancel := context.WithTimeout(ctx, inv.Timeout+killGrace)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.userAgent))
	}
	if r.proxy != "" {
		opts = append(opts, chromedp.ProxyServer(r.proxy))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(hardCtx, opts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	req := inv.Request

	var mu sync.Mutex
	var records []any
	chromedp.ListenTarget(taskCtx, func(ev any) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok {
			return
		}
		// The navigation itself is the parent request, not a discovery.
		if e.Request.URL == req.URL && e.Type == network.ResourceTypeDocument {
			return
		}
		reqType := entity.ReqTypeLink
		switch e.Type {
		case network.ResourceTypeXHR, network.ResourceTypeFetch:
			reqType = entity.ReqTypeXHR
		case network.ResourceTypeDocument:
		default:
			return
		}
		mu.Lock()
		records = append(records, map[string]any{"request": map[string]any{
			"type":   reqType,
			"method": e.Request.Method,
			"url":    e.Request.URL,
			"data":   postData(e.Request),
		}})
		mu.Unlock()
	})

	softCtx, softCancel := context.WithTimeout(taskCtx, inv.Timeout)
	defer softCancel()

	var html string
	var cookies []*network.Cookie
	err := chromedp.Run(softCtx,
		network.Enable(),
		setCookies(req.URL, req.Cookies),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{req.URL}).Do(ctx)
			return err
		}),
	)

	status := map[string]any{"status": StatusOK}
	switch {
	case err == nil:
	case errors.Is(softCtx.Err(), context.DeadlineExceeded) && hardCtx.Err() == nil:
		// Soft timeout: report a probe-level timeout carrying whatever the
		// page triggered before the cutoff.
		status = map[string]any{"status": StatusError, "code": ErrCodeProbeTimeout}
	default:
		return "", fmt.Errorf("%w: %v", ErrProbeKilled, err)
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]any, 0, len(records)+3)
	if len(cookies) > 0 {
		jar := make([]entity.Cookie, 0, len(cookies))
		for _, c := range cookies {
			jar = append(jar, entity.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  int64(c.Expires),
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
			})
		}
		out = append(out, map[string]any{"cookies": jar})
	}
	out = append(out, records...)
	if html != "" {
		out = append(out, map[string]any{"html": html})
	}
	out = append(out, status)

	data, merr := json.Marshal(out)
	if merr != nil {
		return "", fmt.Errorf("%w: marshal records: %v", ErrProbeKilled, merr)
	}
	return string(data), nil
}

// postData reassembles a request body from its base64-encoded entries.
// Entries that fail to decode are skipped rather than corrupting the body.
func postData(req *network.Request) string {
	if !req.HasPostData {
		return ""
	}
	var b strings.Builder
	for _, entry := range req.PostDataEntries {
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		b.Write(decoded)
	}
	return b.String()
}

// setCookies installs the request's cookie set in the browser before
// navigation, mirroring what the external probe does with its -c file.
func setCookies(targetURL string, cookies []entity.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			if err := network.SetCookie(c.Name, c.Value).
				WithURL(targetURL).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly).
				Do(ctx); err != nil {
				return fmt.Errorf("set cookie %q: %w", c.Name, err)
			}
		}
		return nil
	})
}
