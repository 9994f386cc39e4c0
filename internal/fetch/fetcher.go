// Package fetch is the plain-HTTP fallback used when the probe path fails
// entirely: it retrieves the page without rendering and extracts candidate
// requests from its markup.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/surface-mapper/internal/entity"
)

// HTTPFetcher retrieves pages with a conventional HTTP client.
type HTTPFetcher struct {
	client    *http.Client
	retries   int
	userAgent string
}

func NewHTTPFetcher(timeout time.Duration, retries int, userAgent, proxy string) (*HTTPFetcher, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &HTTPFetcher{
		client:    &http.Client{Timeout: timeout, Transport: transport},
		retries:   retries,
		userAgent: userAgent,
	}, nil
}

// Fetch performs the request and extracts links, forms and iframes from
// the response body. Retries up to the configured budget; the last error
// wins when every attempt fails.
func (f *HTTPFetcher) Fetch(ctx context.Context, req *entity.Request) ([]*entity.Request, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		doc, err := f.do(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}
		return extract(req, doc), nil
	}
	return nil, fmt.Errorf("fallback fetch %s: %w", req.URL, lastErr)
}

func (f *HTTPFetcher) do(ctx context.Context, req *entity.Request) (*goquery.Document, error) {
	var body *strings.Reader
	if req.Method == http.MethodPost && req.Data != "" {
		body = strings.NewReader(req.Data)
	} else {
		body = strings.NewReader("")
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if req.Method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if f.userAgent != "" {
		httpReq.Header.Set("User-Agent", f.userAgent)
	}
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}
	for _, c := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	if req.HTTPAuth != "" {
		if user, pass, ok := strings.Cut(req.HTTPAuth, ":"); ok {
			httpReq.SetBasicAuth(user, pass)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// extract walks the document for crawlable targets: anchors, forms and
// iframes. Discovered requests inherit the parent's cookie set.
func extract(parent *entity.Request, doc *goquery.Document) []*entity.Request {
	var found []*entity.Request

	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if skipHref(href) {
			return
		}
		found = append(found, entity.NewRequest(entity.ReqTypeLink, http.MethodGet, href,
			parent, parent.Cookies, "", ""))
	})

	doc.Find("form").Each(func(i int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		if action == "" {
			action = parent.URL
		}
		method := strings.ToUpper(s.AttrOr("method", http.MethodGet))

		values := url.Values{}
		s.Find("input[name], select[name], textarea[name]").Each(func(i int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			values.Set(name, in.AttrOr("value", ""))
		})

		data := ""
		if method == http.MethodPost {
			data = values.Encode()
		} else if enc := values.Encode(); enc != "" {
			if strings.Contains(action, "?") {
				action += "&" + enc
			} else {
				action += "?" + enc
			}
		}
		found = append(found, entity.NewRequest(entity.ReqTypeForm, method, action,
			parent, parent.Cookies, data, ""))
	})

	doc.Find("iframe[src]").Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if skipHref(src) {
			return
		}
		found = append(found, entity.NewRequest(entity.ReqTypeIframe, http.MethodGet, src,
			parent, parent.Cookies, "", ""))
	})

	return found
}

func skipHref(href string) bool {
	href = strings.TrimSpace(href)
	return href == "" || strings.HasPrefix(href, "#") ||
		strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:")
}
