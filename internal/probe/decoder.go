package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/user/surface-mapper/internal/entity"
)

// ErrDecode marks probe output that stays unparsable even after the
// truncation repair. Fatal for the attempt, handled by the caller.
var ErrDecode = errors.New("probe output not decodable")

// record is one tagged entry of the probe output stream. Exactly one of
// the tag fields is expected to be set; the closing record carries Status.
type record struct {
	Cookies        []entity.Cookie `json:"cookies"`
	Request        *requestRecord  `json:"request"`
	User           json.RawMessage `json:"user"`
	HTML           string          `json:"html"`
	Status         string          `json:"status"`
	Code           string          `json:"code"`
	Redirect       string          `json:"redirect"`
	PartialContent bool            `json:"partialcontent"`
}

type requestRecord struct {
	Type    string `json:"type"`
	Method  string `json:"method"`
	URL     string `json:"url"`
	Data    string `json:"data"`
	Trigger string `json:"trigger"`
}

// repair patches output truncated by a killed probe. An empty stream
// becomes an array opener; a stream missing the array terminator gets a
// synthesized ok/partialcontent status record so the records already
// emitted are not discarded. Output cut mid-record stays unparsable.
func repair(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = "["
	}
	if strings.HasSuffix(s, "]") {
		return s
	}
	switch s[len(s)-1] {
	case '[', ',':
	default:
		s += ","
	}
	return s + `{"status":"ok","partialcontent":true}]`
}

// Decode parses raw probe stdout into a Probe. Discovered requests are
// attributed to parent. Cookie records are folded in before any request
// record, whatever their position in the stream, so every request is
// constructed with the full accumulated cookie set.
func Decode(raw string, parent *entity.Request) (*Probe, error) {
	var records []record
	if err := json.Unmarshal([]byte(repair(raw)), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: missing status record", ErrDecode)
	}

	status := records[len(records)-1]
	if status.Status == "" {
		return nil, fmt.Errorf("%w: last record carries no status", ErrDecode)
	}
	if status.Status == StatusError && status.Code == "" {
		return nil, fmt.Errorf("%w: error status without error code", ErrDecode)
	}

	p := &Probe{
		Status:         status.Status,
		ErrCode:        status.Code,
		Redirect:       status.Redirect,
		PartialContent: status.PartialContent,
	}
	body := records[:len(records)-1]

	for _, rec := range body {
		for _, c := range rec.Cookies {
			if c.Domain == "" && parent != nil {
				if u, err := url.Parse(parent.URL); err == nil {
					c.Domain = u.Hostname()
				}
			}
			p.Cookies = append(p.Cookies, c)
		}
	}

	if p.Redirect != "" {
		r := entity.NewRequest(entity.ReqTypeRedirect, "GET", p.Redirect, parent, p.Cookies, "", "")
		p.Requests = append(p.Requests, r)
	}

	for _, rec := range body {
		switch {
		case rec.Request != nil:
			r := entity.NewRequest(rec.Request.Type, rec.Request.Method, rec.Request.URL,
				parent, p.Cookies, rec.Request.Data, rec.Request.Trigger)
			p.Requests = append(p.Requests, r)
		case rec.User != nil:
			p.UserOutput = append(p.UserOutput, rec.User)
		case rec.HTML != "":
			p.HTML = rec.HTML
		}
	}

	return p, nil
}
