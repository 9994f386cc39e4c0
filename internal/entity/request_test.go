package entity

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequestInheritsFromParent(t *testing.T) {
	parent := &Request{ID: 12, Method: http.MethodGet, URL: "http://example.com/app/index", HTTPAuth: "u:p"}
	cookies := []Cookie{{Name: "sess", Value: "1"}}

	r := NewRequest(ReqTypeLink, http.MethodGet, "detail?id=5", parent, cookies, "", "click a#d5")

	assert.Equal(t, 12, r.ParentID)
	assert.Equal(t, "http://example.com/app/detail?id=5", r.URL)
	assert.Equal(t, "http://example.com/app/index", r.Referer)
	assert.Equal(t, "u:p", r.HTTPAuth)
	assert.Equal(t, cookies, r.Cookies)
	assert.Equal(t, "click a#d5", r.Trigger)
}

func TestNewRequestWithoutParentKeepsURLVerbatim(t *testing.T) {
	r := NewRequest(ReqTypeLink, http.MethodGet, "http://example.com/", nil, nil, "", "")
	assert.Equal(t, "http://example.com/", r.URL)
	assert.Empty(t, r.Referer)
	assert.Zero(t, r.ParentID)
}

func TestKeyDistinguishesMethodURLAndBody(t *testing.T) {
	get := &Request{Method: http.MethodGet, URL: "http://x/"}
	post := &Request{Method: http.MethodPost, URL: "http://x/"}
	postBody := &Request{Method: http.MethodPost, URL: "http://x/", Data: "a=1"}

	assert.NotEqual(t, get.Key(), post.Key())
	assert.NotEqual(t, post.Key(), postBody.Key())
	assert.Equal(t, get.Key(), (&Request{Method: http.MethodGet, URL: "http://x/"}).Key())
}
