package crawl

import (
	"sync"

	"github.com/user/surface-mapper/internal/entity"
)

// CookieSnapshot is the one genuinely mutable shared value of the engine:
// the cookie set reported by whichever probe completed last. It lives
// under its own lock so cookie traffic never contends with the frontier.
// Last writer wins; completion order, not claim order.
type CookieSnapshot struct {
	mu      sync.Mutex
	cookies []entity.Cookie
}

func (s *CookieSnapshot) Set(cookies []entity.Cookie) {
	s.mu.Lock()
	s.cookies = cookies
	s.mu.Unlock()
}

func (s *CookieSnapshot) Get() []entity.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]entity.Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}
