package commentfeed

import (
	"sync"
	"time"
)

type token struct {
	value       string
	deactivated bool
	parkedUntil time.Time
}

// TokenPool is a rotating credential pool. Tokens that hit an auth
// failure are deactivated permanently; tokens that hit a rate limit are
// parked until their observed reset time and then reused.
type TokenPool struct {
	mu     sync.Mutex
	tokens []*token
	now    func() time.Time
}

// NewTokenPool creates a pool over the given token values.
func NewTokenPool(values []string) *TokenPool {
	p := &TokenPool{now: time.Now}
	for _, v := range values {
		p.tokens = append(p.tokens, &token{value: v})
	}
	return p
}

// Next returns a usable token. ok is false when every token is
// deactivated or parked; an empty pool returns ok with an empty value so
// callers can fall back to unauthenticated requests.
func (p *TokenPool) Next() (value string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.tokens) == 0 {
		return "", true
	}
	now := p.now()
	for _, t := range p.tokens {
		if t.deactivated {
			continue
		}
		if t.parkedUntil.After(now) {
			continue
		}
		return t.value, true
	}
	return "", false
}

// Deactivate removes a token from rotation permanently.
func (p *TokenPool) Deactivate(value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tokens {
		if t.value == value {
			t.deactivated = true
		}
	}
}

// Park keeps a token out of rotation until the given reset time.
func (p *TokenPool) Park(value string, until time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tokens {
		if t.value == value {
			t.parkedUntil = until
		}
	}
}
