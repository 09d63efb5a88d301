package client

import "sync"

// Pool deduplicates capability-token strings across every client that
// shares it. Interning is idempotent; tokens are immutable, so a single
// canonical copy per distinct string is enough.
type Pool struct {
	mu      sync.Mutex
	strings map[string]string
}

// NewPool creates an empty interning pool.
func NewPool() *Pool {
	return &Pool{strings: make(map[string]string)}
}

// Intern returns the canonical copy of s, storing it on first sight.
func (p *Pool) Intern(s string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if canonical, ok := p.strings[s]; ok {
		return canonical
	}
	p.strings[s] = s
	return s
}

// Len reports how many distinct strings the pool holds.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.strings)
}
