package openai

import "time"

// SetClock replaces the provider's time source.
func (p *Provider) SetClock(now func() time.Time) { p.now = now }

// Held reports how many images are waiting to be fetched.
func (p *Provider) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}
