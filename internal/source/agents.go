package source

import "sync/atomic"

// DefaultUserAgents is the built-in pool of browser-like User-Agent strings.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Agents rotates through a pool of User-Agent strings. Safe for
// concurrent use.
type Agents struct {
	pool []string
	next atomic.Uint64
}

// NewAgents returns a rotation over pool, or over DefaultUserAgents when
// pool is empty.
func NewAgents(pool []string) *Agents {
	var cleaned []string
	for _, ua := range pool {
		if ua != "" {
			cleaned = append(cleaned, ua)
		}
	}
	if len(cleaned) == 0 {
		cleaned = DefaultUserAgents
	}
	return &Agents{pool: cleaned}
}

// Next returns the next User-Agent in the rotation.
func (a *Agents) Next() string {
	n := a.next.Add(1) - 1
	return a.pool[n%uint64(len(a.pool))]
}

// Pool returns a copy of the rotation pool.
func (a *Agents) Pool() []string {
	return append([]string(nil), a.pool...)
}
