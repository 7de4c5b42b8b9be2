package engine

import "time"

// DefaultTimeout bounds a single engine run when no override is set.
const DefaultTimeout = 30 * time.Second

// Chain is the fixed, ordered list of engines tried for every job.
type Chain struct {
	engines  []Engine
	timeouts map[string]time.Duration
	def      time.Duration
}

// NewChain returns a chain trying engines in the given order, each bounded
// by def unless overridden with SetTimeout.
func NewChain(def time.Duration, engines ...Engine) *Chain {
	if def <= 0 {
		def = DefaultTimeout
	}
	return &Chain{engines: engines, timeouts: map[string]time.Duration{}, def: def}
}

// SetTimeout overrides the timeout of the named engine.
func (c *Chain) SetTimeout(name string, d time.Duration) {
	if d > 0 {
		c.timeouts[name] = d
	}
}

// Timeout returns the run limit for the named engine.
func (c *Chain) Timeout(name string) time.Duration {
	if d, ok := c.timeouts[name]; ok {
		return d
	}
	return c.def
}

// Engines returns the engines in priority order.
func (c *Chain) Engines() []Engine {
	return c.engines
}

// Names returns the engine names in priority order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.engines))
	for i, e := range c.engines {
		names[i] = e.Name()
	}
	return names
}

// Len returns the number of engines in the chain.
func (c *Chain) Len() int { return len(c.engines) }
