package algorithm

import "maps"

// Cooldowns counts down, per symbol, the ticks during which new entries are
// blocked. It is symbol-global: every account trading the symbol sees it.
type Cooldowns struct {
	remaining map[string]int
	fresh     map[string]bool
}

func NewCooldowns(remaining map[string]int) *Cooldowns {
	c := &Cooldowns{
		remaining: make(map[string]int, len(remaining)),
		fresh:     make(map[string]bool),
	}
	for symbol, n := range remaining {
		if n > 0 {
			c.remaining[symbol] = n
		}
	}
	return c
}

func (c *Cooldowns) Paused(symbol string) bool {
	return c.remaining[symbol] > 0
}

func (c *Cooldowns) Remaining(symbol string) int {
	return c.remaining[symbol]
}

// Pause blocks entries on symbol for the next ticks ticks. A symbol already
// paused keeps its current count.
func (c *Cooldowns) Pause(symbol string, ticks int) {
	if ticks <= 0 || c.Paused(symbol) {
		return
	}
	c.remaining[symbol] = ticks
	c.fresh[symbol] = true
}

// Advance ends a tick. Pauses set during the tick start counting on the next one.
func (c *Cooldowns) Advance() {
	for symbol, n := range c.remaining {
		if c.fresh[symbol] {
			continue
		}
		if n <= 1 {
			delete(c.remaining, symbol)
			continue
		}
		c.remaining[symbol] = n - 1
	}
	clear(c.fresh)
}

func (c *Cooldowns) Snapshot() map[string]int {
	return maps.Clone(c.remaining)
}
