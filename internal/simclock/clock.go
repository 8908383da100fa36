package simclock

import (
	"sync"

	"caseclosed/backend/internal/domain"
)

// Clock holds the simulated date. Days roll over at 30 per month and 12 months per year.
type Clock struct {
	mu    sync.RWMutex
	today domain.SimDate
}

func NewClock() *Clock {
	return &Clock{today: domain.SimEpoch}
}

func (c *Clock) Today() domain.SimDate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.today
}

func (c *Clock) DaysSinceStart() int {
	return c.Today().DayNumber()
}

// Increment advances one day and returns the new date.
func (c *Clock) Increment() domain.SimDate {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.today = c.today.AddDays(1)
	return c.today
}

func (c *Clock) Reset() {
	c.Set(domain.SimEpoch)
}

func (c *Clock) Set(date domain.SimDate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.today = date
}
