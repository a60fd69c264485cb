package event

import "time"

// Option applies a configuration option to the Calendar.
type Option func(*Calendar)

// WithPeriod bounds the event. Zero values leave that side open.
func WithPeriod(start, end time.Time) Option {
	return func(c *Calendar) {
		c.start, c.end = start, end
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		if now != nil {
			c.now = now
		}
	}
}

// WithEnforcement turns event period and betting window checks on or off.
func WithEnforcement(eventWindow, bettingWindow bool) Option {
	return func(c *Calendar) {
		c.enforceEvent = eventWindow
		c.enforceBetting = bettingWindow
	}
}
