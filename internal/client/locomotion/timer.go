package locomotion

// Countdown is a one-shot timer advanced explicitly by simulation time.
// It is not safe for concurrent use; it lives on the tick loop.
type Countdown struct {
	remaining float64
	armed     bool
}

// Arm starts the countdown for seconds, replacing any countdown in progress.
//
// Postcondition: Armed reports true until Advance consumes seconds. A
// non-positive duration leaves the countdown disarmed.
func (c *Countdown) Arm(seconds float64) {
	if seconds <= 0 {
		c.Clear()
		return
	}
	c.remaining = seconds
	c.armed = true
}

// Advance consumes dt seconds.
//
// Postcondition: Returns true exactly once, on the call that expires the countdown.
func (c *Countdown) Advance(dt float64) bool {
	if !c.armed {
		return false
	}
	c.remaining -= dt
	if c.remaining <= 0 {
		c.Clear()
		return true
	}
	return false
}

// Clear disarms the countdown. Safe to call multiple times.
func (c *Countdown) Clear() {
	c.remaining = 0
	c.armed = false
}

// Armed reports whether the countdown is running.
func (c *Countdown) Armed() bool { return c.armed }

// Remaining returns the seconds left, or 0 when disarmed.
func (c *Countdown) Remaining() float64 { return c.remaining }
