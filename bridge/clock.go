package bridge

// AudioClock is the single source of truth for how far into the current
// response the caller has actually heard. It tracks the inbound media
// timestamp (a caller-side clock, reliable under network jitter) and the
// timestamp at which the current response started playing out.
//
// Not safe for concurrent use; the owning Session serializes access.
type AudioClock struct {
	latestMediaTimestamp int64
	responseStart        int64
	responseStartSet     bool
}

// ObserveInboundFrame records the timestamp of an inbound audio frame.
// Frames may arrive out of order; the clock keeps the last observed
// value, not the maximum.
func (c *AudioClock) ObserveInboundFrame(timestampMs int64) {
	c.latestMediaTimestamp = timestampMs
}

// LatestMediaTimestamp returns the last observed inbound timestamp.
func (c *AudioClock) LatestMediaTimestamp() int64 {
	return c.latestMediaTimestamp
}

// MarkResponseStart pins the response start to the current inbound
// timestamp. Idempotent until cleared.
func (c *AudioClock) MarkResponseStart() {
	if !c.responseStartSet {
		c.responseStart = c.latestMediaTimestamp
		c.responseStartSet = true
	}
}

// ResponseStarted reports whether a response is currently playing out.
func (c *AudioClock) ResponseStarted() bool {
	return c.responseStartSet
}

// ElapsedSinceResponseStart returns how many milliseconds of the current
// response the caller has heard. ok is false when no response start is
// recorded; callers must check it.
func (c *AudioClock) ElapsedSinceResponseStart() (elapsed int64, ok bool) {
	if !c.responseStartSet {
		return 0, false
	}
	return c.latestMediaTimestamp - c.responseStart, true
}

// ClearResponse forgets the response start. Called on interruption.
func (c *AudioClock) ClearResponse() {
	c.responseStart = 0
	c.responseStartSet = false
}

// Reset returns the clock to its initial state. Called on stream restart.
func (c *AudioClock) Reset() {
	c.latestMediaTimestamp = 0
	c.ClearResponse()
}
