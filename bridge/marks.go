package bridge

// MarkTracker is the FIFO acknowledgment queue pairing audio chunks sent
// to the telephony leg with the mark events Twilio echoes back once each
// chunk has played. Queue length equals chunks sent but not yet
// acknowledged.
//
// Not safe for concurrent use; the owning Session serializes access.
type MarkTracker struct {
	queue []string
}

// RecordSent appends one mark name after its audio chunk is forwarded.
func (t *MarkTracker) RecordSent(name string) {
	t.queue = append(t.queue, name)
}

// RecordAcknowledged pops the oldest mark. Unexpected or duplicate
// acknowledgments are absorbed silently.
func (t *MarkTracker) RecordAcknowledged() {
	if len(t.queue) == 0 {
		return
	}
	t.queue = t.queue[1:]
}

// HasOutstanding reports whether any forwarded audio is still unplayed.
func (t *MarkTracker) HasOutstanding() bool {
	return len(t.queue) > 0
}

// Outstanding returns the number of unacknowledged chunks.
func (t *MarkTracker) Outstanding() int {
	return len(t.queue)
}

// Clear empties the queue. Called on interruption and stream restart.
func (t *MarkTracker) Clear() {
	t.queue = nil
}
