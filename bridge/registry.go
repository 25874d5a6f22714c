package bridge

import "sync"

// Registry maps call SIDs to realtime connections established before the
// media stream arrives. Outbound calls dial the model first, register the
// leg here, and the media-stream handler adopts it when Twilio connects;
// inbound calls find nothing and dial fresh.
type Registry struct {
	mu   sync.Mutex
	legs map[string]AILeg
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{legs: make(map[string]AILeg)}
}

// Register stores a pre-established leg for a call.
func (r *Registry) Register(callSID string, leg AILeg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.legs[callSID] = leg
}

// Take removes and returns the leg for a call, transferring ownership to
// the caller.
func (r *Registry) Take(callSID string) (AILeg, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	leg, ok := r.legs[callSID]
	if ok {
		delete(r.legs, callSID)
	}
	return leg, ok
}

// Remove is Take by another name, used on terminal call status so the
// owner can close a leg whose call never produced a media stream.
func (r *Registry) Remove(callSID string) (AILeg, bool) {
	return r.Take(callSID)
}

// Len returns the number of registered legs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.legs)
}
