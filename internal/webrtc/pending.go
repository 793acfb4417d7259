package webrtc

import "eyeconnect/native/internal/domain"

// pendingCandidates holds remote candidates that arrived before a remote
// description was applied. The engine mutex guards it.
type pendingCandidates struct {
	items []domain.ICECandidatePayload
}

func (p *pendingCandidates) push(c domain.ICECandidatePayload) {
	p.items = append(p.items, c)
}

// drain returns the queued candidates in arrival order and empties the queue.
func (p *pendingCandidates) drain() []domain.ICECandidatePayload {
	out := p.items
	p.items = nil
	return out
}

func (p *pendingCandidates) len() int { return len(p.items) }
