package gossip

import "time"

// pendingRequest tracks one outstanding unicast REQUEST_SYNC so inbound
// solicited responses can be tied back to a request this node actually sent.
type pendingRequest struct {
	sentAt time.Time
	types  uint8
}

type PendingRequests struct {
	byPeer map[string]pendingRequest
}

func NewPendingRequests() *PendingRequests {
	return &PendingRequests{byPeer: make(map[string]pendingRequest)}
}

// Register notes that a sync request went out to peer. A newer request
// replaces the previous one.
func (p *PendingRequests) Register(peer string, types uint8, now time.Time) {
	p.byPeer[peer] = pendingRequest{sentAt: now, types: types}
}

// Solicited reports whether an RSR arriving from peer corresponds to a live
// request. The entry stays until it expires: one request legitimately draws
// many response packets.
func (p *PendingRequests) Solicited(peer string, now time.Time, timeout time.Duration) bool {
	req, ok := p.byPeer[peer]
	if !ok {
		return false
	}
	if now.Sub(req.sentAt) > timeout {
		delete(p.byPeer, peer)
		return false
	}
	return true
}

// Expire drops requests past their timeout and returns how many went.
func (p *PendingRequests) Expire(now time.Time, timeout time.Duration) int {
	n := 0
	for peer, req := range p.byPeer {
		if now.Sub(req.sentAt) > timeout {
			delete(p.byPeer, peer)
			n++
		}
	}
	return n
}

func (p *PendingRequests) Len() int { return len(p.byPeer) }
