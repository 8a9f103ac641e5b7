package ws

import "errors"

var ErrRecipientOffline = errors.New("no recipient connected")

// Relay forwards WebRTC negotiation payloads between users on the call
// namespace. It keeps no state and never looks inside SDP or candidates:
// the payload is re-tagged with the sender and pushed into each target's
// personal room.
type Relay struct {
	hub *Hub
}

func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

// Forward delivers the signal to every reachable target. When not a single
// target has a live connection the drop is explicit: ErrRecipientOffline,
// which the gateway surfaces to the sender instead of failing silently.
func (r *Relay) Forward(from *Client, event string, p *SignalPayload) error {
	fwd := ForwardedSignal{FromUserID: from.UserID, SDP: p.SDP, Candidate: p.Candidate}
	reached := 0
	for _, userID := range p.ToUserIDs {
		room := UserRoom(userID)
		if !r.hub.HasOtherMember(room, from) {
			continue
		}
		r.hub.EmitExcept(from, event, fwd, room)
		reached++
	}
	if reached == 0 {
		return ErrRecipientOffline
	}
	return nil
}
