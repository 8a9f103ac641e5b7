package ws

import (
	"encoding/json"
	"testing"
)

func TestRelayForward(t *testing.T) {
	hub := NewHub()
	relay := NewRelay(hub)
	sender := newTestClient(1, "s")
	target := newTestClient(2, "t")
	hub.Join(sender, UserRoom(1))
	hub.Join(target, UserRoom(2))

	sdp := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	err := relay.Forward(sender, EventWebRTCOffer, &SignalPayload{ToUserIDs: []uint{2}, SDP: sdp})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	env := recvFrame(t, target)
	if env.Event != EventWebRTCOffer {
		t.Fatalf("event = %q, want %q", env.Event, EventWebRTCOffer)
	}
	var fwd ForwardedSignal
	if err := json.Unmarshal(env.Data, &fwd); err != nil {
		t.Fatalf("decode forwarded signal: %v", err)
	}
	if fwd.FromUserID != 1 {
		t.Fatalf("from_user_id = %d, want 1", fwd.FromUserID)
	}
	if string(fwd.SDP) != string(sdp) {
		t.Fatalf("sdp altered in flight: %s", fwd.SDP)
	}
}

func TestRelayOfflineRecipientIsExplicit(t *testing.T) {
	hub := NewHub()
	relay := NewRelay(hub)
	sender := newTestClient(1, "s")
	hub.Join(sender, UserRoom(1))

	err := relay.Forward(sender, EventWebRTCOffer, &SignalPayload{ToUserIDs: []uint{42}})
	if err != ErrRecipientOffline {
		t.Fatalf("err = %v, want ErrRecipientOffline", err)
	}
}

func TestRelayPartialDelivery(t *testing.T) {
	hub := NewHub()
	relay := NewRelay(hub)
	sender := newTestClient(1, "s")
	online := newTestClient(2, "o")
	hub.Join(sender, UserRoom(1))
	hub.Join(online, UserRoom(2))

	// One target online, one offline: delivery succeeds for the reachable one.
	err := relay.Forward(sender, EventWebRTCICECandidate, &SignalPayload{ToUserIDs: []uint{2, 99}, Candidate: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	recvFrame(t, online)
}

func TestRelayNeverEchoesToSender(t *testing.T) {
	hub := NewHub()
	relay := NewRelay(hub)
	sender := newTestClient(1, "s")
	hub.Join(sender, UserRoom(1))

	// Self-targeted signal: sender is skipped, so nobody is reachable.
	err := relay.Forward(sender, EventWebRTCAnswer, &SignalPayload{ToUserIDs: []uint{1}})
	if err != ErrRecipientOffline {
		t.Fatalf("err = %v, want ErrRecipientOffline", err)
	}
	expectNoFrame(t, sender)
}
