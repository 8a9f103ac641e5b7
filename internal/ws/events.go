package ws

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names on the chat namespace.
const (
	EventSetStatus         = "set_status"
	EventPresenceSelf      = "presence_self"
	EventPresenceUpdate    = "presence_update"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventUserTyping        = "user_typing"
	EventRequestDevices    = "request_devices"
	EventDevicesUpdate     = "devicesUpdate"
	EventLogoutDevice      = "logout_device"
	EventNotification      = "notification"
	EventError             = "error"
)

// Event names on the call namespace.
const (
	EventCallUser           = "call_user"
	EventCallInitiated      = "call_initiated"
	EventCallReceived       = "call_received"
	EventJoinCall           = "join_call"
	EventUserJoinedCall     = "user_joined_call"
	EventCallAnswered       = "call_answered"
	EventCallEnded          = "call_ended"
	EventCallRejected       = "call_rejected"
	EventWebRTCOffer        = "webrtc_offer"
	EventWebRTCAnswer       = "webrtc_answer"
	EventWebRTCICECandidate = "webrtc_ice_candidate"
)

// Error codes carried by EventError payloads.
const (
	CodeBadPayload           = "bad_payload"
	CodeUnknownEvent         = "unknown_event"
	CodeNotParticipant       = "not_participant"
	CodeNotFound             = "not_found"
	CodeCallExists           = "call_exists"
	CodeCallOver             = "call_over"
	CodeRecipientOffline     = "recipient_offline"
	CodeInternal             = "internal"
)

var ErrBadEnvelope = errors.New("malformed event envelope")

// Envelope is the tagged wire frame: every client message must carry an
// event name and a data object, validated here before any handler runs.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrBadEnvelope
	}
	if env.Event == "" {
		return nil, ErrBadEnvelope
	}
	return &env, nil
}

// Marshal builds an outbound frame. Payloads are server-constructed, so a
// marshal failure is a programming error; it degrades to an error frame.
func Marshal(event string, payload interface{}) []byte {
	data, err := json.Marshal(map[string]interface{}{"event": event, "data": payload})
	if err != nil {
		return []byte(`{"event":"error","data":{"code":"internal","message":"encode failed"}}`)
	}
	return data
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type SetStatusPayload struct {
	IsOnline   bool   `json:"is_online"`
	UpdateMode string `json:"update_mode"` // persist | session
}

type ConversationPayload struct {
	ConversationID uint `json:"conversation_id"`
}

func (p *ConversationPayload) Validate() error {
	if p.ConversationID == 0 {
		return fmt.Errorf("conversation_id required")
	}
	return nil
}

type TypingPayload struct {
	ConversationID uint `json:"conversation_id"`
}

type UserTypingPayload struct {
	ConversationID uint `json:"conversation_id"`
	UserID         uint `json:"user_id"`
}

type LogoutDevicePayload struct {
	DeviceID string `json:"device_id"`
}

func (p *LogoutDevicePayload) Validate() error {
	if p.DeviceID == "" {
		return fmt.Errorf("device_id required")
	}
	return nil
}

type PresencePayload struct {
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	IsOnline   bool   `json:"is_online"`
	LastSeenAt int64  `json:"last_seen_at"` // unix millis, 0 when never seen
}

type NotificationPayload struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id,omitempty"`
	FromUserID uint   `json:"from_user_id,omitempty"`
	CallType   string `json:"call_type,omitempty"`
}

type CallUserPayload struct {
	CallID    string `json:"call_id"`
	ToUserIDs []uint `json:"to_user_ids"`
	CallType  string `json:"call_type"` // audio | video
}

func (p *CallUserPayload) Validate() error {
	if len(p.ToUserIDs) == 0 {
		return fmt.Errorf("to_user_ids required")
	}
	if p.CallType != "audio" && p.CallType != "video" {
		return fmt.Errorf("call_type must be audio or video")
	}
	return nil
}

type CallIDPayload struct {
	CallID string `json:"call_id"`
}

func (p *CallIDPayload) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("call_id required")
	}
	return nil
}

type CallAnsweredPayload struct {
	CallID     string `json:"call_id"`
	FromUserID uint   `json:"from_user_id"`
}

type CallEventPayload struct {
	CallID     string `json:"call_id"`
	FromUserID uint   `json:"from_user_id,omitempty"`
	CallType   string `json:"call_type,omitempty"`
	ToUserIDs  []uint `json:"to_user_ids,omitempty"`
}

// SignalPayload carries WebRTC negotiation data. SDP and Candidate are
// opaque to the server; only the routing fields are inspected.
type SignalPayload struct {
	ToUserIDs []uint          `json:"to_user_ids"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (p *SignalPayload) Validate() error {
	if len(p.ToUserIDs) == 0 {
		return fmt.Errorf("to_user_ids required")
	}
	return nil
}

// ForwardedSignal is what the relay delivers: the sender's payload re-tagged
// with their identity.
type ForwardedSignal struct {
	FromUserID uint            `json:"from_user_id"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

type DeviceInfoPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Active   bool   `json:"active"`
}
