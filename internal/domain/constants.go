package domain

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

const (
	CallStatusRinging  = "ringing"
	CallStatusAnswered = "answered"
	CallStatusEnded    = "ended"
)

const (
	// StatusModePersist stores the visibility choice on the user's settings
	// so it survives reconnects; StatusModeSession only changes live state.
	StatusModePersist = "persist"
	StatusModeSession = "session"
)

const (
	NotificationIncomingCall = "incoming_call"
	NotificationCallEnded    = "call_ended"
	NotificationCallRejected = "call_rejected"
)
