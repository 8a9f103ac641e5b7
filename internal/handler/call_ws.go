package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"parley/config"
	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var callUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// CallGateway serves the call namespace: call session lifecycle and WebRTC
// signal relay. It reaches the chat namespace only through the bus.
type CallGateway struct {
	cfg      *config.Config
	hub      *ws.Hub
	calls    *ws.CallRegistry
	relay    *ws.Relay
	users    IdentityStore
	settings SettingsSnapshotStore
	bus      *ws.Bus
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

func NewCallGateway(cfg *config.Config, hub *ws.Hub, calls *ws.CallRegistry, relay *ws.Relay, users IdentityStore, settings SettingsSnapshotStore, bus *ws.Bus, m *metrics.Metrics, log zerolog.Logger) *CallGateway {
	g := &CallGateway{
		cfg:      cfg,
		hub:      hub,
		calls:    calls,
		relay:    relay,
		users:    users,
		settings: settings,
		bus:      bus,
		metrics:  m,
		log:      log,
	}
	calls.OnExpire(g.onRingTimeout)
	return g
}

// onRingTimeout fires after a call sat unanswered for the configured
// window. The session is already gone; both sides learn the call ended.
func (g *CallGateway) onRingTimeout(snap ws.CallSnapshot) {
	g.log.Info().Str("call_id", snap.ID).Uint("caller_id", snap.CallerID).Msg("call ring timeout")
	g.metrics.Calls.Set(float64(g.calls.Len()))
	g.broadcastEnded(nil, snap)
}

// broadcastEnded announces call_ended on the call namespace and bridges the
// notification to participants' chat sessions (covering recipients that
// never joined the call channel).
func (g *CallGateway) broadcastEnded(skip *ws.Client, snap ws.CallSnapshot) {
	payload := ws.CallEventPayload{CallID: snap.ID, FromUserID: snap.CallerID}
	rooms := []string{ws.CallRoom(snap.ID), ws.UserRoom(snap.CallerID)}
	for _, id := range snap.RecipientIDs {
		rooms = append(rooms, ws.UserRoom(id))
	}
	g.hub.EmitExcept(skip, ws.EventCallEnded, payload, rooms...)
	g.bus.Publish(ws.TopicChatNotify, ws.BusMessage{
		Event:   ws.EventNotification,
		Rooms:   userRooms(snap.CallerID, snap.RecipientIDs),
		Payload: ws.NotificationPayload{Type: domain.NotificationCallEnded, CallID: snap.ID, FromUserID: snap.CallerID},
	})
}

func userRooms(callerID uint, recipientIDs []uint) []string {
	rooms := make([]string, 0, len(recipientIDs)+1)
	rooms = append(rooms, ws.UserRoom(callerID))
	for _, id := range recipientIDs {
		rooms = append(rooms, ws.UserRoom(id))
	}
	return rooms
}

// Handle upgrades to WebSocket for the call namespace. Query: token.
func (g *CallGateway) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, reason, err := authenticateSocket(c, &g.cfg.JWT, g.users, g.settings)
		if err != nil {
			g.metrics.Rejected.WithLabelValues(reason).Inc()
			return
		}
		conn, err := callUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := ws.NewClient(uuid.NewString(), ident.User.ID, ident.User.Username, ident.DeviceID, ident.Settings, g.cfg.Signaling.SendBuffer)
		client.SetCloser(func() { _ = conn.Close() })
		_ = g.hub.Join(client, ws.UserRoom(ident.User.ID))
		g.metrics.Connections.Inc()
		g.log.Info().Uint("user_id", ident.User.ID).Msg("call connect")

		go writePump(client, conn, &g.cfg.Signaling)

		conn.SetReadLimit(g.cfg.Signaling.MaxPayloadLen)
		conn.SetReadDeadline(time.Now().Add(g.cfg.Signaling.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(g.cfg.Signaling.PongWait))
			return nil
		})
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			g.dispatch(client, raw)
		}
		g.disconnect(client)
	}
}

func (g *CallGateway) disconnect(client *ws.Client) {
	g.hub.Remove(client)
	client.Close()
	g.metrics.Connections.Dec()
	// Reap sessions whose last connected participant just left.
	ended := g.calls.HandleDisconnect(client.UserID, g.hub.UserConnected)
	for _, snap := range ended {
		g.log.Info().Str("call_id", snap.ID).Msg("call reaped after participants disconnected")
		g.broadcastEnded(nil, snap)
	}
	g.metrics.Calls.Set(float64(g.calls.Len()))
	g.log.Info().Uint("user_id", client.UserID).Msg("call disconnect")
}

func (g *CallGateway) dispatch(client *ws.Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.Panics.Inc()
			g.log.Error().Interface("panic", r).Uint("user_id", client.UserID).Msg("call handler panic")
			sendError(client, ws.CodeInternal, "internal error")
		}
	}()
	env, err := ws.DecodeEnvelope(raw)
	if err != nil {
		sendError(client, ws.CodeBadPayload, "malformed envelope")
		return
	}
	g.metrics.Events.WithLabelValues(env.Event).Inc()
	switch env.Event {
	case ws.EventCallUser:
		g.handleCallUser(client, env.Data)
	case ws.EventJoinCall:
		g.handleJoinCall(client, env.Data)
	case ws.EventCallAnswered:
		g.handleCallAnswered(client, env.Data)
	case ws.EventCallEnded:
		g.handleCallEnded(client, env.Data)
	case ws.EventCallRejected:
		g.handleCallRejected(client, env.Data)
	case ws.EventWebRTCOffer, ws.EventWebRTCAnswer, ws.EventWebRTCICECandidate:
		g.handleSignal(client, env.Event, env.Data)
	default:
		sendError(client, ws.CodeUnknownEvent, "unknown event: "+env.Event)
	}
}

func (g *CallGateway) handleCallUser(client *ws.Client, data json.RawMessage) {
	var p ws.CallUserPayload
	if json.Unmarshal(data, &p) != nil {
		sendError(client, ws.CodeBadPayload, "bad call_user payload")
		return
	}
	if err := p.Validate(); err != nil {
		sendError(client, ws.CodeBadPayload, err.Error())
		return
	}
	snap, err := g.calls.Create(p.CallID, client.UserID, p.ToUserIDs, p.CallType)
	if err != nil {
		switch err {
		case ws.ErrCallExists:
			sendError(client, ws.CodeCallExists, "call id already in use")
		case ws.ErrNoRecipients:
			sendError(client, ws.CodeBadPayload, "to_user_ids required")
		default:
			sendError(client, ws.CodeInternal, "call setup failed")
		}
		return
	}
	_ = g.hub.Join(client, ws.CallRoom(snap.ID))
	g.metrics.Calls.Set(float64(g.calls.Len()))
	g.log.Info().Str("call_id", snap.ID).Uint("caller_id", client.UserID).Str("type", snap.CallType).Int("recipients", len(snap.RecipientIDs)).Msg("call initiated")

	client.Deliver(ws.EventCallInitiated, ws.CallEventPayload{CallID: snap.ID, CallType: snap.CallType, ToUserIDs: snap.RecipientIDs})

	// Recipients are not on the call channel yet; ring them through their
	// chat sessions.
	recipientRooms := make([]string, 0, len(snap.RecipientIDs))
	for _, id := range snap.RecipientIDs {
		recipientRooms = append(recipientRooms, ws.UserRoom(id))
	}
	ring := ws.CallEventPayload{CallID: snap.ID, FromUserID: client.UserID, CallType: snap.CallType}
	g.bus.Publish(ws.TopicChatNotify, ws.BusMessage{Event: ws.EventCallReceived, Rooms: recipientRooms, Payload: ring})
	g.bus.Publish(ws.TopicChatNotify, ws.BusMessage{
		Event:   ws.EventNotification,
		Rooms:   recipientRooms,
		Payload: ws.NotificationPayload{Type: domain.NotificationIncomingCall, CallID: snap.ID, FromUserID: client.UserID, CallType: snap.CallType},
	})
}

func (g *CallGateway) handleJoinCall(client *ws.Client, data json.RawMessage) {
	var p ws.CallIDPayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad join_call payload")
		return
	}
	if _, err := g.calls.Join(p.CallID, client.UserID); err != nil {
		sendError(client, ws.CodeNotFound, "call no longer available")
		return
	}
	room := ws.CallRoom(p.CallID)
	_ = g.hub.Join(client, room)
	g.hub.EmitExcept(client, ws.EventUserJoinedCall, ws.CallEventPayload{CallID: p.CallID, FromUserID: client.UserID}, room)
}

func (g *CallGateway) handleCallAnswered(client *ws.Client, data json.RawMessage) {
	var p ws.CallIDPayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad call_answered payload")
		return
	}
	snap, err := g.calls.Answer(p.CallID, client.UserID)
	if err != nil {
		sendError(client, ws.CodeNotFound, "call no longer available")
		return
	}
	room := ws.CallRoom(p.CallID)
	_ = g.hub.Join(client, room)
	g.log.Info().Str("call_id", snap.ID).Uint("user_id", client.UserID).Msg("call answered")
	g.hub.EmitExcept(client, ws.EventCallAnswered, ws.CallAnsweredPayload{CallID: snap.ID, FromUserID: client.UserID}, room, ws.UserRoom(snap.CallerID))
}

func (g *CallGateway) handleCallEnded(client *ws.Client, data json.RawMessage) {
	var p ws.CallIDPayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad call_ended payload")
		return
	}
	snap, err := g.calls.End(p.CallID)
	if err != nil {
		// Second end of the same call: explicit not-found, no broadcast.
		sendError(client, ws.CodeNotFound, "call not found")
		return
	}
	g.metrics.Calls.Set(float64(g.calls.Len()))
	g.log.Info().Str("call_id", snap.ID).Uint("user_id", client.UserID).Msg("call ended")
	g.broadcastEnded(client, snap)
}

func (g *CallGateway) handleCallRejected(client *ws.Client, data json.RawMessage) {
	var p ws.CallIDPayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad call_rejected payload")
		return
	}
	snap, err := g.calls.Reject(p.CallID)
	if err != nil {
		switch err {
		case ws.ErrCallOver:
			sendError(client, ws.CodeCallOver, "call already answered")
		default:
			sendError(client, ws.CodeNotFound, "call not found")
		}
		return
	}
	g.metrics.Calls.Set(float64(g.calls.Len()))
	g.log.Info().Str("call_id", snap.ID).Uint("user_id", client.UserID).Msg("call rejected")
	payload := ws.CallEventPayload{CallID: snap.ID, FromUserID: client.UserID}
	g.hub.EmitExcept(client, ws.EventCallRejected, payload, ws.CallRoom(snap.ID), ws.UserRoom(snap.CallerID))
	g.bus.Publish(ws.TopicChatNotify, ws.BusMessage{
		Event:   ws.EventNotification,
		Rooms:   []string{ws.UserRoom(snap.CallerID)},
		Payload: ws.NotificationPayload{Type: domain.NotificationCallRejected, CallID: snap.ID, FromUserID: client.UserID},
	})
}

func (g *CallGateway) handleSignal(client *ws.Client, event string, data json.RawMessage) {
	var p ws.SignalPayload
	if json.Unmarshal(data, &p) != nil {
		sendError(client, ws.CodeBadPayload, "bad signal payload")
		return
	}
	if err := p.Validate(); err != nil {
		sendError(client, ws.CodeBadPayload, err.Error())
		return
	}
	if err := g.relay.Forward(client, event, &p); err != nil {
		sendError(client, ws.CodeRecipientOffline, "no recipient connected")
	}
}
