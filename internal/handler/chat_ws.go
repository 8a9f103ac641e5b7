package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"parley/config"
	"parley/internal/domain"
	"parley/internal/metrics"
	"parley/internal/service"
	"parley/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ConversationStore authorizes conversation-room joins. The hub itself
// never authorizes; this check runs before every join.
type ConversationStore interface {
	IsParticipant(conversationID, userID uint) (bool, error)
}

// ChatGateway serves the default namespace: presence, conversation rooms,
// typing, multi-device bookkeeping, and the chat-side half of call
// notifications.
type ChatGateway struct {
	cfg           *config.Config
	hub           *ws.Hub
	registry      *ws.Registry
	presence      *service.PresenceBroadcaster
	conversations ConversationStore
	users         IdentityStore
	settings      SettingsSnapshotStore
	bus           *ws.Bus
	metrics       *metrics.Metrics
	log           zerolog.Logger
}

func NewChatGateway(cfg *config.Config, hub *ws.Hub, registry *ws.Registry, presence *service.PresenceBroadcaster, conversations ConversationStore, users IdentityStore, settings SettingsSnapshotStore, bus *ws.Bus, m *metrics.Metrics, log zerolog.Logger) *ChatGateway {
	return &ChatGateway{
		cfg:           cfg,
		hub:           hub,
		registry:      registry,
		presence:      presence,
		conversations: conversations,
		users:         users,
		settings:      settings,
		bus:           bus,
		metrics:       m,
		log:           log,
	}
}

// RunBridge forwards bus notifications published by the call side into
// chat-namespace rooms. Exits when the bus closes.
func (g *ChatGateway) RunBridge() {
	ch := g.bus.Subscribe(ws.TopicChatNotify, 64)
	go func() {
		for msg := range ch {
			g.hub.Emit(msg.Event, msg.Payload, msg.Rooms...)
		}
	}()
}

// Handle upgrades to WebSocket for the chat namespace. Query: token,
// deviceId, deviceName, location.
func (g *ChatGateway) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, reason, err := authenticateSocket(c, &g.cfg.JWT, g.users, g.settings)
		if err != nil {
			g.metrics.Rejected.WithLabelValues(reason).Inc()
			return
		}
		conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := ws.NewClient(uuid.NewString(), ident.User.ID, ident.User.Username, ident.DeviceID, ident.Settings, g.cfg.Signaling.SendBuffer)
		client.SetCloser(func() { _ = conn.Close() })

		first := g.registry.Register(ident.User.ID, ident.DeviceID, ident.Name, ident.Location, client)
		_ = g.hub.Join(client, ws.UserRoom(ident.User.ID))
		g.metrics.Connections.Inc()
		g.metrics.Devices.Set(float64(g.registry.TotalDevices()))
		g.log.Info().Uint("user_id", ident.User.ID).Str("device_id", ident.DeviceID).Bool("first", first).Msg("chat connect")

		if _, err := g.presence.Announce(ident.User.ID, ident.Settings.ShowOnlineStatus, false); err != nil {
			g.log.Warn().Err(err).Uint("user_id", ident.User.ID).Msg("connect announce failed")
		}
		g.pushDevices(ident.User.ID)

		go writePump(client, conn, &g.cfg.Signaling)
		g.readLoop(client, conn)
		g.disconnect(client)
	}
}

func (g *ChatGateway) readLoop(client *ws.Client, conn *websocket.Conn) {
	conn.SetReadLimit(g.cfg.Signaling.MaxPayloadLen)
	conn.SetReadDeadline(time.Now().Add(g.cfg.Signaling.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(g.cfg.Signaling.PongWait))
		return nil
	})
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		g.dispatch(client, raw)
	}
}

func (g *ChatGateway) disconnect(client *ws.Client) {
	g.hub.Remove(client)
	userID, last, ok := g.registry.Deregister(client)
	client.Close()
	g.metrics.Connections.Dec()
	g.metrics.Devices.Set(float64(g.registry.TotalDevices()))
	if !ok {
		return
	}
	g.log.Info().Uint("user_id", userID).Bool("last", last).Msg("chat disconnect")
	if last {
		if _, err := g.presence.Announce(userID, client.Settings.ShowOnlineStatus, false); err != nil {
			g.log.Warn().Err(err).Uint("user_id", userID).Msg("disconnect announce failed")
		}
		return
	}
	g.pushDevices(userID)
}

// dispatch validates the envelope and routes one inbound frame. A panic in
// any handler is contained to this frame; the connection and its peers keep
// running.
func (g *ChatGateway) dispatch(client *ws.Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			g.metrics.Panics.Inc()
			g.log.Error().Interface("panic", r).Uint("user_id", client.UserID).Msg("chat handler panic")
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
	case ws.EventSetStatus:
		g.handleSetStatus(client, env.Data)
	case ws.EventJoinConversation:
		g.handleJoinConversation(client, env.Data)
	case ws.EventLeaveConversation:
		g.handleLeaveConversation(client, env.Data)
	case ws.EventTyping:
		g.handleTyping(client, env.Data)
	case ws.EventRequestDevices:
		g.handleRequestDevices(client)
	case ws.EventLogoutDevice:
		g.handleLogoutDevice(client, env.Data)
	default:
		sendError(client, ws.CodeUnknownEvent, "unknown event: "+env.Event)
	}
}

func (g *ChatGateway) handleSetStatus(client *ws.Client, data json.RawMessage) {
	var p ws.SetStatusPayload
	if json.Unmarshal(data, &p) != nil {
		sendError(client, ws.CodeBadPayload, "bad set_status payload")
		return
	}
	persist := p.UpdateMode == domain.StatusModePersist
	client.Settings.ShowOnlineStatus = p.IsOnline
	if _, err := g.presence.Announce(client.UserID, p.IsOnline, persist); err != nil {
		if err == service.ErrUserNotFound {
			sendError(client, ws.CodeNotFound, "user not found")
			return
		}
		sendError(client, ws.CodeInternal, "status update failed")
	}
}

func (g *ChatGateway) handleJoinConversation(client *ws.Client, data json.RawMessage) {
	var p ws.ConversationPayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad join_conversation payload")
		return
	}
	member, err := g.conversations.IsParticipant(p.ConversationID, client.UserID)
	if err != nil {
		sendError(client, ws.CodeInternal, "participant check failed")
		return
	}
	if !member {
		sendError(client, ws.CodeNotParticipant, "not a participant of this conversation")
		return
	}
	if err := g.hub.Join(client, ws.ConvRoom(p.ConversationID)); err != nil {
		sendError(client, ws.CodeInternal, "join failed")
	}
}

func (g *ChatGateway) handleLeaveConversation(client *ws.Client, data json.RawMessage) {
	var p ws.ConversationPayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad leave_conversation payload")
		return
	}
	g.hub.Leave(client, ws.ConvRoom(p.ConversationID))
}

func (g *ChatGateway) handleTyping(client *ws.Client, data json.RawMessage) {
	var p ws.TypingPayload
	if json.Unmarshal(data, &p) != nil || p.ConversationID == 0 {
		sendError(client, ws.CodeBadPayload, "bad typing payload")
		return
	}
	room := ws.ConvRoom(p.ConversationID)
	// Typing only fans out to rooms the sender actually joined, so the
	// participant check from join time still holds.
	if !g.hub.InRoom(client, room) {
		sendError(client, ws.CodeNotParticipant, "join the conversation first")
		return
	}
	g.hub.EmitExcept(client, ws.EventUserTyping, ws.UserTypingPayload{ConversationID: p.ConversationID, UserID: client.UserID}, room)
}

func (g *ChatGateway) handleRequestDevices(client *ws.Client) {
	client.Deliver(ws.EventDevicesUpdate, deviceList(g.registry, client.UserID, client.ID))
}

func (g *ChatGateway) handleLogoutDevice(client *ws.Client, data json.RawMessage) {
	var p ws.LogoutDevicePayload
	if json.Unmarshal(data, &p) != nil || p.Validate() != nil {
		sendError(client, ws.CodeBadPayload, "bad logout_device payload")
		return
	}
	conns := g.registry.LogoutDevice(client.UserID, p.DeviceID)
	if conns == nil {
		sendError(client, ws.CodeNotFound, "device not found")
		return
	}
	for _, c := range conns {
		g.hub.Remove(c)
		c.Close()
	}
	g.log.Info().Uint("user_id", client.UserID).Str("device_id", p.DeviceID).Int("connections", len(conns)).Msg("device logged out")
	if !g.registry.IsOnline(client.UserID) {
		if _, err := g.presence.Announce(client.UserID, client.Settings.ShowOnlineStatus, false); err != nil {
			g.log.Warn().Err(err).Uint("user_id", client.UserID).Msg("logout announce failed")
		}
		return
	}
	g.pushDevices(client.UserID)
}

// pushDevices refreshes the device list on every remaining tab of the user.
func (g *ChatGateway) pushDevices(userID uint) {
	// Active is viewer-relative and stays unset in pushed lists; clients
	// resolve it by asking via request_devices.
	g.hub.Emit(ws.EventDevicesUpdate, deviceList(g.registry, userID, ""), ws.UserRoom(userID))
}

func deviceList(registry *ws.Registry, userID uint, viewerConnID string) []ws.DeviceInfoPayload {
	infos := registry.Devices(userID, viewerConnID)
	out := make([]ws.DeviceInfoPayload, 0, len(infos))
	for _, d := range infos {
		out = append(out, ws.DeviceInfoPayload{ID: d.ID, Name: d.Name, Location: d.Location, Active: d.Active})
	}
	return out
}

func sendError(client *ws.Client, code, message string) {
	client.Deliver(ws.EventError, ws.ErrorPayload{Code: code, Message: message})
}

// writePump copies frames from the client's send channel to the wire and
// keeps the connection alive with pings. Shared by both gateways.
func writePump(c *ws.Client, conn *websocket.Conn, cfg *config.SignalingConfig) {
	pingPeriod := (cfg.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
