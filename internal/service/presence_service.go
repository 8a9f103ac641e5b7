package service

import (
	"errors"
	"time"

	"parley/internal/models"
	"parley/internal/ws"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var ErrUserNotFound = errors.New("user not found")

// UserStore is the slice of the user repository the broadcaster needs.
type UserStore interface {
	GetByID(id uint) (*models.User, error)
	UpdatePresence(userID uint, isOnline bool, lastSeen time.Time) error
}

// SettingsStore persists the visibility preference.
type SettingsStore interface {
	UpdateShowOnlineStatus(userID uint, show bool) error
}

// PartnerStore scopes presence broadcasts to conversation partners.
type PartnerStore interface {
	ListPartnerIDs(userID uint) ([]uint, error)
}

// PresenceState is the refreshed projection returned to callers and
// embedded in presence events.
type PresenceState struct {
	UserID     uint       `json:"user_id"`
	Username   string     `json:"username"`
	IsOnline   bool       `json:"is_online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// PresenceBroadcaster turns visibility changes into durable presence writes
// and room broadcasts. The registry is the live truth; the user row only
// keeps the last-known fact for clients that ask over REST.
type PresenceBroadcaster struct {
	users    UserStore
	settings SettingsStore
	partners PartnerStore
	registry *ws.Registry
	hub      *ws.Hub
	log      zerolog.Logger
}

func NewPresenceBroadcaster(users UserStore, settings SettingsStore, partners PartnerStore, registry *ws.Registry, hub *ws.Hub, log zerolog.Logger) *PresenceBroadcaster {
	return &PresenceBroadcaster{users: users, settings: settings, partners: partners, registry: registry, hub: hub, log: log}
}

// Announce applies a visibility change for the user. visible is the
// user-controlled flag; the effective online state also requires at least
// one live device. persist stores the flag on the user's settings.
//
// The user's own tabs always get presence_self so toggles stay in sync
// across sessions; conversation partners get presence_update only when the
// effective state actually changed, so going offline broadcasts exactly
// once no matter how many tabs closed.
func (b *PresenceBroadcaster) Announce(userID uint, visible bool, persist bool) (*PresenceState, error) {
	if persist {
		if err := b.settings.UpdateShowOnlineStatus(userID, visible); err != nil {
			b.log.Warn().Err(err).Uint("user_id", userID).Msg("persist visibility failed")
		}
	}
	u, err := b.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	effective := visible && b.registry.IsOnline(userID)
	now := time.Now()
	changed := u.IsOnline != effective
	if changed {
		if err := b.users.UpdatePresence(userID, effective, now); err != nil {
			b.log.Warn().Err(err).Uint("user_id", userID).Msg("presence write failed")
		}
		u.IsOnline = effective
		u.LastSeenAt = &now
	}
	state := &PresenceState{UserID: u.ID, Username: u.Username, IsOnline: effective, LastSeenAt: u.LastSeenAt}
	payload := presencePayload(state)
	b.hub.Emit(ws.EventPresenceSelf, payload, ws.UserRoom(userID))
	if changed {
		partnerIDs, err := b.partners.ListPartnerIDs(userID)
		if err != nil {
			b.log.Warn().Err(err).Uint("user_id", userID).Msg("partner lookup failed")
			return state, nil
		}
		b.hub.EmitToUsers(ws.EventPresenceUpdate, payload, partnerIDs...)
	}
	return state, nil
}

func presencePayload(s *PresenceState) ws.PresencePayload {
	var lastSeen int64
	if s.LastSeenAt != nil {
		lastSeen = s.LastSeenAt.UnixMilli()
	}
	return ws.PresencePayload{UserID: s.UserID, Username: s.Username, IsOnline: s.IsOnline, LastSeenAt: lastSeen}
}
