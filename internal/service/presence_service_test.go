package service

import (
	"encoding/json"
	"testing"
	"time"

	"parley/internal/models"
	"parley/internal/ws"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type fakeUserStore struct {
	users        map[uint]*models.User
	writes       int
	lastOnline   bool
	lastWriteFor uint
}

func (f *fakeUserStore) GetByID(id uint) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUserStore) UpdatePresence(userID uint, isOnline bool, lastSeen time.Time) error {
	f.writes++
	f.lastOnline = isOnline
	f.lastWriteFor = userID
	if u, ok := f.users[userID]; ok {
		u.IsOnline = isOnline
		u.LastSeenAt = &lastSeen
	}
	return nil
}

type fakeSettingsStore struct {
	persisted map[uint]bool
}

func (f *fakeSettingsStore) UpdateShowOnlineStatus(userID uint, show bool) error {
	if f.persisted == nil {
		f.persisted = make(map[uint]bool)
	}
	f.persisted[userID] = show
	return nil
}

type fakePartnerStore struct {
	partners map[uint][]uint
}

func (f *fakePartnerStore) ListPartnerIDs(userID uint) ([]uint, error) {
	return f.partners[userID], nil
}

func testClient(userID uint, connID string) *ws.Client {
	return ws.NewClient(connID, userID, "user", "dev", &models.UserSettings{ShowOnlineStatus: true}, 16)
}

func recvEvent(t *testing.T, c *ws.Client) (string, ws.PresencePayload) {
	t.Helper()
	select {
	case data := <-c.Send:
		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		var p ws.PresencePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		return env.Event, p
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return "", ws.PresencePayload{}
}

func expectSilence(t *testing.T, c *ws.Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected frame: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func setupBroadcaster(users *fakeUserStore, partners *fakePartnerStore) (*PresenceBroadcaster, *ws.Registry, *ws.Hub, *fakeSettingsStore) {
	registry := ws.NewRegistry()
	hub := ws.NewHub()
	settings := &fakeSettingsStore{}
	b := NewPresenceBroadcaster(users, settings, partners, registry, hub, zerolog.Nop())
	return b, registry, hub, settings
}

func TestAnnounceOnlineNotifiesPartnersOnce(t *testing.T) {
	users := &fakeUserStore{users: map[uint]*models.User{1: {ID: 1, Username: "alice"}, 2: {ID: 2}}}
	partners := &fakePartnerStore{partners: map[uint][]uint{1: {2}}}
	b, registry, hub, _ := setupBroadcaster(users, partners)

	self := testClient(1, "c1")
	partner := testClient(2, "c2")
	registry.Register(1, "dev", "", "", self)
	hub.Join(self, ws.UserRoom(1))
	hub.Join(partner, ws.UserRoom(2))

	state, err := b.Announce(1, true, false)
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if !state.IsOnline {
		t.Fatal("state should be online")
	}
	if event, p := recvEvent(t, self); event != ws.EventPresenceSelf || !p.IsOnline {
		t.Fatalf("self got %s %+v", event, p)
	}
	if event, p := recvEvent(t, partner); event != ws.EventPresenceUpdate || p.UserID != 1 || !p.IsOnline {
		t.Fatalf("partner got %s %+v", event, p)
	}
	if users.writes != 1 {
		t.Fatalf("store writes = %d, want 1", users.writes)
	}

	// Re-announcing the same state syncs own tabs but stays quiet for
	// partners and skips the redundant store write.
	if _, err := b.Announce(1, true, false); err != nil {
		t.Fatalf("second announce: %v", err)
	}
	recvEvent(t, self)
	expectSilence(t, partner)
	if users.writes != 1 {
		t.Fatalf("store writes = %d, want still 1", users.writes)
	}
}

func TestAnnounceOfflineOnLastDisconnect(t *testing.T) {
	users := &fakeUserStore{users: map[uint]*models.User{1: {ID: 1, Username: "alice", IsOnline: true}, 2: {ID: 2}}}
	partners := &fakePartnerStore{partners: map[uint][]uint{1: {2}}}
	b, registry, hub, _ := setupBroadcaster(users, partners)

	partner := testClient(2, "c2")
	hub.Join(partner, ws.UserRoom(2))

	// No devices registered: visibility true still resolves to offline.
	state, err := b.Announce(1, true, false)
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if state.IsOnline {
		t.Fatal("no live device means offline")
	}
	if event, p := recvEvent(t, partner); event != ws.EventPresenceUpdate || p.IsOnline {
		t.Fatalf("partner got %s %+v", event, p)
	}
	_ = registry
}

func TestAnnounceHiddenUserStaysOffline(t *testing.T) {
	users := &fakeUserStore{users: map[uint]*models.User{1: {ID: 1}}}
	partners := &fakePartnerStore{}
	b, registry, hub, settings := setupBroadcaster(users, partners)

	self := testClient(1, "c1")
	registry.Register(1, "dev", "", "", self)
	hub.Join(self, ws.UserRoom(1))

	// Connected but invisible: effective state is offline, preference persisted.
	state, err := b.Announce(1, false, true)
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if state.IsOnline {
		t.Fatal("hidden user must read offline")
	}
	if show, ok := settings.persisted[1]; !ok || show {
		t.Fatalf("persisted = %v/%v, want visible=false recorded", show, ok)
	}
}

func TestAnnounceUnknownUser(t *testing.T) {
	users := &fakeUserStore{users: map[uint]*models.User{}}
	b, _, _, _ := setupBroadcaster(users, &fakePartnerStore{})
	if _, err := b.Announce(99, true, false); err != ErrUserNotFound {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}
