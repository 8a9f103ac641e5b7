package ws

import "sync"

// DeviceInfo is the projection served to the multi-device settings UI.
// Active marks the device the querying connection belongs to.
type DeviceInfo struct {
	ID          string
	Name        string
	Location    string
	Active      bool
	Connections int
}

type device struct {
	id       string
	name     string
	location string
	conns    map[*Client]struct{}
}

type deviceKey struct {
	userID   uint
	deviceID string
}

// Registry is the process-local presence table: user -> device -> live
// connections. It owns Device lifecycle exclusively; all operations are
// idempotent set operations so concurrent handshakes and disconnects can
// interleave safely.
type Registry struct {
	mu       sync.RWMutex
	devices  map[uint]map[string]*device
	byClient map[*Client]deviceKey
}

func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[uint]map[string]*device),
		byClient: make(map[*Client]deviceKey),
	}
}

// Register adds the connection to the (user, device) pair, creating the
// device on first sight. Returns true when this connection took the user
// from offline to online.
func (r *Registry) Register(userID uint, deviceID, name, location string, c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byClient[c]; ok {
		return false
	}
	wasOffline := len(r.devices[userID]) == 0
	if r.devices[userID] == nil {
		r.devices[userID] = make(map[string]*device)
	}
	d := r.devices[userID][deviceID]
	if d == nil {
		d = &device{id: deviceID, name: name, location: location, conns: make(map[*Client]struct{})}
		r.devices[userID][deviceID] = d
	}
	d.conns[c] = struct{}{}
	r.byClient[c] = deviceKey{userID: userID, deviceID: deviceID}
	return wasOffline
}

// Deregister removes the connection; an emptied device is removed with it.
// Returns the owning user and true when the user just went offline.
func (r *Registry) Deregister(c *Client) (userID uint, lastConn bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, found := r.byClient[c]
	if !found {
		return 0, false, false
	}
	delete(r.byClient, c)
	devs := r.devices[key.userID]
	if d := devs[key.deviceID]; d != nil {
		delete(d.conns, c)
		if len(d.conns) == 0 {
			delete(devs, key.deviceID)
		}
	}
	if len(devs) == 0 {
		delete(r.devices, key.userID)
		return key.userID, true, true
	}
	return key.userID, false, true
}

// IsOnline is the simple presence rule: at least one device exists.
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices[userID]) > 0
}

// ConnectionCount reports live connections for one (user, device) pair.
func (r *Registry) ConnectionCount(userID uint, deviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if d := r.devices[userID][deviceID]; d != nil {
		return len(d.conns)
	}
	return 0
}

// DeviceCount reports how many devices a user currently has.
func (r *Registry) DeviceCount(userID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices[userID])
}

// TotalDevices reports live (user, device) pairs across all users.
func (r *Registry) TotalDevices() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, devs := range r.devices {
		n += len(devs)
	}
	return n
}

// TotalConnections reports live connections across all users.
func (r *Registry) TotalConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient)
}

// Devices lists the user's devices; Active is true for the device holding
// the viewer's connection.
func (r *Registry) Devices(userID uint, viewerConnID string) []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devs := r.devices[userID]
	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := DeviceInfo{ID: d.id, Name: d.name, Location: d.location, Connections: len(d.conns)}
		for c := range d.conns {
			if c.ID == viewerConnID {
				info.Active = true
				break
			}
		}
		out = append(out, info)
	}
	return out
}

// LogoutDevice removes the whole device atomically and hands back its
// connections for the caller to close. Other components never observe a
// half-removed device: by the time any returned connection is closed, the
// registry no longer knows it.
func (r *Registry) LogoutDevice(userID uint, deviceID string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	devs := r.devices[userID]
	d := devs[deviceID]
	if d == nil {
		return nil
	}
	conns := make([]*Client, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
		delete(r.byClient, c)
	}
	delete(devs, deviceID)
	if len(devs) == 0 {
		delete(r.devices, userID)
	}
	return conns
}
