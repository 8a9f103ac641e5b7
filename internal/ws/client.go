package ws

import (
	"sync"

	"parley/internal/models"
)

// Client represents a single WebSocket connection with user context. One
// user may hold many Clients at once (tabs, devices); grouping into logical
// devices is the Registry's job.
type Client struct {
	ID       string
	UserID   uint
	Username string
	DeviceID string
	Settings *models.UserSettings
	Send     chan []byte

	mu     sync.Mutex
	closed bool
	closer func()
}

func NewClient(id string, userID uint, username, deviceID string, settings *models.UserSettings, sendBuffer int) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		Username: username,
		DeviceID: deviceID,
		Settings: settings,
		Send:     make(chan []byte, sendBuffer),
	}
}

// SetCloser installs the hook that tears down the underlying transport.
// Gateways set it to close the network connection so a forced logout
// unblocks the read loop.
func (c *Client) SetCloser(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closer = fn
}

// Close shuts the send channel exactly once and closes the transport. The
// write pump drains and exits; registries clean up via their own
// deregister paths.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.Send)
	closer := c.closer
	c.mu.Unlock()
	if closer != nil {
		closer()
	}
}

func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deliver sends one event to this client only.
func (c *Client) Deliver(event string, payload interface{}) bool {
	return c.trySend(Marshal(event, payload))
}

// trySend enqueues without blocking; a slow consumer loses the frame
// rather than stalling the fanout path.
func (c *Client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}
