package ws

import (
	"errors"
	"sync"
	"time"

	"parley/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrCallExists   = errors.New("call id already in use")
	ErrCallNotFound = errors.New("call not found")
	ErrCallOver     = errors.New("call already answered or ended")
	ErrNoRecipients = errors.New("call needs at least one recipient")
)

// CallSnapshot is the immutable view handed to gateways for broadcasting.
type CallSnapshot struct {
	ID           string
	CallerID     uint
	RecipientIDs []uint
	CallType     string
	Status       string
	CreatedAt    time.Time
}

type callSession struct {
	id           string
	callerID     uint
	recipientIDs []uint
	callType     string
	status       string
	createdAt    time.Time
	joined       map[uint]struct{}
	ringTimer    *time.Timer
}

func (s *callSession) snapshot() CallSnapshot {
	ids := make([]uint, len(s.recipientIDs))
	copy(ids, s.recipientIDs)
	return CallSnapshot{
		ID:           s.id,
		CallerID:     s.callerID,
		RecipientIDs: ids,
		CallType:     s.callType,
		Status:       s.status,
		CreatedAt:    s.createdAt,
	}
}

func (s *callSession) isParticipant(userID uint) bool {
	if s.callerID == userID {
		return true
	}
	for _, id := range s.recipientIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// CallRegistry is the per-call state machine table. Transitions are
// monotonic: ringing -> answered -> ended, or ringing -> ended on
// reject/timeout/hangup. A session that never leaves ringing is expired by
// the ring timer so abandoned calls cannot pile up in memory.
type CallRegistry struct {
	mu          sync.Mutex
	sessions    map[string]*callSession
	ringTimeout time.Duration
	onExpire    func(CallSnapshot)
}

func NewCallRegistry(ringTimeout time.Duration) *CallRegistry {
	return &CallRegistry{
		sessions:    make(map[string]*callSession),
		ringTimeout: ringTimeout,
	}
}

// OnExpire installs the ring-timeout handler. Must be set before the first
// Create; the callback runs on the timer goroutine after the session has
// already been removed.
func (r *CallRegistry) OnExpire(fn func(CallSnapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = fn
}

// Create registers a new ringing session. A duplicate call id is rejected
// rather than clobbered. Empty callID gets a server-generated uuid.
func (r *CallRegistry) Create(callID string, callerID uint, recipientIDs []uint, callType string) (CallSnapshot, error) {
	if len(recipientIDs) == 0 {
		return CallSnapshot{}, ErrNoRecipients
	}
	if callID == "" {
		callID = uuid.NewString()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[callID]; exists {
		return CallSnapshot{}, ErrCallExists
	}
	s := &callSession{
		id:           callID,
		callerID:     callerID,
		recipientIDs: append([]uint(nil), recipientIDs...),
		callType:     callType,
		status:       domain.CallStatusRinging,
		createdAt:    time.Now(),
		joined:       map[uint]struct{}{callerID: {}},
	}
	if r.ringTimeout > 0 {
		s.ringTimer = time.AfterFunc(r.ringTimeout, func() { r.expire(callID) })
	}
	r.sessions[callID] = s
	return s.snapshot(), nil
}

func (r *CallRegistry) expire(callID string) {
	r.mu.Lock()
	s, ok := r.sessions[callID]
	if !ok || s.status != domain.CallStatusRinging {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, callID)
	s.status = domain.CallStatusEnded
	snap := s.snapshot()
	fn := r.onExpire
	r.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// Join records a participant on the call channel. Join does not answer;
// an explicit call_answered is required for the state transition.
func (r *CallRegistry) Join(callID string, userID uint) (CallSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSnapshot{}, ErrCallNotFound
	}
	s.joined[userID] = struct{}{}
	return s.snapshot(), nil
}

// Leave drops a participant from the joined set without ending the call.
func (r *CallRegistry) Leave(callID string, userID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[callID]; ok {
		delete(s.joined, userID)
	}
}

// Answer moves ringing -> answered. Answering a call that no longer exists
// is an explicit error so the client can show "call no longer available".
func (r *CallRegistry) Answer(callID string, userID uint) (CallSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSnapshot{}, ErrCallNotFound
	}
	if s.status == domain.CallStatusRinging {
		s.status = domain.CallStatusAnswered
		if s.ringTimer != nil {
			s.ringTimer.Stop()
		}
	}
	s.joined[userID] = struct{}{}
	return s.snapshot(), nil
}

// End removes the session whatever its state. A second End for the same id
// reports ErrCallNotFound and triggers no broadcast.
func (r *CallRegistry) End(callID string) (CallSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSnapshot{}, ErrCallNotFound
	}
	delete(r.sessions, callID)
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	s.status = domain.CallStatusEnded
	return s.snapshot(), nil
}

// Reject ends a still-ringing session on behalf of a callee. Rejecting an
// answered call is refused; rejecting a vanished one reports not-found.
func (r *CallRegistry) Reject(callID string) (CallSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSnapshot{}, ErrCallNotFound
	}
	if s.status != domain.CallStatusRinging {
		return CallSnapshot{}, ErrCallOver
	}
	delete(r.sessions, callID)
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	s.status = domain.CallStatusEnded
	return s.snapshot(), nil
}

// Get returns a snapshot of a live session.
func (r *CallRegistry) Get(callID string) (CallSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callID]
	if !ok {
		return CallSnapshot{}, false
	}
	return s.snapshot(), true
}

// Len reports the number of live sessions.
func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HandleDisconnect reaps every session the user participates in once no
// participant is connected anymore. stillConnected is the gateway's view of
// the call namespace. Returns the sessions that were ended.
func (r *CallRegistry) HandleDisconnect(userID uint, stillConnected func(uint) bool) []CallSnapshot {
	r.mu.Lock()
	var ended []CallSnapshot
	for id, s := range r.sessions {
		if !s.isParticipant(userID) {
			continue
		}
		delete(s.joined, userID)
		alive := false
		if stillConnected(s.callerID) {
			alive = true
		}
		if !alive {
			for _, rid := range s.recipientIDs {
				if stillConnected(rid) {
					alive = true
					break
				}
			}
		}
		if !alive {
			delete(r.sessions, id)
			if s.ringTimer != nil {
				s.ringTimer.Stop()
			}
			s.status = domain.CallStatusEnded
			ended = append(ended, s.snapshot())
		}
	}
	r.mu.Unlock()
	return ended
}
