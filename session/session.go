// Package session defines the durable event log and state contract.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomekpanek/agentkit/event"
)

// StateMap is the session key-value state.
type StateMap map[string][]byte

var (
	// ErrAppNameRequired is returned when the app name is empty.
	ErrAppNameRequired = errors.New("appName is required")
	// ErrUserIDRequired is returned when the user id is empty.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrSessionIDRequired is returned when the session id is empty.
	ErrSessionIDRequired = errors.New("sessionID is required")
	// ErrSessionNotFound is returned when an operation targets a session
	// that does not exist. Appending to a vanished session is fatal for
	// the invocation; the runner never retries it.
	ErrSessionNotFound = errors.New("session not found")
)

// Session is one conversation: an append-only ordered event log plus a
// mutable key-value state. Events are never reordered or removed; state
// changes arrive as event-carried deltas merged at append time.
type Session struct {
	ID        string        `json:"id"`
	AppName   string        `json:"appName"`
	UserID    string        `json:"userID"`
	State     StateMap      `json:"state"`
	Events    []event.Event `json:"events"`
	EventMu   sync.RWMutex  `json:"-"`
	UpdatedAt time.Time     `json:"updatedAt"`
	CreatedAt time.Time     `json:"createdAt"`
}

// GetEvents returns a copy of the session events in append order.
func (sess *Session) GetEvents() []event.Event {
	sess.EventMu.RLock()
	defer sess.EventMu.RUnlock()

	events := make([]event.Event, len(sess.Events))
	copy(events, sess.Events)
	return events
}

// GetEventCount returns the number of logged events.
func (sess *Session) GetEventCount() int {
	sess.EventMu.RLock()
	defer sess.EventMu.RUnlock()

	return len(sess.Events)
}

// GetState returns a copy of one state value and whether it exists.
func (sess *Session) GetState(key string) ([]byte, bool) {
	sess.EventMu.RLock()
	defer sess.EventMu.RUnlock()

	value, ok := sess.State[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

// Options filters session reads.
type Options struct {
	// EventNum limits the read to the most recent events.
	EventNum int
	// EventTime limits the read to events at or after the given time.
	EventTime time.Time
}

// Option configures a session operation.
type Option func(*Options)

// WithEventNum limits reads to the most recent num events.
func WithEventNum(num int) Option {
	return func(o *Options) {
		o.EventNum = num
	}
}

// WithEventTime limits reads to events at or after t.
func WithEventTime(t time.Time) Option {
	return func(o *Options) {
		o.EventTime = t
	}
}

// Service is the session store contract consumed by the runner.
// Implementations must make AppendEvent merge the event's state delta
// into the session state before returning, visible to every reader.
type Service interface {
	// CreateSession creates a new session with the given initial state.
	CreateSession(ctx context.Context, key Key, state StateMap, options ...Option) (*Session, error)

	// GetSession fetches a session, or nil when it does not exist.
	GetSession(ctx context.Context, key Key, options ...Option) (*Session, error)

	// ListSessions lists all sessions of one user.
	ListSessions(ctx context.Context, userKey UserKey, options ...Option) ([]*Session, error)

	// DeleteSession removes a session. Deleting an absent session is not
	// an error.
	DeleteSession(ctx context.Context, key Key, options ...Option) error

	// AppendEvent appends an event to the session log and merges its
	// state delta. Returns ErrSessionNotFound when the session has
	// vanished.
	AppendEvent(ctx context.Context, session *Session, event *event.Event, options ...Option) error

	// UpdateAppState merges app-scoped state shared by every session of
	// the app.
	UpdateAppState(ctx context.Context, appName string, state StateMap) error

	// DeleteAppState removes one app-scoped state key.
	DeleteAppState(ctx context.Context, appName string, key string) error

	// ListAppStates returns the app-scoped state.
	ListAppStates(ctx context.Context, appName string) (StateMap, error)

	// UpdateUserState merges user-scoped state shared by every session of
	// the user.
	UpdateUserState(ctx context.Context, userKey UserKey, state StateMap) error

	// ListUserStates returns the user-scoped state.
	ListUserStates(ctx context.Context, userKey UserKey) (StateMap, error)

	// DeleteUserState removes one user-scoped state key.
	DeleteUserState(ctx context.Context, userKey UserKey, key string) error

	// Close releases the service resources.
	Close() error
}

// Key identifies a session.
type Key struct {
	AppName   string
	UserID    string
	SessionID string
}

// CheckSessionKey validates the full session key.
func (k *Key) CheckSessionKey() error {
	return checkSessionKey(k.AppName, k.UserID, k.SessionID)
}

// CheckUserKey validates the app and user parts of the key.
func (k *Key) CheckUserKey() error {
	return checkUserKey(k.AppName, k.UserID)
}

// UserKey identifies a user within an app.
type UserKey struct {
	AppName string
	UserID  string
}

// CheckUserKey validates the user key.
func (k *UserKey) CheckUserKey() error {
	return checkUserKey(k.AppName, k.UserID)
}

func checkSessionKey(appName, userID, sessionID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	return nil
}

func checkUserKey(appName, userID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	return nil
}
