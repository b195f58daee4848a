// Package inmemory provides the in-memory session service.
package inmemory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/session"
)

const defaultSessionEventLimit = 1000

var _ session.Service = (*SessionService)(nil)

// appSessions holds every session and scoped state of one app.
type appSessions struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]*session.Session // userID -> sessionID -> session
	userState map[string]session.StateMap
	appState  session.StateMap
}

func newAppSessions() *appSessions {
	return &appSessions{
		sessions:  make(map[string]map[string]*session.Session),
		userState: make(map[string]session.StateMap),
		appState:  make(session.StateMap),
	}
}

type serviceOpts struct {
	sessionEventLimit int
}

// ServiceOpt configures the in-memory session service.
type ServiceOpt func(*serviceOpts)

// WithSessionEventLimit caps the number of events retained per session.
// Zero keeps everything.
func WithSessionEventLimit(limit int) ServiceOpt {
	return func(o *serviceOpts) {
		o.sessionEventLimit = limit
	}
}

// SessionService is an in-memory session.Service.
type SessionService struct {
	mu   sync.RWMutex
	apps map[string]*appSessions
	opts serviceOpts
}

// NewSessionService creates an in-memory session service.
func NewSessionService(options ...ServiceOpt) *SessionService {
	opts := serviceOpts{sessionEventLimit: defaultSessionEventLimit}
	for _, option := range options {
		option(&opts)
	}
	return &SessionService{
		apps: make(map[string]*appSessions),
		opts: opts,
	}
}

func (s *SessionService) getAppSessions(appName string) (*appSessions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appName]
	return app, ok
}

func (s *SessionService) getOrCreateAppSessions(appName string) *appSessions {
	s.mu.RLock()
	app, ok := s.apps[appName]
	s.mu.RUnlock()
	if ok {
		return app
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if app, ok = s.apps[appName]; ok {
		return app
	}
	app = newAppSessions()
	s.apps[appName] = app
	return app
}

// CreateSession creates a new session. An empty session id is replaced
// with a generated one.
func (s *SessionService) CreateSession(
	ctx context.Context,
	key session.Key,
	state session.StateMap,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckUserKey(); err != nil {
		return nil, err
	}

	app := s.getOrCreateAppSessions(key.AppName)

	if key.SessionID == "" {
		key.SessionID = uuid.New().String()
	}

	now := time.Now()
	sess := &session.Session{
		ID:        key.SessionID,
		AppName:   key.AppName,
		UserID:    key.UserID,
		State:     make(session.StateMap),
		Events:    []event.Event{},
		UpdatedAt: now,
		CreatedAt: now,
	}
	for k, v := range state {
		sess.State[k] = append([]byte(nil), v...)
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.sessions[key.UserID] == nil {
		app.sessions[key.UserID] = make(map[string]*session.Session)
	}
	if app.userState[key.UserID] == nil {
		app.userState[key.UserID] = make(session.StateMap)
	}
	app.sessions[key.UserID][key.SessionID] = sess

	return mergeState(app.appState, app.userState[key.UserID], copySession(sess)), nil
}

// GetSession returns a copy of the session, or nil when absent.
func (s *SessionService) GetSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) (*session.Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	opt := applyOptions(opts...)
	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return nil, nil
	}

	app.mu.RLock()
	defer app.mu.RUnlock()
	sess, ok := app.sessions[key.UserID][key.SessionID]
	if !ok {
		return nil, nil
	}

	copied := copySession(sess)
	applyReadOptions(copied, opt)
	return mergeState(app.appState, app.userState[key.UserID], copied), nil
}

// ListSessions returns copies of every session of the user.
func (s *SessionService) ListSessions(
	ctx context.Context,
	userKey session.UserKey,
	opts ...session.Option,
) ([]*session.Session, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	opt := applyOptions(opts...)
	app, ok := s.getAppSessions(userKey.AppName)
	if !ok {
		return []*session.Session{}, nil
	}

	app.mu.RLock()
	defer app.mu.RUnlock()

	sessions := make([]*session.Session, 0, len(app.sessions[userKey.UserID]))
	for _, sess := range app.sessions[userKey.UserID] {
		copied := copySession(sess)
		applyReadOptions(copied, opt)
		sessions = append(sessions, mergeState(app.appState, app.userState[userKey.UserID], copied))
	}
	return sessions, nil
}

// DeleteSession removes the session. Absent sessions are ignored.
func (s *SessionService) DeleteSession(
	ctx context.Context,
	key session.Key,
	opts ...session.Option,
) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}

	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return nil
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	userSessions, ok := app.sessions[key.UserID]
	if !ok {
		return nil
	}
	delete(userSessions, key.SessionID)
	if len(userSessions) == 0 {
		delete(app.sessions, key.UserID)
	}
	return nil
}

// AppendEvent appends the event to the stored session and merges its
// state delta into both the stored session and the caller's copy before
// returning, so the merge is visible to every reader.
func (s *SessionService) AppendEvent(
	ctx context.Context,
	sess *session.Session,
	evt *event.Event,
	opts ...session.Option,
) error {
	key := session.Key{
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	}
	if err := key.CheckSessionKey(); err != nil {
		return err
	}

	app, ok := s.getAppSessions(key.AppName)
	if !ok {
		return session.ErrSessionNotFound
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	stored, ok := app.sessions[key.UserID][key.SessionID]
	if !ok {
		return session.ErrSessionNotFound
	}

	s.applyEvent(app, key.UserID, stored, evt, true)
	if sess != stored {
		s.applyEvent(app, key.UserID, sess, evt, false)
	}
	return nil
}

// applyEvent appends the event and merges its state delta. Temp-scoped
// keys stay visible on the caller's copy for the rest of the invocation
// but are never written to the stored session or the app/user scopes.
func (s *SessionService) applyEvent(app *appSessions, userID string, sess *session.Session, evt *event.Event, persistent bool) {
	sess.EventMu.Lock()
	sess.Events = append(sess.Events, *evt)
	if s.opts.sessionEventLimit > 0 && len(sess.Events) > s.opts.sessionEventLimit {
		sess.Events = sess.Events[len(sess.Events)-s.opts.sessionEventLimit:]
	}
	if sess.State == nil {
		sess.State = make(session.StateMap)
	}
	for k, v := range evt.StateDelta {
		if persistent && session.IsTempKey(k) {
			continue
		}
		sess.State[k] = append([]byte(nil), v...)
	}
	sess.UpdatedAt = time.Now()
	sess.EventMu.Unlock()

	for k, v := range evt.StateDelta {
		switch {
		case session.IsAppKey(k):
			app.appState[strings.TrimPrefix(k, session.StateAppPrefix)] = append([]byte(nil), v...)
		case session.IsUserKey(k):
			if app.userState[userID] == nil {
				app.userState[userID] = make(session.StateMap)
			}
			app.userState[userID][strings.TrimPrefix(k, session.StateUserPrefix)] = append([]byte(nil), v...)
		}
	}
}

// UpdateAppState merges app-scoped state.
func (s *SessionService) UpdateAppState(ctx context.Context, appName string, state session.StateMap) error {
	if appName == "" {
		return session.ErrAppNameRequired
	}

	app := s.getOrCreateAppSessions(appName)

	app.mu.Lock()
	defer app.mu.Unlock()

	for k, v := range state {
		k = strings.TrimPrefix(k, session.StateAppPrefix)
		app.appState[k] = append([]byte(nil), v...)
	}
	return nil
}

// DeleteAppState removes one app-scoped key.
func (s *SessionService) DeleteAppState(ctx context.Context, appName string, key string) error {
	if appName == "" {
		return session.ErrAppNameRequired
	}

	app, ok := s.getAppSessions(appName)
	if !ok {
		return nil
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	delete(app.appState, strings.TrimPrefix(key, session.StateAppPrefix))
	return nil
}

// ListAppStates returns a copy of the app-scoped state.
func (s *SessionService) ListAppStates(ctx context.Context, appName string) (session.StateMap, error) {
	if appName == "" {
		return nil, session.ErrAppNameRequired
	}

	app, ok := s.getAppSessions(appName)
	if !ok {
		return make(session.StateMap), nil
	}

	app.mu.RLock()
	defer app.mu.RUnlock()
	return copyState(app.appState), nil
}

// UpdateUserState merges user-scoped state. App and temp scoped keys are
// rejected.
func (s *SessionService) UpdateUserState(ctx context.Context, userKey session.UserKey, state session.StateMap) error {
	if err := userKey.CheckUserKey(); err != nil {
		return err
	}

	for k := range state {
		if session.IsAppKey(k) || session.IsTempKey(k) {
			return &scopeError{key: k}
		}
	}

	app := s.getOrCreateAppSessions(userKey.AppName)

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.userState[userKey.UserID] == nil {
		app.userState[userKey.UserID] = make(session.StateMap)
	}
	for k, v := range state {
		k = strings.TrimPrefix(k, session.StateUserPrefix)
		app.userState[userKey.UserID][k] = append([]byte(nil), v...)
	}
	return nil
}

// DeleteUserState removes one user-scoped key.
func (s *SessionService) DeleteUserState(ctx context.Context, userKey session.UserKey, key string) error {
	if err := userKey.CheckUserKey(); err != nil {
		return err
	}

	app, ok := s.getAppSessions(userKey.AppName)
	if !ok {
		return nil
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.userState[userKey.UserID] == nil {
		return nil
	}
	delete(app.userState[userKey.UserID], strings.TrimPrefix(key, session.StateUserPrefix))
	if len(app.userState[userKey.UserID]) == 0 {
		delete(app.userState, userKey.UserID)
	}
	return nil
}

// ListUserStates returns a copy of the user-scoped state.
func (s *SessionService) ListUserStates(ctx context.Context, userKey session.UserKey) (session.StateMap, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	app, ok := s.getAppSessions(userKey.AppName)
	if !ok {
		return make(session.StateMap), nil
	}

	app.mu.RLock()
	defer app.mu.RUnlock()
	userState, ok := app.userState[userKey.UserID]
	if !ok {
		return make(session.StateMap), nil
	}
	return copyState(userState), nil
}

// Close implements session.Service.
func (s *SessionService) Close() error {
	return nil
}

type scopeError struct {
	key string
}

func (e *scopeError) Error() string {
	return "state key " + e.key + " is not allowed in user scope"
}

func copySession(sess *session.Session) *session.Session {
	copied := &session.Session{
		ID:        sess.ID,
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		State:     copyState(sess.State),
		Events:    make([]event.Event, len(sess.Events)),
		UpdatedAt: sess.UpdatedAt,
		CreatedAt: sess.CreatedAt,
	}
	copy(copied.Events, sess.Events)
	return copied
}

func copyState(state session.StateMap) session.StateMap {
	copied := make(session.StateMap, len(state))
	for k, v := range state {
		copied[k] = append([]byte(nil), v...)
	}
	return copied
}

func applyReadOptions(sess *session.Session, opts *session.Options) {
	if opts.EventNum > 0 && len(sess.Events) > opts.EventNum {
		sess.Events = sess.Events[len(sess.Events)-opts.EventNum:]
	}
	if !opts.EventTime.IsZero() {
		var filtered []event.Event
		for _, e := range sess.Events {
			if !e.Timestamp.Before(opts.EventTime) {
				filtered = append(filtered, e)
			}
		}
		sess.Events = filtered
	}
}

func mergeState(appState, userState session.StateMap, sess *session.Session) *session.Session {
	for k, v := range appState {
		sess.State[session.StateAppPrefix+k] = v
	}
	for k, v := range userState {
		sess.State[session.StateUserPrefix+k] = v
	}
	return sess
}

func applyOptions(opts ...session.Option) *session.Options {
	opt := &session.Options{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}
