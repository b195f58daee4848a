package inmemory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/session"
)

func testKey(sessionID string) session.Key {
	return session.Key{
		AppName:   "test-app",
		UserID:    "user-1",
		SessionID: sessionID,
	}
}

func contentEvent(invocationID, author, content string) *event.Event {
	evt := event.New(invocationID, author)
	evt.Response.Choices = []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: content},
	}}
	return evt
}

func TestCreateAndGetSession(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()

	sess, err := service.CreateSession(ctx, testKey("s1"), session.StateMap{"k": []byte("v")})
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "s1", sess.ID)
	assert.Equal(t, []byte("v"), sess.State["k"])

	got, err := service.GetSession(ctx, testKey("s1"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	missing, err := service.GetSession(ctx, testKey("nope"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateSessionGeneratesID(t *testing.T) {
	service := NewSessionService()
	defer service.Close()

	sess, err := service.CreateSession(context.Background(), testKey(""), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
}

func TestAppendEventPreservesOrder(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()

	sess, err := service.CreateSession(ctx, testKey("s1"), nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		evt := contentEvent("inv-1", "assistant", fmt.Sprintf("msg-%d", i))
		require.NoError(t, service.AppendEvent(ctx, sess, evt))
	}

	got, err := service.GetSession(ctx, testKey("s1"))
	require.NoError(t, err)
	events := got.GetEvents()
	require.Len(t, events, 10)
	for i, evt := range events {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), evt.Response.Choices[0].Message.Content)
	}
}

func TestAppendEventStateDeltaLastWriteWins(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()

	sess, err := service.CreateSession(ctx, testKey("s1"), session.StateMap{})
	require.NoError(t, err)

	first := contentEvent("inv-1", "assistant", "first")
	first.StateDelta = map[string][]byte{"x": []byte("1")}
	require.NoError(t, service.AppendEvent(ctx, sess, first))

	// The merge must be visible on the caller's copy before the next read.
	v, ok := sess.GetState("x")
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	second := contentEvent("inv-1", "assistant", "second")
	second.StateDelta = map[string][]byte{"x": []byte("2")}
	require.NoError(t, service.AppendEvent(ctx, sess, second))

	got, err := service.GetSession(ctx, testKey("s1"))
	require.NoError(t, err)
	v, ok = got.GetState("x")
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestAppendEventSessionNotFound(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()

	sess, err := service.CreateSession(ctx, testKey("s1"), nil)
	require.NoError(t, err)
	require.NoError(t, service.DeleteSession(ctx, testKey("s1")))

	err = service.AppendEvent(ctx, sess, contentEvent("inv-1", "assistant", "late"))
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestAppendEventScopedStateRouting(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()

	sess, err := service.CreateSession(ctx, testKey("s1"), nil)
	require.NoError(t, err)

	evt := contentEvent("inv-1", "assistant", "scoped")
	evt.StateDelta = map[string][]byte{
		session.StateAppPrefix + "theme":   []byte("dark"),
		session.StateUserPrefix + "lang":   []byte("en"),
		session.StateTempPrefix + "scratch": []byte("gone"),
	}
	require.NoError(t, service.AppendEvent(ctx, sess, evt))

	appState, err := service.ListAppStates(ctx, "test-app")
	require.NoError(t, err)
	assert.Equal(t, []byte("dark"), appState["theme"])

	userState, err := service.ListUserStates(ctx, session.UserKey{AppName: "test-app", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, []byte("en"), userState["lang"])

	// Scoped values come back prefixed on session reads; temp values do
	// not survive.
	got, err := service.GetSession(ctx, testKey("s1"))
	require.NoError(t, err)
	_, ok := got.GetState(session.StateAppPrefix + "theme")
	assert.True(t, ok)
	_, ok = got.GetState(session.StateUserPrefix + "lang")
	assert.True(t, ok)
	_, ok = got.GetState(session.StateTempPrefix + "scratch")
	assert.False(t, ok)
}

func TestSessionEventLimit(t *testing.T) {
	service := NewSessionService(WithSessionEventLimit(3))
	defer service.Close()
	ctx := context.Background()

	sess, err := service.CreateSession(ctx, testKey("s1"), nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		evt := contentEvent("inv-1", "assistant", fmt.Sprintf("msg-%d", i))
		require.NoError(t, service.AppendEvent(ctx, sess, evt))
	}

	got, err := service.GetSession(ctx, testKey("s1"))
	require.NoError(t, err)
	events := got.GetEvents()
	require.Len(t, events, 3)
	assert.Equal(t, "msg-2", events[0].Response.Choices[0].Message.Content)
	assert.Equal(t, "msg-4", events[2].Response.Choices[0].Message.Content)
}

func TestListSessions(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()

	_, err := service.CreateSession(ctx, testKey("s1"), nil)
	require.NoError(t, err)
	_, err = service.CreateSession(ctx, testKey("s2"), nil)
	require.NoError(t, err)

	sessions, err := service.ListSessions(ctx, session.UserKey{AppName: "test-app", UserID: "user-1"})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestUpdateUserStateRejectsForeignScopes(t *testing.T) {
	service := NewSessionService()
	defer service.Close()
	ctx := context.Background()
	userKey := session.UserKey{AppName: "test-app", UserID: "user-1"}

	err := service.UpdateUserState(ctx, userKey, session.StateMap{
		session.StateAppPrefix + "k": []byte("v"),
	})
	assert.Error(t, err)

	err = service.UpdateUserState(ctx, userKey, session.StateMap{
		session.StateTempPrefix + "k": []byte("v"),
	})
	assert.Error(t, err)
}
