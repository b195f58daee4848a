package state

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/session"
)

func invocationWithState(state map[string][]byte) *agent.Invocation {
	return &agent.Invocation{
		Session: &session.Session{
			ID:    "sess-1",
			State: state,
		},
	}
}

func TestInjectReplacesKnownKeys(t *testing.T) {
	inv := invocationWithState(map[string][]byte{
		"name": []byte(`"Ada"`),
		"age":  []byte(`42`),
	})

	out, err := Inject("Hello {name}, you are {age}.", inv)
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada, you are 42.", out)
}

func TestInjectLeavesMissingRequiredKey(t *testing.T) {
	inv := invocationWithState(map[string][]byte{})

	out, err := Inject("Hello {name}.", inv)
	require.NoError(t, err)
	assert.Equal(t, "Hello {name}.", out)
}

func TestInjectDropsMissingOptionalKey(t *testing.T) {
	inv := invocationWithState(map[string][]byte{})

	out, err := Inject("Hello{greeting?}.", inv)
	require.NoError(t, err)
	assert.Equal(t, "Hello.", out)
}

func TestInjectScopedKeys(t *testing.T) {
	inv := invocationWithState(map[string][]byte{
		"app:tone":    []byte(`"formal"`),
		"user:locale": []byte(`"pl"`),
		"temp:draft":  []byte(`"wip"`),
	})

	out, err := Inject("{app:tone} {user:locale} {temp:draft}", inv)
	require.NoError(t, err)
	assert.Equal(t, "formal pl wip", out)
}

func TestInjectMustacheForm(t *testing.T) {
	inv := invocationWithState(map[string][]byte{
		"topic": []byte(`"storage"`),
	})

	out, err := Inject("Discuss {{topic}} and {{missing?}} now.", inv)
	require.NoError(t, err)
	assert.Equal(t, "Discuss storage and  now.", out)
}

func TestInjectNonJSONValueVerbatim(t *testing.T) {
	inv := invocationWithState(map[string][]byte{
		"motd": []byte("plain text, not json"),
	})

	out, err := Inject("{motd}", inv)
	require.NoError(t, err)
	assert.Equal(t, "plain text, not json", out)
}

func TestInjectIgnoresFreeTextBraces(t *testing.T) {
	inv := invocationWithState(map[string][]byte{})

	out, err := Inject(`JSON looks like {"key": 1}.`, inv)
	require.NoError(t, err)
	assert.Equal(t, `JSON looks like {"key": 1}.`, out)
}

func TestInjectNilInvocation(t *testing.T) {
	out, err := Inject("Hello{name?}.", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello.", out)

	out, err = Inject("", nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestInjectConcurrentWithStateMerge(t *testing.T) {
	sess := &session.Session{
		ID:    "sess-1",
		State: session.StateMap{"name": []byte(`"Ada"`)},
	}
	inv := &agent.Invocation{Session: sess}

	// Writes take the same lock the session store's delta merge does;
	// run -race to verify reads stay off the bare map.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			sess.EventMu.Lock()
			sess.State[fmt.Sprintf("key%d", i)] = []byte(`1`)
			sess.EventMu.Unlock()
		}
	}()

	for i := 0; i < 500; i++ {
		out, err := Inject("Hello {name}.", inv)
		require.NoError(t, err)
		assert.Equal(t, "Hello Ada.", out)
	}
	<-done
}
