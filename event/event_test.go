package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/model"
)

func TestNewSetsIdentityFields(t *testing.T) {
	evt := New("inv-1", "assistant",
		WithBranch("root.child"),
		WithObject(model.ObjectTypeToolResponse),
	)

	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, "inv-1", evt.InvocationID)
	assert.Equal(t, "assistant", evt.Author)
	assert.Equal(t, "root.child", evt.Branch)
	assert.Equal(t, model.ObjectTypeToolResponse, evt.Object)

	other := New("inv-1", "assistant")
	assert.NotEqual(t, evt.ID, other.ID)
}

func TestNewResponseEventKeepsPayload(t *testing.T) {
	rsp := &model.Response{
		Done: true,
		Choices: []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: "hi"},
		}},
	}
	evt := NewResponseEvent("inv-1", "assistant", rsp)

	assert.Same(t, rsp, evt.Response)
	assert.Equal(t, "hi", evt.Choices[0].Message.Content)
}

func TestNewErrorEventIsFinal(t *testing.T) {
	evt := NewErrorEvent("inv-1", "assistant", model.ErrorTypeFlowError, "boom")

	require.NotNil(t, evt.Error)
	assert.Equal(t, model.ErrorTypeFlowError, evt.Error.Type)
	assert.Equal(t, "boom", evt.Error.Message)
	assert.Equal(t, model.ObjectTypeError, evt.Object)
	assert.True(t, evt.IsFinalResponse())
}

func TestCloneIsDeep(t *testing.T) {
	evt := New("inv-1", "assistant",
		WithStateDelta(map[string][]byte{"k": []byte("v")}),
		WithActions(&Actions{
			ArtifactDelta:              map[string]int{"file.png": 2},
			TransferToAgent:            "triage",
			RequestedAuthConfigs:       map[string]string{"call-1": "oauth"},
			RequestedToolConfirmations: map[string]string{"call-2": "delete everything?"},
		}),
	)
	evt.Response.Choices = []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: "original"},
	}}
	evt.LongRunningToolIDs = map[string]struct{}{"call-1": {}}

	clone := evt.Clone()
	require.NotNil(t, clone)

	clone.StateDelta["k"] = []byte("changed")
	clone.Actions.ArtifactDelta["file.png"] = 9
	clone.Actions.RequestedAuthConfigs["call-1"] = "api-key"
	delete(clone.Actions.RequestedToolConfirmations, "call-2")
	clone.Response.Choices[0].Message.Content = "changed"
	delete(clone.LongRunningToolIDs, "call-1")

	assert.Equal(t, []byte("v"), evt.StateDelta["k"])
	assert.Equal(t, 2, evt.Actions.ArtifactDelta["file.png"])
	assert.Equal(t, "oauth", evt.Actions.RequestedAuthConfigs["call-1"])
	assert.Equal(t, "delete everything?", evt.Actions.RequestedToolConfirmations["call-2"])
	assert.Equal(t, "original", evt.Choices[0].Message.Content)
	assert.Contains(t, evt.LongRunningToolIDs, "call-1")
	assert.Equal(t, "triage", clone.Actions.TransferToAgent)
}

func TestCloneNil(t *testing.T) {
	var evt *Event
	assert.Nil(t, evt.Clone())
}
