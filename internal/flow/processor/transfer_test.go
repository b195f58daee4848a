package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

// scriptedTarget replies with one fixed text event.
type scriptedTarget struct {
	name       string
	reply      string
	gotMessage string
}

func (a *scriptedTarget) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	a.gotMessage = invocation.Message.Content
	ch := make(chan *event.Event, 1)
	ch <- event.NewResponseEvent(invocation.InvocationID, a.name, &model.Response{
		Done: true,
		Choices: []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: a.reply},
		}},
	})
	close(ch)
	return ch, nil
}

func (a *scriptedTarget) Tools() []tool.Tool { return nil }

func (a *scriptedTarget) Info() agent.Info { return agent.Info{Name: a.name} }

func (a *scriptedTarget) SubAgents() []agent.Agent { return nil }

func (a *scriptedTarget) FindSubAgent(string) agent.Agent { return nil }

// hostAgent owns the delegation candidates.
type hostAgent struct {
	name string
	subs []agent.Agent
}

func (a *hostAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	ch := make(chan *event.Event)
	close(ch)
	return ch, nil
}

func (a *hostAgent) Tools() []tool.Tool { return nil }

func (a *hostAgent) Info() agent.Info { return agent.Info{Name: a.name} }

func (a *hostAgent) SubAgents() []agent.Agent { return a.subs }
func (a *hostAgent) FindSubAgent(name string) agent.Agent {
	for _, sub := range a.subs {
		if sub.Info().Name == name {
			return sub
		}
	}
	return nil
}

func runTransfer(t *testing.T, invocation *agent.Invocation) []*event.Event {
	t.Helper()
	ch := make(chan *event.Event, 8)
	NewTransferResponseProcessor().ProcessResponse(context.Background(), invocation, &model.Response{}, ch)
	close(ch)
	var events []*event.Event
	for evt := range ch {
		events = append(events, evt)
	}
	return events
}

func TestTransferRunsTargetAndEndsInvocation(t *testing.T) {
	target := &scriptedTarget{name: "billing", reply: "invoice sent"}
	host := &hostAgent{name: "triage", subs: []agent.Agent{target}}
	invocation := &agent.Invocation{
		InvocationID: "inv-1",
		Agent:        host,
		AgentName:    "triage",
		Message:      model.NewUserMessage("original question"),
		TransferInfo: &agent.TransferInfo{TargetAgentName: "billing"},
	}

	events := runTransfer(t, invocation)
	require.Len(t, events, 2)

	announce := events[0]
	assert.Equal(t, model.ObjectTypeTransfer, announce.Object)
	require.NotNil(t, announce.Actions)
	assert.Equal(t, "billing", announce.Actions.TransferToAgent)

	assert.Equal(t, "invoice sent", events[1].Choices[0].Message.Content)
	assert.Equal(t, "original question", target.gotMessage)

	assert.True(t, invocation.EndInvocation)
	assert.Nil(t, invocation.TransferInfo)
	assert.Equal(t, "billing", invocation.AgentName)
}

func TestTransferForwardsHandoffMessage(t *testing.T) {
	target := &scriptedTarget{name: "billing", reply: "ok"}
	host := &hostAgent{name: "triage", subs: []agent.Agent{target}}
	invocation := &agent.Invocation{
		InvocationID: "inv-1",
		Agent:        host,
		AgentName:    "triage",
		Message:      model.NewUserMessage("original question"),
		TransferInfo: &agent.TransferInfo{
			TargetAgentName: "billing",
			Message:         "customer needs invoice 42",
		},
	}

	runTransfer(t, invocation)
	assert.Equal(t, "customer needs invoice 42", target.gotMessage)
}

func TestTransferUnknownTargetEmitsError(t *testing.T) {
	host := &hostAgent{name: "triage"}
	invocation := &agent.Invocation{
		InvocationID: "inv-1",
		Agent:        host,
		AgentName:    "triage",
		TransferInfo: &agent.TransferInfo{TargetAgentName: "nobody"},
	}

	events := runTransfer(t, invocation)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, model.ErrorTypeFlowError, events[0].Error.Type)
	assert.False(t, invocation.EndInvocation)
}

func TestTransferNoOpWithoutRequest(t *testing.T) {
	invocation := &agent.Invocation{InvocationID: "inv-1"}
	events := runTransfer(t, invocation)
	assert.Empty(t, events)
}
