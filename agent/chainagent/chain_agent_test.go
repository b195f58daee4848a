package chainagent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

// fakeAgent emits one text event per run and can end the invocation or
// escalate out of its parent.
type fakeAgent struct {
	name          string
	endInvocation bool
	escalate      bool
	runErr        error

	gotBranch string
}

func (a *fakeAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	if a.runErr != nil {
		return nil, a.runErr
	}
	a.gotBranch = invocation.Branch
	if a.endInvocation {
		invocation.EndInvocation = true
	}
	ch := make(chan *event.Event, 1)
	evt := event.NewResponseEvent(invocation.InvocationID, a.name, &model.Response{
		Done: true,
		Choices: []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: "from " + a.name},
		}},
	})
	if a.escalate {
		evt.Actions = &event.Actions{Escalate: true}
	}
	ch <- evt
	close(ch)
	return ch, nil
}

func (a *fakeAgent) Tools() []tool.Tool              { return nil }
func (a *fakeAgent) Info() agent.Info                { return agent.Info{Name: a.name} }
func (a *fakeAgent) SubAgents() []agent.Agent        { return nil }
func (a *fakeAgent) FindSubAgent(string) agent.Agent { return nil }

func collect(t *testing.T, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	for evt := range ch {
		events = append(events, evt)
	}
	return events
}

func TestChainRunsSubAgentsInOrder(t *testing.T) {
	first := &fakeAgent{name: "first"}
	second := &fakeAgent{name: "second"}
	chain := New("pipeline", WithSubAgents([]agent.Agent{first, second}))

	invocation := &agent.Invocation{InvocationID: "inv-1"}
	ch, err := chain.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, "from first", events[0].Choices[0].Message.Content)
	assert.Equal(t, "from second", events[1].Choices[0].Message.Content)

	// Sequential sub-agents share the chain's branch so each one sees the
	// previous outputs.
	assert.Equal(t, "pipeline", first.gotBranch)
	assert.Equal(t, "pipeline", second.gotBranch)
}

func TestChainStopsOnEndInvocation(t *testing.T) {
	first := &fakeAgent{name: "first", endInvocation: true}
	second := &fakeAgent{name: "second"}
	chain := New("pipeline", WithSubAgents([]agent.Agent{first, second}))

	invocation := &agent.Invocation{InvocationID: "inv-1"}
	ch, err := chain.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "from first", events[0].Choices[0].Message.Content)
	assert.True(t, invocation.EndInvocation)
	assert.Empty(t, second.gotBranch)
}

func TestChainStopsOnEscalation(t *testing.T) {
	first := &fakeAgent{name: "first", escalate: true}
	second := &fakeAgent{name: "second"}
	chain := New("pipeline", WithSubAgents([]agent.Agent{first, second}))

	invocation := &agent.Invocation{InvocationID: "inv-1"}
	ch, err := chain.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Actions)
	assert.True(t, events[0].Actions.Escalate)
	assert.True(t, invocation.EndInvocation)
	assert.Empty(t, second.gotBranch)
}

func TestChainEmitsErrorEventOnSubAgentFailure(t *testing.T) {
	first := &fakeAgent{name: "first", runErr: errors.New("broken")}
	second := &fakeAgent{name: "second"}
	chain := New("pipeline", WithSubAgents([]agent.Agent{first, second}))

	ch, err := chain.Run(context.Background(), &agent.Invocation{InvocationID: "inv-1"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, model.ErrorTypeFlowError, events[0].Error.Type)
	assert.Empty(t, second.gotBranch)
}

func TestChainBeforeAgentCallbackShortCircuits(t *testing.T) {
	sub := &fakeAgent{name: "sub"}
	callbacks := agent.NewCallbacks()
	callbacks.RegisterBeforeAgent(func(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
		return &model.Response{
			Done: true,
			Choices: []model.Choice{{
				Message: model.Message{Role: model.RoleAssistant, Content: "canned"},
			}},
		}, nil
	})
	chain := New("pipeline",
		WithSubAgents([]agent.Agent{sub}),
		WithAgentCallbacks(callbacks),
	)

	ch, err := chain.Run(context.Background(), &agent.Invocation{InvocationID: "inv-1"})
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "canned", events[0].Choices[0].Message.Content)
	assert.Empty(t, sub.gotBranch)
}

func TestChainSetsParentOnSubAgents(t *testing.T) {
	inner := New("inner")
	outer := New("outer", WithSubAgents([]agent.Agent{inner}))

	assert.Equal(t, agent.Agent(outer), inner.Parent())
	assert.Equal(t, agent.Agent(inner), outer.FindSubAgent("inner"))
	assert.Nil(t, outer.FindSubAgent("missing"))
}
