package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
)

// countingPlugin records how often each hook ran and can answer with a
// fixed response.
type countingPlugin struct {
	Base
	name string

	beforeRunCalls   int
	beforeAgentCalls int
	afterRunCalls    int
	onEventCalls     int

	beforeRunResponse   *model.Response
	beforeAgentResponse *model.Response
	afterRunErr         error
	onEventSubstitute   *event.Event
}

func (p *countingPlugin) Name() string { return p.name }

func (p *countingPlugin) BeforeRun(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
	p.beforeRunCalls++
	return p.beforeRunResponse, nil
}

func (p *countingPlugin) BeforeAgent(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
	p.beforeAgentCalls++
	return p.beforeAgentResponse, nil
}

func (p *countingPlugin) AfterRun(ctx context.Context, invocation *agent.Invocation, runErr error) error {
	p.afterRunCalls++
	return p.afterRunErr
}

func (p *countingPlugin) OnEvent(ctx context.Context, invocation *agent.Invocation, evt *event.Event) (*event.Event, error) {
	p.onEventCalls++
	return p.onEventSubstitute, nil
}

func textResponse(content string) *model.Response {
	return &model.Response{
		Done: true,
		Choices: []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: content},
		}},
	}
}

func TestRegisterRejectsDuplicateNames(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(&countingPlugin{name: "p1"}))
	require.NoError(t, registry.Register(&countingPlugin{name: "p2"}))

	err := registry.Register(&countingPlugin{name: "p1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	registry := NewRegistry()
	assert.Error(t, registry.Register(&countingPlugin{name: ""}))
}

func TestBeforeRunFirstValueWins(t *testing.T) {
	registry := NewRegistry()
	p1 := &countingPlugin{name: "p1", beforeRunResponse: textResponse("from-p1")}
	p2 := &countingPlugin{name: "p2", beforeRunResponse: textResponse("from-p2")}
	require.NoError(t, registry.Register(p1))
	require.NoError(t, registry.Register(p2))

	rsp, err := registry.RunBeforeRun(context.Background(), &agent.Invocation{})
	require.NoError(t, err)
	require.NotNil(t, rsp)
	assert.Equal(t, "from-p1", rsp.Choices[0].Message.Content)

	// p2 must never be consulted once p1 answered.
	assert.Equal(t, 1, p1.beforeRunCalls)
	assert.Equal(t, 0, p2.beforeRunCalls)
}

func TestBeforeAgentOrderedFallthrough(t *testing.T) {
	registry := NewRegistry()
	p1 := &countingPlugin{name: "p1"} // no opinion
	p2 := &countingPlugin{name: "p2", beforeAgentResponse: textResponse("X")}
	require.NoError(t, registry.Register(p1))
	require.NoError(t, registry.Register(p2))

	callbacks := registry.AgentCallbacks()
	require.NotNil(t, callbacks)

	rsp, err := callbacks.RunBeforeAgent(context.Background(), &agent.Invocation{})
	require.NoError(t, err)
	require.NotNil(t, rsp)
	assert.Equal(t, "X", rsp.Choices[0].Message.Content)
	assert.Equal(t, 1, p1.beforeAgentCalls)
	assert.Equal(t, 1, p2.beforeAgentCalls)
}

func TestAfterRunRunsAllUntilFirstError(t *testing.T) {
	registry := NewRegistry()
	p1 := &countingPlugin{name: "p1"}
	p2 := &countingPlugin{name: "p2", afterRunErr: errors.New("boom")}
	p3 := &countingPlugin{name: "p3"}
	require.NoError(t, registry.Register(p1))
	require.NoError(t, registry.Register(p2))
	require.NoError(t, registry.Register(p3))

	err := registry.RunAfterRun(context.Background(), &agent.Invocation{}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, p1.afterRunCalls)
	assert.Equal(t, 1, p2.afterRunCalls)
	assert.Equal(t, 0, p3.afterRunCalls)
}

func TestOnEventSubstitution(t *testing.T) {
	registry := NewRegistry()
	substitute := event.New("inv-1", "redactor")
	p1 := &countingPlugin{name: "p1", onEventSubstitute: substitute}
	p2 := &countingPlugin{name: "p2"}
	require.NoError(t, registry.Register(p1))
	require.NoError(t, registry.Register(p2))

	original := event.New("inv-1", "assistant")
	got, err := registry.RunOnEvent(context.Background(), &agent.Invocation{}, original)
	require.NoError(t, err)
	assert.Same(t, substitute, got)
	assert.Equal(t, 0, p2.onEventCalls)
}

func TestBridgesNilWhenEmpty(t *testing.T) {
	registry := NewRegistry()
	assert.Nil(t, registry.AgentCallbacks())
	assert.Nil(t, registry.ModelCallbacks())
	assert.Nil(t, registry.ToolCallbacks())
}
