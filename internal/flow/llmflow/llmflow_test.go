package llmflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
)

// fixedModel returns the same responses on every call.
type fixedModel struct {
	mu        sync.Mutex
	responses []*model.Response
	err       error
	calls     int
}

func (m *fixedModel) GenerateContent(ctx context.Context, request *model.Request) (<-chan *model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan *model.Response, len(m.responses))
	for _, rsp := range m.responses {
		ch <- rsp
	}
	close(ch)
	return ch, nil
}

func (m *fixedModel) Info() model.Info { return model.Info{Name: "fixed"} }

func (m *fixedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func finalResponse(content string) *model.Response {
	return &model.Response{
		Done: true,
		Choices: []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: content},
		}},
	}
}

// drainWithAck consumes the stream the way the runner does: append
// barriers are acknowledged, everything else is collected.
func drainWithAck(t *testing.T, invocation *agent.Invocation, ch <-chan *event.Event) []*event.Event {
	t.Helper()
	var events []*event.Event
	for evt := range ch {
		if evt.RequiresCompletion {
			require.NoError(t, invocation.NotifyCompletion(agent.AppendNoticeKey(evt.ID)))
			continue
		}
		events = append(events, evt)
	}
	return events
}

func TestFlowEmitsModelResponse(t *testing.T) {
	m := &fixedModel{responses: []*model.Response{finalResponse("done")}}
	invocation := &agent.Invocation{
		InvocationID: "inv-1",
		AgentName:    "assistant",
		Model:        m,
	}

	f := New(nil, nil, Options{})
	ch, err := f.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := drainWithAck(t, invocation, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "done", events[0].Choices[0].Message.Content)
	assert.Equal(t, 1, m.callCount())
}

func TestFlowBeforeModelShortCircuit(t *testing.T) {
	m := &fixedModel{responses: []*model.Response{finalResponse("real")}}
	callbacks := model.NewCallbacks()
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *model.Request) (*model.Response, error) {
		return finalResponse("cached"), nil
	})
	invocation := &agent.Invocation{
		InvocationID:   "inv-1",
		AgentName:      "assistant",
		Model:          m,
		ModelCallbacks: callbacks,
	}

	f := New(nil, nil, Options{})
	ch, err := f.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := drainWithAck(t, invocation, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "cached", events[0].Choices[0].Message.Content)
	assert.Zero(t, m.callCount())
}

func TestFlowRecoversFromModelError(t *testing.T) {
	m := &fixedModel{err: errors.New("backend down")}
	callbacks := model.NewCallbacks()
	callbacks.RegisterOnModelError(func(ctx context.Context, req *model.Request, modelErr error) (*model.Response, error) {
		return finalResponse("fallback"), nil
	})
	invocation := &agent.Invocation{
		InvocationID:   "inv-1",
		AgentName:      "assistant",
		Model:          m,
		ModelCallbacks: callbacks,
	}

	f := New(nil, nil, Options{})
	ch, err := f.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := drainWithAck(t, invocation, ch)
	require.Len(t, events, 1)
	require.Nil(t, events[0].Error)
	assert.Equal(t, "fallback", events[0].Choices[0].Message.Content)
}

func TestFlowEmitsErrorEventWhenModelFails(t *testing.T) {
	m := &fixedModel{err: errors.New("backend down")}
	invocation := &agent.Invocation{
		InvocationID: "inv-1",
		AgentName:    "assistant",
		Model:        m,
	}

	f := New(nil, nil, Options{})
	ch, err := f.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := drainWithAck(t, invocation, ch)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
	assert.Equal(t, model.ErrorTypeFlowError, events[0].Error.Type)
}

func TestFlowFailsWithoutModel(t *testing.T) {
	invocation := &agent.Invocation{
		InvocationID: "inv-1",
		AgentName:    "assistant",
	}

	f := New(nil, nil, Options{})
	ch, err := f.Run(context.Background(), invocation)
	require.NoError(t, err)

	events := drainWithAck(t, invocation, ch)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Error)
}
