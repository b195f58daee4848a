package processor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

type fakeCallable struct {
	name        string
	result      any
	err         error
	longRunning bool
	calls       int32
}

func (f *fakeCallable) Declaration() *tool.Declaration {
	return &tool.Declaration{Name: f.name}
}

func (f *fakeCallable) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.result, f.err
}

func (f *fakeCallable) LongRunning() bool { return f.longRunning }

func toolCallResponse(calls ...model.ToolCall) *model.Response {
	return &model.Response{
		ID: "rsp-1",
		Choices: []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, ToolCalls: calls},
		}},
	}
}

func runFunctionCalls(t *testing.T, p *FunctionCallResponseProcessor, rsp *model.Response) []*event.Event {
	t.Helper()
	invocation := &agent.Invocation{InvocationID: "inv-1", AgentName: "worker"}
	ch := make(chan *event.Event, 16)
	p.ProcessResponse(context.Background(), invocation, rsp, ch)
	close(ch)
	var events []*event.Event
	for evt := range ch {
		events = append(events, evt)
	}
	return events
}

func TestFunctionCallMergesResults(t *testing.T) {
	clock := &fakeCallable{name: "clock", result: map[string]any{"time": "noon"}}
	dice := &fakeCallable{name: "dice", result: 4}
	p := NewFunctionCallResponseProcessor(map[string]tool.Tool{
		"clock": clock,
		"dice":  dice,
	}, false)

	events := runFunctionCalls(t, p, toolCallResponse(
		model.ToolCall{ID: "call-1", Function: model.FunctionCall{Name: "clock", Arguments: []byte(`{}`)}},
		model.ToolCall{ID: "call-2", Function: model.FunctionCall{Name: "dice", Arguments: []byte(`{}`)}},
	))

	require.Len(t, events, 1)
	merged := events[0]
	assert.Equal(t, model.ObjectTypeToolResponse, merged.Object)
	assert.Equal(t, "rsp-1", merged.Response.ID)
	require.Len(t, merged.Choices, 2)

	assert.Equal(t, "call-1", merged.Choices[0].Message.ToolID)
	assert.Equal(t, model.RoleTool, merged.Choices[0].Message.Role)
	assert.Equal(t, `{"time":"noon"}`, merged.Choices[0].Message.Content)
	assert.Equal(t, "clock", merged.Choices[0].Message.ToolName)

	assert.Equal(t, "call-2", merged.Choices[1].Message.ToolID)
	assert.Equal(t, "4", merged.Choices[1].Message.Content)

	assert.Equal(t, int32(1), atomic.LoadInt32(&clock.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&dice.calls))
}

func TestFunctionCallUnknownTool(t *testing.T) {
	p := NewFunctionCallResponseProcessor(map[string]tool.Tool{}, false)

	events := runFunctionCalls(t, p, toolCallResponse(
		model.ToolCall{ID: "call-1", Function: model.FunctionCall{Name: "ghost"}},
	))

	require.Len(t, events, 1)
	require.Len(t, events[0].Choices, 1)
	assert.Equal(t, ErrorToolNotFound, events[0].Choices[0].Message.Content)
	assert.Equal(t, "call-1", events[0].Choices[0].Message.ToolID)
}

func TestFunctionCallToolErrorBecomesResult(t *testing.T) {
	broken := &fakeCallable{name: "broken", err: errors.New("disk full")}
	p := NewFunctionCallResponseProcessor(map[string]tool.Tool{"broken": broken}, false)

	events := runFunctionCalls(t, p, toolCallResponse(
		model.ToolCall{ID: "call-1", Function: model.FunctionCall{Name: "broken", Arguments: []byte(`{}`)}},
	))

	require.Len(t, events, 1)
	require.Nil(t, events[0].Error)
	content := events[0].Choices[0].Message.Content
	assert.Contains(t, content, ErrorCallableToolExecution)
	assert.Contains(t, content, "disk full")
}

func TestFunctionCallLongRunningDefersResult(t *testing.T) {
	pending := &fakeCallable{name: "pending", longRunning: true}
	p := NewFunctionCallResponseProcessor(map[string]tool.Tool{"pending": pending}, false)

	events := runFunctionCalls(t, p, toolCallResponse(
		model.ToolCall{ID: "call-1", Function: model.FunctionCall{Name: "pending", Arguments: []byte(`{}`)}},
	))

	// A placeholder tool message is still produced so the next model
	// call sees a response for the call id.
	require.Len(t, events, 1)
	require.Len(t, events[0].Choices, 1)
	assert.Equal(t, "call-1", events[0].Choices[0].Message.ToolID)
	assert.Empty(t, events[0].Choices[0].Message.Content)
	assert.Equal(t, int32(1), atomic.LoadInt32(&pending.calls))
}

func TestFunctionCallParallelKeepsOrder(t *testing.T) {
	first := &fakeCallable{name: "first", result: "a"}
	second := &fakeCallable{name: "second", result: "b"}
	third := &fakeCallable{name: "third", result: "c"}
	p := NewFunctionCallResponseProcessor(map[string]tool.Tool{
		"first":  first,
		"second": second,
		"third":  third,
	}, true)

	events := runFunctionCalls(t, p, toolCallResponse(
		model.ToolCall{ID: "call-1", Function: model.FunctionCall{Name: "first", Arguments: []byte(`{}`)}},
		model.ToolCall{ID: "call-2", Function: model.FunctionCall{Name: "second", Arguments: []byte(`{}`)}},
		model.ToolCall{ID: "call-3", Function: model.FunctionCall{Name: "third", Arguments: []byte(`{}`)}},
	))

	require.Len(t, events, 1)
	require.Len(t, events[0].Choices, 3)
	assert.Equal(t, `"a"`, events[0].Choices[0].Message.Content)
	assert.Equal(t, `"b"`, events[0].Choices[1].Message.Content)
	assert.Equal(t, `"c"`, events[0].Choices[2].Message.Content)
}

func TestFunctionCallIgnoresPartialAndPlainResponses(t *testing.T) {
	clock := &fakeCallable{name: "clock", result: "tick"}
	p := NewFunctionCallResponseProcessor(map[string]tool.Tool{"clock": clock}, false)

	partial := toolCallResponse(
		model.ToolCall{ID: "call-1", Function: model.FunctionCall{Name: "clock"}},
	)
	partial.IsPartial = true
	assert.Empty(t, runFunctionCalls(t, p, partial))

	plain := &model.Response{Choices: []model.Choice{{
		Message: model.Message{Role: model.RoleAssistant, Content: "no tools"},
	}}}
	assert.Empty(t, runFunctionCalls(t, p, plain))
	assert.Zero(t, atomic.LoadInt32(&clock.calls))
}
