// Package plugin provides the ordered interceptor chain applied at fixed
// points of the invocation lifecycle.
package plugin

import (
	"context"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

// Interceptor is a named plugin hooked into the invocation lifecycle.
//
// Hooks run in registration order. For every hook except AfterRun the
// first non-nil return value wins and the remaining plugins are skipped;
// a nil value means "no opinion" and the next plugin is consulted. An
// error from any hook aborts the dispatch and the invocation. AfterRun
// is side-effect only: every plugin runs, in order, until the first
// error.
//
// Embed Base to implement only the hooks a plugin cares about.
type Interceptor interface {
	// Name identifies the plugin. Names are unique within a registry.
	Name() string

	// OnUserMessage may replace the incoming user message before it is
	// appended to the session.
	OnUserMessage(ctx context.Context, invocation *agent.Invocation, message model.Message) (*model.Message, error)

	// BeforeRun may short-circuit the whole run. A non-nil response is
	// emitted as a single synthetic event and the agent never executes.
	BeforeRun(ctx context.Context, invocation *agent.Invocation) (*model.Response, error)

	// OnEvent may substitute an event before it is forwarded to the
	// caller. The event has already been appended to the session.
	OnEvent(ctx context.Context, invocation *agent.Invocation, evt *event.Event) (*event.Event, error)

	// AfterRun runs after the event stream completes, normally or with an
	// error.
	AfterRun(ctx context.Context, invocation *agent.Invocation, runErr error) error

	// BeforeAgent may bypass agent execution with a canned response.
	BeforeAgent(ctx context.Context, invocation *agent.Invocation) (*model.Response, error)

	// AfterAgent may replace the agent's final response.
	AfterAgent(ctx context.Context, invocation *agent.Invocation, runErr error) (*model.Response, error)

	// BeforeModel may bypass the model call with a canned response.
	BeforeModel(ctx context.Context, req *model.Request) (*model.Response, error)

	// AfterModel may replace the model's response.
	AfterModel(ctx context.Context, rsp *model.Response, modelErr error) (*model.Response, error)

	// OnModelError may recover a failed model call with a substitute
	// response.
	OnModelError(ctx context.Context, req *model.Request, modelErr error) (*model.Response, error)

	// BeforeTool may bypass tool execution with a canned result. The
	// callback may rewrite jsonArgs in place.
	BeforeTool(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs *[]byte) (any, error)

	// AfterTool may replace the tool's result.
	AfterTool(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs []byte, result any, runErr error) (any, error)

	// OnToolError may recover a failed tool call with a substitute result.
	OnToolError(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs []byte, runErr error) (any, error)
}

// Base is a no-opinion Interceptor. Embed it and override the hooks the
// plugin implements.
type Base struct{}

// OnUserMessage implements Interceptor.
func (Base) OnUserMessage(ctx context.Context, invocation *agent.Invocation, message model.Message) (*model.Message, error) {
	return nil, nil
}

// BeforeRun implements Interceptor.
func (Base) BeforeRun(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
	return nil, nil
}

// OnEvent implements Interceptor.
func (Base) OnEvent(ctx context.Context, invocation *agent.Invocation, evt *event.Event) (*event.Event, error) {
	return nil, nil
}

// AfterRun implements Interceptor.
func (Base) AfterRun(ctx context.Context, invocation *agent.Invocation, runErr error) error {
	return nil
}

// BeforeAgent implements Interceptor.
func (Base) BeforeAgent(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
	return nil, nil
}

// AfterAgent implements Interceptor.
func (Base) AfterAgent(ctx context.Context, invocation *agent.Invocation, runErr error) (*model.Response, error) {
	return nil, nil
}

// BeforeModel implements Interceptor.
func (Base) BeforeModel(ctx context.Context, req *model.Request) (*model.Response, error) {
	return nil, nil
}

// AfterModel implements Interceptor.
func (Base) AfterModel(ctx context.Context, rsp *model.Response, modelErr error) (*model.Response, error) {
	return nil, nil
}

// OnModelError implements Interceptor.
func (Base) OnModelError(ctx context.Context, req *model.Request, modelErr error) (*model.Response, error) {
	return nil, nil
}

// BeforeTool implements Interceptor.
func (Base) BeforeTool(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs *[]byte) (any, error) {
	return nil, nil
}

// AfterTool implements Interceptor.
func (Base) AfterTool(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs []byte, result any, runErr error) (any, error) {
	return nil, nil
}

// OnToolError implements Interceptor.
func (Base) OnToolError(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs []byte, runErr error) (any, error) {
	return nil, nil
}
