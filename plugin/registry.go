package plugin

import (
	"context"
	"fmt"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

// Registry is an ordered list of uniquely named interceptors. Dispatch
// order is registration order.
type Registry struct {
	plugins []Interceptor
	names   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names: make(map[string]struct{}),
	}
}

// Register appends a plugin. Registering a second plugin with the same
// name fails.
func (r *Registry) Register(p Interceptor) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.names[name] = struct{}{}
	r.plugins = append(r.plugins, p)
	return nil
}

// Plugins returns the registered plugins in registration order.
func (r *Registry) Plugins() []Interceptor {
	return r.plugins
}

// RunOnUserMessage consults the plugins in order and returns the first
// replacement message.
func (r *Registry) RunOnUserMessage(ctx context.Context, invocation *agent.Invocation, message model.Message) (*model.Message, error) {
	for _, p := range r.plugins {
		replaced, err := p.OnUserMessage(ctx, invocation, message)
		if err != nil {
			log.Errorf("plugin %s: on user message: %v", p.Name(), err)
			return nil, err
		}
		if replaced != nil {
			return replaced, nil
		}
	}
	return nil, nil
}

// RunBeforeRun consults the plugins in order and returns the first
// short-circuit response.
func (r *Registry) RunBeforeRun(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
	for _, p := range r.plugins {
		rsp, err := p.BeforeRun(ctx, invocation)
		if err != nil {
			log.Errorf("plugin %s: before run: %v", p.Name(), err)
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}
	}
	return nil, nil
}

// RunOnEvent consults the plugins in order and returns the first
// substituted event.
func (r *Registry) RunOnEvent(ctx context.Context, invocation *agent.Invocation, evt *event.Event) (*event.Event, error) {
	for _, p := range r.plugins {
		substituted, err := p.OnEvent(ctx, invocation, evt)
		if err != nil {
			log.Errorf("plugin %s: on event: %v", p.Name(), err)
			return nil, err
		}
		if substituted != nil {
			return substituted, nil
		}
	}
	return nil, nil
}

// RunAfterRun runs every plugin's after-run hook in order. The first
// error aborts the dispatch; the remaining plugins do not run.
func (r *Registry) RunAfterRun(ctx context.Context, invocation *agent.Invocation, runErr error) error {
	for _, p := range r.plugins {
		if err := p.AfterRun(ctx, invocation, runErr); err != nil {
			log.Errorf("plugin %s: after run: %v", p.Name(), err)
			return err
		}
	}
	return nil
}

// AgentCallbacks builds agent callbacks that delegate to the chain, or
// nil when no plugins are registered.
func (r *Registry) AgentCallbacks() *agent.Callbacks {
	if len(r.plugins) == 0 {
		return nil
	}
	callbacks := agent.NewCallbacks()
	callbacks.RegisterBeforeAgent(func(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
		for _, p := range r.plugins {
			rsp, err := p.BeforeAgent(ctx, invocation)
			if err != nil || rsp != nil {
				return rsp, err
			}
		}
		return nil, nil
	})
	callbacks.RegisterAfterAgent(func(ctx context.Context, invocation *agent.Invocation, runErr error) (*model.Response, error) {
		for _, p := range r.plugins {
			rsp, err := p.AfterAgent(ctx, invocation, runErr)
			if err != nil || rsp != nil {
				return rsp, err
			}
		}
		return nil, nil
	})
	return callbacks
}

// ModelCallbacks builds model callbacks that delegate to the chain, or
// nil when no plugins are registered.
func (r *Registry) ModelCallbacks() *model.Callbacks {
	if len(r.plugins) == 0 {
		return nil
	}
	callbacks := model.NewCallbacks()
	callbacks.RegisterBeforeModel(func(ctx context.Context, req *model.Request) (*model.Response, error) {
		for _, p := range r.plugins {
			rsp, err := p.BeforeModel(ctx, req)
			if err != nil || rsp != nil {
				return rsp, err
			}
		}
		return nil, nil
	})
	callbacks.RegisterAfterModel(func(ctx context.Context, rsp *model.Response, modelErr error) (*model.Response, error) {
		for _, p := range r.plugins {
			custom, err := p.AfterModel(ctx, rsp, modelErr)
			if err != nil || custom != nil {
				return custom, err
			}
		}
		return nil, nil
	})
	callbacks.RegisterOnModelError(func(ctx context.Context, req *model.Request, modelErr error) (*model.Response, error) {
		for _, p := range r.plugins {
			rsp, err := p.OnModelError(ctx, req, modelErr)
			if err != nil || rsp != nil {
				return rsp, err
			}
		}
		return nil, nil
	})
	return callbacks
}

// ToolCallbacks builds tool callbacks that delegate to the chain, or
// nil when no plugins are registered.
func (r *Registry) ToolCallbacks() *tool.Callbacks {
	if len(r.plugins) == 0 {
		return nil
	}
	callbacks := tool.NewCallbacks()
	callbacks.RegisterBeforeTool(func(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs *[]byte) (any, error) {
		for _, p := range r.plugins {
			result, err := p.BeforeTool(ctx, toolName, declaration, jsonArgs)
			if err != nil || result != nil {
				return result, err
			}
		}
		return nil, nil
	})
	callbacks.RegisterAfterTool(func(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs []byte, result any, runErr error) (any, error) {
		for _, p := range r.plugins {
			custom, err := p.AfterTool(ctx, toolName, declaration, jsonArgs, result, runErr)
			if err != nil || custom != nil {
				return custom, err
			}
		}
		return nil, nil
	})
	callbacks.RegisterOnToolError(func(ctx context.Context, toolName string, declaration *tool.Declaration, jsonArgs []byte, runErr error) (any, error) {
		for _, p := range r.plugins {
			result, err := p.OnToolError(ctx, toolName, declaration, jsonArgs, runErr)
			if err != nil || result != nil {
				return result, err
			}
		}
		return nil, nil
	})
	return callbacks
}
