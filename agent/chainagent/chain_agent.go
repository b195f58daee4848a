// Package chainagent provides an agent that runs its sub-agents one
// after another, forwarding every event in order.
package chainagent

import (
	"context"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

const defaultChannelBufferSize = 256

// Options contains configuration options for a chain agent.
type Options struct {
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// Option configures the chain agent.
type Option func(*Options)

// WithSubAgents sets the sub-agents to run in order.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(opts *Options) {
		opts.subAgents = subAgents
	}
}

// WithTools sets the tools available to the chain agent.
func WithTools(tools []tool.Tool) Option {
	return func(opts *Options) {
		opts.tools = tools
	}
}

// WithChannelBufferSize sets the buffer size of the event channel.
func WithChannelBufferSize(size int) Option {
	return func(opts *Options) {
		opts.channelBufferSize = size
	}
}

// WithAgentCallbacks sets the agent callbacks.
func WithAgentCallbacks(callbacks *agent.Callbacks) Option {
	return func(opts *Options) {
		opts.agentCallbacks = callbacks
	}
}

// ChainAgent runs its sub-agents sequentially. Each sub-agent sees the
// events the previous ones appended to the session.
type ChainAgent struct {
	name              string
	description       string
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
	parent            agent.Agent
}

// New creates a chain agent with the given name and options.
func New(name string, opts ...Option) *ChainAgent {
	options := Options{
		channelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(&options)
	}

	a := &ChainAgent{
		name:              name,
		subAgents:         options.subAgents,
		tools:             options.tools,
		channelBufferSize: options.channelBufferSize,
		agentCallbacks:    options.agentCallbacks,
	}
	for _, sub := range a.subAgents {
		if holder, ok := sub.(agent.ParentHolder); ok {
			holder.SetParent(a)
		}
	}
	return a
}

// Run executes the sub-agents in order, forwarding their events.
func (a *ChainAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	eventChan := make(chan *event.Event, a.channelBufferSize)
	go a.run(ctx, invocation, eventChan)
	return eventChan, nil
}

func (a *ChainAgent) run(ctx context.Context, invocation *agent.Invocation, eventChan chan<- *event.Event) {
	defer close(eventChan)

	a.setupInvocation(invocation)
	ctx = agent.NewInvocationContext(ctx, invocation)

	if a.handleBeforeAgentCallbacks(ctx, invocation, eventChan) {
		return
	}
	a.executeSubAgents(ctx, invocation, eventChan)
	a.handleAfterAgentCallbacks(ctx, invocation, eventChan)
}

func (a *ChainAgent) setupInvocation(invocation *agent.Invocation) {
	invocation.Agent = a
	invocation.AgentName = a.name
	if invocation.AgentCallbacks == nil && a.agentCallbacks != nil {
		invocation.AgentCallbacks = a.agentCallbacks
	}
}

// createSubAgentInvocation derives the invocation handed to a sub-agent.
// The branch stays the chain agent's name so the sub-agents can observe
// each other's events.
func (a *ChainAgent) createSubAgentInvocation(subAgent agent.Agent, invocation *agent.Invocation) *agent.Invocation {
	subInvocation := invocation.CreateBranchInvocation(subAgent)
	if subInvocation.Branch == "" {
		subInvocation.Branch = a.name
	}
	return subInvocation
}

func (a *ChainAgent) handleBeforeAgentCallbacks(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) bool {
	if invocation.AgentCallbacks == nil {
		return false
	}

	customResponse, err := invocation.AgentCallbacks.RunBeforeAgent(ctx, invocation)
	if err != nil {
		sendEvent(ctx, eventChan, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			agent.ErrorTypeAgentCallbackError,
			err.Error(),
		))
		return true
	}
	if customResponse != nil {
		sendEvent(ctx, eventChan, event.NewResponseEvent(
			invocation.InvocationID,
			invocation.AgentName,
			customResponse,
		))
		return true
	}
	return false
}

func (a *ChainAgent) executeSubAgents(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) {
	for _, subAgent := range a.subAgents {
		subInvocation := a.createSubAgentInvocation(subAgent, invocation)
		subCtx := agent.NewInvocationContext(ctx, subInvocation)

		subEventChan, err := subAgent.Run(subCtx, subInvocation)
		if err != nil {
			sendEvent(ctx, eventChan, event.NewErrorEvent(
				invocation.InvocationID,
				invocation.AgentName,
				model.ErrorTypeFlowError,
				err.Error(),
			))
			return
		}

		escalated := false
		for subEvent := range subEventChan {
			if !sendEvent(ctx, eventChan, subEvent) {
				return
			}
			if subEvent.Actions != nil && subEvent.Actions.Escalate {
				escalated = true
			}
		}

		// An escalating sub-agent hands control back up: the rest of the
		// chain is skipped and the invocation ends.
		if escalated || subInvocation.EndInvocation {
			invocation.EndInvocation = true
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (a *ChainAgent) handleAfterAgentCallbacks(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) {
	if invocation.AgentCallbacks == nil {
		return
	}

	customResponse, err := invocation.AgentCallbacks.RunAfterAgent(ctx, invocation, nil)
	if err != nil {
		sendEvent(ctx, eventChan, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			agent.ErrorTypeAgentCallbackError,
			err.Error(),
		))
		return
	}
	if customResponse != nil {
		sendEvent(ctx, eventChan, event.NewResponseEvent(
			invocation.InvocationID,
			invocation.AgentName,
			customResponse,
		))
	}
}

func sendEvent(ctx context.Context, ch chan<- *event.Event, evt *event.Event) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Tools returns the tools available to the chain agent.
func (a *ChainAgent) Tools() []tool.Tool {
	return a.tools
}

// Info returns the agent's name and description.
func (a *ChainAgent) Info() agent.Info {
	return agent.Info{
		Name:        a.name,
		Description: a.description,
	}
}

// SubAgents returns the sub-agents in execution order.
func (a *ChainAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent returns the direct sub-agent with the given name.
func (a *ChainAgent) FindSubAgent(name string) agent.Agent {
	for _, sub := range a.subAgents {
		if sub.Info().Name == name {
			return sub
		}
	}
	return nil
}

// Parent returns the parent agent, if any.
func (a *ChainAgent) Parent() agent.Agent {
	return a.parent
}

// SetParent records the parent agent.
func (a *ChainAgent) SetParent(parent agent.Agent) {
	a.parent = parent
}
