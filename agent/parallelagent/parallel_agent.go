// Package parallelagent provides an agent that runs its sub-agents
// concurrently and merges their event streams.
package parallelagent

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

const defaultChannelBufferSize = 256

// Options contains configuration options for a parallel agent.
type Options struct {
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
}

// Option configures the parallel agent.
type Option func(*Options)

// WithSubAgents sets the sub-agents to run concurrently.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(opts *Options) {
		opts.subAgents = subAgents
	}
}

// WithTools sets the tools available to the parallel agent.
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

// ParallelAgent runs all sub-agents at once. Each sub-agent gets its own
// branch so its events do not leak into the siblings' histories; the
// merged output stream interleaves events in arrival order.
type ParallelAgent struct {
	name              string
	description       string
	subAgents         []agent.Agent
	tools             []tool.Tool
	channelBufferSize int
	agentCallbacks    *agent.Callbacks
	parent            agent.Agent
}

// New creates a parallel agent with the given name and options.
func New(name string, opts ...Option) *ParallelAgent {
	options := Options{
		channelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(&options)
	}

	a := &ParallelAgent{
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

// createBranchInvocationForSubAgent derives a branch invocation whose
// branch path isolates the sub-agent's events from its siblings.
func (a *ParallelAgent) createBranchInvocationForSubAgent(
	subAgent agent.Agent,
	invocation *agent.Invocation,
) *agent.Invocation {
	branchInvocation := invocation.CreateBranchInvocation(subAgent)
	branch := a.name
	if invocation.Branch != "" {
		branch = invocation.Branch + "." + a.name
	}
	branchInvocation.Branch = fmt.Sprintf("%s.%s", branch, subAgent.Info().Name)
	return branchInvocation
}

// Run starts all sub-agents and returns the merged event stream.
func (a *ParallelAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	eventChan := make(chan *event.Event, a.channelBufferSize)

	go func() {
		defer close(eventChan)

		invocation.Agent = a
		invocation.AgentName = a.name
		if invocation.AgentCallbacks == nil && a.agentCallbacks != nil {
			invocation.AgentCallbacks = a.agentCallbacks
		}
		ctx := agent.NewInvocationContext(ctx, invocation)

		if invocation.AgentCallbacks != nil {
			customResponse, err := invocation.AgentCallbacks.RunBeforeAgent(ctx, invocation)
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
				return
			}
		}

		subCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var wg sync.WaitGroup
		eventChans := make([]<-chan *event.Event, len(a.subAgents))

		for i, subAgent := range a.subAgents {
			wg.Add(1)
			go func(idx int, sa agent.Agent) {
				defer wg.Done()

				branchInvocation := a.createBranchInvocationForSubAgent(sa, invocation)
				branchCtx := agent.NewInvocationContext(subCtx, branchInvocation)

				subEventChan, err := sa.Run(branchCtx, branchInvocation)
				if err != nil {
					sendEvent(subCtx, eventChan, event.NewErrorEvent(
						invocation.InvocationID,
						invocation.AgentName,
						model.ErrorTypeFlowError,
						err.Error(),
					))
					return
				}
				eventChans[idx] = subEventChan
			}(i, subAgent)
		}

		// Wait until every sub-agent has started before merging.
		wg.Wait()

		a.mergeEventStreams(subCtx, eventChans, eventChan)

		if invocation.AgentCallbacks != nil {
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
	}()

	return eventChan, nil
}

// mergeEventStreams funnels events from every sub-agent channel into the
// output channel. Events of a single sub-agent keep their order; events
// of different sub-agents interleave in arrival order.
func (a *ParallelAgent) mergeEventStreams(
	ctx context.Context,
	eventChans []<-chan *event.Event,
	outputChan chan<- *event.Event,
) {
	var wg sync.WaitGroup
	for _, ch := range eventChans {
		if ch == nil {
			continue
		}
		wg.Add(1)
		go func(inputChan <-chan *event.Event) {
			defer wg.Done()
			for {
				select {
				case evt, ok := <-inputChan:
					if !ok {
						return
					}
					if !sendEvent(ctx, outputChan, evt) {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	wg.Wait()
}

func sendEvent(ctx context.Context, ch chan<- *event.Event, evt *event.Event) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Tools returns the tools available to the parallel agent.
func (a *ParallelAgent) Tools() []tool.Tool {
	return a.tools
}

// Info returns the agent's name and description.
func (a *ParallelAgent) Info() agent.Info {
	return agent.Info{
		Name:        a.name,
		Description: a.description,
	}
}

// SubAgents returns the concurrently running sub-agents.
func (a *ParallelAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent returns the direct sub-agent with the given name.
func (a *ParallelAgent) FindSubAgent(name string) agent.Agent {
	for _, sub := range a.subAgents {
		if sub.Info().Name == name {
			return sub
		}
	}
	return nil
}

// Parent returns the parent agent, if any.
func (a *ParallelAgent) Parent() agent.Agent {
	return a.parent
}

// SetParent records the parent agent.
func (a *ParallelAgent) SetParent(parent agent.Agent) {
	a.parent = parent
}
