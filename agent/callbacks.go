package agent

import (
	"context"

	"github.com/tomekpanek/agentkit/model"
)

// ErrorTypeAgentCallbackError marks errors raised by agent callbacks.
const ErrorTypeAgentCallbackError = "agent_callback_error"

// BeforeAgentCallback runs before the agent executes. A non-nil response
// is returned to the caller instead of running the agent.
type BeforeAgentCallback func(ctx context.Context, invocation *Invocation) (*model.Response, error)

// AfterAgentCallback runs after the agent executes. A non-nil response
// replaces the agent's final response.
type AfterAgentCallback func(ctx context.Context, invocation *Invocation, runErr error) (*model.Response, error)

// Callbacks holds agent lifecycle callbacks. Callbacks run in
// registration order; the first non-nil response wins and the rest are
// skipped; an error aborts the dispatch immediately.
type Callbacks struct {
	BeforeAgent []BeforeAgentCallback
	AfterAgent  []AfterAgentCallback
}

// NewCallbacks creates an empty Callbacks.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeAgent appends a before-agent callback.
func (c *Callbacks) RegisterBeforeAgent(cb BeforeAgentCallback) *Callbacks {
	c.BeforeAgent = append(c.BeforeAgent, cb)
	return c
}

// RegisterAfterAgent appends an after-agent callback.
func (c *Callbacks) RegisterAfterAgent(cb AfterAgentCallback) *Callbacks {
	c.AfterAgent = append(c.AfterAgent, cb)
	return c
}

// RunBeforeAgent runs the before-agent callbacks in order and returns
// the first non-nil response.
func (c *Callbacks) RunBeforeAgent(ctx context.Context, invocation *Invocation) (*model.Response, error) {
	for _, cb := range c.BeforeAgent {
		rsp, err := cb(ctx, invocation)
		if err != nil {
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}
	}
	return nil, nil
}

// RunAfterAgent runs the after-agent callbacks in order and returns the
// first non-nil response.
func (c *Callbacks) RunAfterAgent(ctx context.Context, invocation *Invocation, runErr error) (*model.Response, error) {
	for _, cb := range c.AfterAgent {
		rsp, err := cb(ctx, invocation, runErr)
		if err != nil {
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}
	}
	return nil, nil
}
