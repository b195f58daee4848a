// Package flow provides the core flow interfaces.
package flow

import (
	"context"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
)

// Flow executes one invocation and yields events as they occur.
type Flow interface {
	// Run returns the event channel and any setup error. The channel is
	// closed when the flow completes.
	Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error)
}

// RequestProcessor transforms the outgoing model request. Processors may
// emit side-channel events on ch without touching the request payload.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, invocation *agent.Invocation, req *model.Request, ch chan<- *event.Event)
}

// ResponseProcessor transforms the model response after it is received.
type ResponseProcessor interface {
	ProcessResponse(ctx context.Context, invocation *agent.Invocation, rsp *model.Response, ch chan<- *event.Event)
}
