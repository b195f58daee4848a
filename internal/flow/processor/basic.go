// Package processor provides the request and response processors applied
// around every model call.
package processor

import (
	"context"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
)

// BasicRequestProcessor seeds the request with the generation config.
type BasicRequestProcessor struct {
	GenerationConfig model.GenerationConfig
}

// BasicOption configures a BasicRequestProcessor.
type BasicOption func(*BasicRequestProcessor)

// WithGenerationConfig sets the generation configuration.
func WithGenerationConfig(config model.GenerationConfig) BasicOption {
	return func(p *BasicRequestProcessor) {
		p.GenerationConfig = config
	}
}

// NewBasicRequestProcessor creates a basic request processor. Streaming
// is on by default.
func NewBasicRequestProcessor(opts ...BasicOption) *BasicRequestProcessor {
	p := &BasicRequestProcessor{
		GenerationConfig: model.GenerationConfig{
			Stream: true,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *BasicRequestProcessor) ProcessRequest(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
	ch chan<- *event.Event,
) {
	if req == nil || invocation == nil {
		return
	}

	req.GenerationConfig = p.GenerationConfig

	emitProcessorEvent(ctx, invocation, ch, model.ObjectTypePreprocessingBasic)
}

// emitProcessorEvent sends a side-channel preprocessing event.
func emitProcessorEvent(ctx context.Context, invocation *agent.Invocation, ch chan<- *event.Event, object string) {
	evt := event.New(invocation.InvocationID, invocation.AgentName,
		event.WithObject(object),
		event.WithBranch(invocation.Branch),
	)
	select {
	case ch <- evt:
	case <-ctx.Done():
		log.Debugf("processor: context cancelled while emitting %s event", object)
	}
}
