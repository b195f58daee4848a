package processor

import (
	"context"
	"encoding/json"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
)

// OutputResponseProcessor stores the agent's final text under a session
// state key so later turns and other agents can reference it.
type OutputResponseProcessor struct {
	outputKey string
}

// NewOutputResponseProcessor creates an output response processor.
func NewOutputResponseProcessor(outputKey string) *OutputResponseProcessor {
	return &OutputResponseProcessor{outputKey: outputKey}
}

// ProcessResponse implements flow.ResponseProcessor.
func (p *OutputResponseProcessor) ProcessResponse(
	ctx context.Context,
	invocation *agent.Invocation,
	rsp *model.Response,
	ch chan<- *event.Event,
) {
	if p.outputKey == "" || rsp == nil || rsp.IsPartial || invocation == nil {
		return
	}
	if len(rsp.Choices) == 0 {
		return
	}
	content := rsp.Choices[0].Message.Content
	if content == "" || !rsp.IsFinalResponse() {
		return
	}

	value, err := json.Marshal(content)
	if err != nil {
		log.Errorf("output response processor: marshal content: %v", err)
		return
	}

	evt := event.New(invocation.InvocationID, invocation.AgentName,
		event.WithBranch(invocation.Branch),
		event.WithStateDelta(map[string][]byte{p.outputKey: value}),
	)
	select {
	case ch <- evt:
	case <-ctx.Done():
	}
}
