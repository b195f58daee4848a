package processor

import (
	"context"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
)

// TransferResponseProcessor carries out a hand-off requested during the
// model call: it announces the transfer, runs the target agent, and
// forwards the target's events.
type TransferResponseProcessor struct{}

// NewTransferResponseProcessor creates a transfer response processor.
func NewTransferResponseProcessor() *TransferResponseProcessor {
	return &TransferResponseProcessor{}
}

// ProcessResponse implements flow.ResponseProcessor.
func (p *TransferResponseProcessor) ProcessResponse(
	ctx context.Context,
	invocation *agent.Invocation,
	rsp *model.Response,
	ch chan<- *event.Event,
) {
	if rsp == nil {
		log.Errorf("transfer response processor: response is nil")
		return
	}
	if invocation == nil || invocation.TransferInfo == nil {
		return
	}

	transferInfo := invocation.TransferInfo
	targetName := transferInfo.TargetAgentName

	var target agent.Agent
	if invocation.Agent != nil {
		target = invocation.Agent.FindSubAgent(targetName)
	}
	if target == nil {
		log.Errorf("transfer target agent %q not found in sub-agents", targetName)
		sendEvent(ctx, ch, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			model.ErrorTypeFlowError,
			"transfer failed: target agent '"+targetName+"' not found",
		))
		return
	}

	transferEvent := event.New(invocation.InvocationID, invocation.AgentName,
		event.WithBranch(invocation.Branch),
		event.WithObject(model.ObjectTypeTransfer),
	)
	transferEvent.Response.Choices = []model.Choice{
		{
			Message: model.Message{
				Role:    model.RoleAssistant,
				Content: "Transferring control to agent: " + target.Info().Name,
			},
		},
	}
	transferEvent.Actions = &event.Actions{TransferToAgent: target.Info().Name}
	if !sendEvent(ctx, ch, transferEvent) {
		return
	}

	targetInvocation := invocation.CreateBranchInvocation(target)
	targetInvocation.EndInvocation = transferInfo.EndInvocation
	if transferInfo.Message != "" {
		targetInvocation.Message = model.NewUserMessage(transferInfo.Message)
	}

	targetEvents, err := target.Run(ctx, targetInvocation)
	if err != nil {
		log.Errorf("transfer: run target agent %q: %v", target.Info().Name, err)
		sendEvent(ctx, ch, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			model.ErrorTypeFlowError,
			"transfer failed: "+err.Error(),
		))
		return
	}
	for targetEvent := range targetEvents {
		if !sendEvent(ctx, ch, targetEvent) {
			return
		}
	}

	// The hand-off is complete; the original agent's turn is over.
	invocation.TransferInfo = nil
	invocation.Agent = target
	invocation.AgentName = target.Info().Name
	invocation.EndInvocation = true
}

func sendEvent(ctx context.Context, ch chan<- *event.Event, evt *event.Event) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}
