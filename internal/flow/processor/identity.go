package processor

import (
	"context"
	"strings"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
)

// IdentityRequestProcessor injects the agent's name and description into
// the request so the model knows who it is speaking as.
type IdentityRequestProcessor struct {
	AgentName   string
	Description string
}

// NewIdentityRequestProcessor creates an identity request processor.
func NewIdentityRequestProcessor(agentName, description string) *IdentityRequestProcessor {
	return &IdentityRequestProcessor{
		AgentName:   agentName,
		Description: description,
	}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *IdentityRequestProcessor) ProcessRequest(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
	ch chan<- *event.Event,
) {
	if req == nil {
		log.Errorf("identity request processor: request is nil")
		return
	}
	if invocation == nil {
		return
	}

	var identity string
	switch {
	case p.AgentName != "" && p.Description != "":
		identity = "You are " + p.AgentName + ". " + p.Description
	case p.AgentName != "":
		identity = "You are " + p.AgentName + "."
	case p.Description != "":
		identity = p.Description
	}

	if identity != "" {
		if idx := findSystemMessageIndex(req.Messages); idx >= 0 {
			if !strings.Contains(req.Messages[idx].Content, identity) {
				req.Messages[idx].Content = identity + "\n\n" + req.Messages[idx].Content
			}
		} else {
			req.Messages = append([]model.Message{model.NewSystemMessage(identity)}, req.Messages...)
		}
	}

	emitProcessorEvent(ctx, invocation, ch, model.ObjectTypePreprocessingIdentity)
}

func findSystemMessageIndex(messages []model.Message) int {
	for i, msg := range messages {
		if msg.Role == model.RoleSystem {
			return i
		}
	}
	return -1
}
