package processor

import (
	"context"
	"strings"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
)

// ContentRequestProcessor reconstructs the conversation history from the
// session's event log and appends it to the request.
type ContentRequestProcessor struct{}

// NewContentRequestProcessor creates a content request processor.
func NewContentRequestProcessor() *ContentRequestProcessor {
	return &ContentRequestProcessor{}
}

// ProcessRequest implements flow.RequestProcessor.
func (p *ContentRequestProcessor) ProcessRequest(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
	ch chan<- *event.Event,
) {
	if req == nil {
		log.Errorf("content request processor: request is nil")
		return
	}
	if invocation == nil {
		return
	}

	if invocation.Session != nil {
		for _, evt := range invocation.Session.GetEvents() {
			if !p.includeEvent(invocation, &evt) {
				continue
			}
			req.Messages = append(req.Messages, p.eventMessages(&evt)...)
		}
	}

	// The invocation message is normally already in the log; append it
	// only when it is not the latest entry.
	if invocation.Message.Content != "" && !endsWith(req.Messages, invocation.Message) {
		req.Messages = append(req.Messages, invocation.Message)
	}

	emitProcessorEvent(ctx, invocation, ch, model.ObjectTypePreprocessingContent)
}

// includeEvent filters the log down to content-bearing events visible to
// the invocation's branch.
func (p *ContentRequestProcessor) includeEvent(invocation *agent.Invocation, evt *event.Event) bool {
	if evt.Response == nil || !evt.Response.IsValidContent() {
		return false
	}
	if evt.IsPartial {
		return false
	}
	// An event from a sibling branch is invisible; an ancestor branch
	// (or the unbranched trunk) is shared history.
	if evt.Branch != "" && !strings.HasPrefix(invocation.Branch, evt.Branch) {
		return false
	}
	return true
}

// eventMessages converts one event into chat messages.
func (p *ContentRequestProcessor) eventMessages(evt *event.Event) []model.Message {
	var messages []model.Message
	for _, choice := range evt.Response.Choices {
		msg := choice.Message
		if msg.Role == "" {
			continue
		}
		messages = append(messages, msg)
	}
	return messages
}

func endsWith(messages []model.Message, msg model.Message) bool {
	if len(messages) == 0 {
		return false
	}
	last := messages[len(messages)-1]
	return last.Role == msg.Role && last.Content == msg.Content
}
