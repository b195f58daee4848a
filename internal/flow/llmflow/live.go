package llmflow

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

// ErrLiveNotSupported is returned when the invocation's model does not
// implement the live connection contract.
var ErrLiveNotSupported = errors.New("model does not support live connections")

// RunLive runs the flow in persistent duplex mode. Inbound requests are
// read from the invocation's live request queue; closing the queue ends
// input without erroring the output stream.
func (f *Flow) RunLive(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	liveModel, ok := invocation.Model.(model.LiveModel)
	if !ok {
		return nil, ErrLiveNotSupported
	}
	if invocation.LiveRequestQueue == nil {
		return nil, errors.New("live run requires a request queue")
	}

	req := &model.Request{Tools: make(map[string]tool.Tool)}
	eventChan := make(chan *event.Event, f.channelBufferSize)

	go func() {
		defer close(eventChan)

		f.preprocess(ctx, invocation, req, eventChan)
		if invocation.EndInvocation {
			return
		}

		conn, err := liveModel.Connect(ctx, req)
		if err != nil {
			sendEvent(ctx, eventChan, event.NewErrorEvent(
				invocation.InvocationID,
				invocation.AgentName,
				model.ErrorTypeAPIError,
				fmt.Sprintf("live connect: %v", err),
			))
			return
		}
		defer conn.Close()

		sendCtx, cancelSend := context.WithCancel(ctx)
		defer cancelSend()
		go f.pumpLiveRequests(sendCtx, invocation, conn)

		f.receiveLiveResponses(ctx, invocation, conn, eventChan)
	}()

	return eventChan, nil
}

// pumpLiveRequests forwards queue items to the connection until the
// queue closes or the context ends.
func (f *Flow) pumpLiveRequests(ctx context.Context, invocation *agent.Invocation, conn model.Connection) {
	for {
		select {
		case req, ok := <-invocation.LiveRequestQueue.Requests():
			if !ok || req == nil || req.Close {
				// End of input. The connection close flushes the backend.
				conn.Close()
				return
			}
			var msg model.Message
			switch {
			case req.Content != nil:
				msg = *req.Content
			case req.Blob != nil:
				msg = model.Message{
					Role: model.RoleUser,
					Attachments: []model.Attachment{
						{MimeType: req.MimeType, Data: req.Blob},
					},
				}
			default:
				continue
			}
			if err := conn.Send(ctx, msg); err != nil {
				log.Errorf("live send failed for agent %s: %v", invocation.AgentName, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// receiveLiveResponses turns backend responses into events until the
// connection drains.
func (f *Flow) receiveLiveResponses(
	ctx context.Context,
	invocation *agent.Invocation,
	conn model.Connection,
	eventChan chan<- *event.Event,
) {
	for {
		response, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return
			}
			sendEvent(ctx, eventChan, event.NewErrorEvent(
				invocation.InvocationID,
				invocation.AgentName,
				model.ErrorTypeAPIError,
				err.Error(),
			))
			return
		}
		if response == nil {
			continue
		}

		responseEvent := event.New(invocation.InvocationID, invocation.AgentName,
			event.WithResponse(response),
			event.WithBranch(invocation.Branch),
		)
		if !sendEvent(ctx, eventChan, responseEvent) {
			return
		}

		if !response.IsPartial && response.IsToolCallResponse() {
			f.handleLiveToolCalls(ctx, invocation, response, eventChan)
		}

		if invocation.EndInvocation {
			return
		}
	}
}

// handleLiveToolCalls dispatches live-capable tools onto their
// pre-registered input streams and everything else through the regular
// response processors.
func (f *Flow) handleLiveToolCalls(
	ctx context.Context,
	invocation *agent.Invocation,
	response *model.Response,
	eventChan chan<- *event.Event,
) {
	var passthrough []model.ToolCall
	for _, toolCall := range response.Choices[0].Message.ToolCalls {
		liveTool, input := f.liveToolFor(invocation, toolCall.Function.Name)
		if liveTool == nil {
			passthrough = append(passthrough, toolCall)
			continue
		}
		go f.runLiveTool(ctx, invocation, toolCall, liveTool, input, eventChan)
	}
	if len(passthrough) == 0 {
		return
	}

	trimmed := response.Clone()
	trimmed.Choices[0].Message.ToolCalls = passthrough
	f.postprocess(ctx, invocation, trimmed, eventChan)
}

func (f *Flow) liveToolFor(invocation *agent.Invocation, name string) (tool.LiveTool, *tool.StreamReader) {
	if invocation.Agent == nil {
		return nil, nil
	}
	for _, t := range invocation.Agent.Tools() {
		if t.Declaration().Name != name {
			continue
		}
		liveTool, ok := t.(tool.LiveTool)
		if !ok {
			return nil, nil
		}
		input, ok := invocation.LiveToolInputs[name]
		if !ok {
			return nil, nil
		}
		return liveTool, input.Reader
	}
	return nil, nil
}

// runLiveTool streams one live tool's results as tool response events.
func (f *Flow) runLiveTool(
	ctx context.Context,
	invocation *agent.Invocation,
	toolCall model.ToolCall,
	liveTool tool.LiveTool,
	input *tool.StreamReader,
	eventChan chan<- *event.Event,
) {
	reader, err := liveTool.LiveCall(ctx, toolCall.Function.Arguments, input)
	if err != nil {
		log.Errorf("live tool %s failed: %v", toolCall.Function.Name, err)
		sendEvent(ctx, eventChan, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			model.ErrorTypeFlowError,
			fmt.Sprintf("live tool %s: %v", toolCall.Function.Name, err),
		))
		return
	}
	defer reader.Close()

	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			log.Errorf("live tool %s: receive chunk: %v", toolCall.Function.Name, err)
			return
		}

		evt := event.New(invocation.InvocationID, invocation.AgentName,
			event.WithBranch(invocation.Branch),
			event.WithObject(model.ObjectTypeToolResponse),
		)
		evt.Response.Choices = []model.Choice{
			{
				Message: model.Message{
					Role:     model.RoleTool,
					Content:  fmt.Sprintf("%v", chunk.Content),
					ToolID:   toolCall.ID,
					ToolName: toolCall.Function.Name,
				},
			},
		}
		if !sendEvent(ctx, eventChan, evt) {
			return
		}
	}
}
