// Package llmflow provides the model-driven flow: request processors,
// the model call, response processors and the tool loop.
package llmflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/internal/flow"
	itelemetry "github.com/tomekpanek/agentkit/internal/telemetry"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/telemetry/trace"
	"github.com/tomekpanek/agentkit/tool"
)

const (
	defaultChannelBufferSize = 256

	// eventCompletionTimeout caps the wait for the session writer's
	// append acknowledgement between flow steps.
	eventCompletionTimeout = 5 * time.Second
)

// Options configures a Flow.
type Options struct {
	// ChannelBufferSize is the event channel buffer size (default 256).
	ChannelBufferSize int
}

// Flow runs the model loop for one agent: preprocess the request, call
// the model, postprocess each response, repeat until a final response.
type Flow struct {
	requestProcessors  []flow.RequestProcessor
	responseProcessors []flow.ResponseProcessor
	channelBufferSize  int
}

// New creates a Flow with the given processor chains.
func New(
	requestProcessors []flow.RequestProcessor,
	responseProcessors []flow.ResponseProcessor,
	opts Options,
) *Flow {
	channelBufferSize := opts.ChannelBufferSize
	if channelBufferSize <= 0 {
		channelBufferSize = defaultChannelBufferSize
	}
	return &Flow{
		requestProcessors:  requestProcessors,
		responseProcessors: responseProcessors,
		channelBufferSize:  channelBufferSize,
	}
}

// Run implements flow.Flow.
func (f *Flow) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	eventChan := make(chan *event.Event, f.channelBufferSize)

	go func() {
		defer close(eventChan)

		for {
			// Block until the previous step's events reached the session,
			// so the next request sees a complete history.
			if err := f.emitBarrierAndWait(ctx, invocation, eventChan); err != nil {
				return
			}

			lastEvent, err := f.runOneStep(ctx, invocation, eventChan)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					log.Debugf("flow context canceled for agent %s", invocation.AgentName)
					return
				}
				log.Errorf("flow step failed for agent %s: %v", invocation.AgentName, err)
				sendEvent(ctx, eventChan, event.NewErrorEvent(
					invocation.InvocationID,
					invocation.AgentName,
					model.ErrorTypeFlowError,
					err.Error(),
				))
				return
			}

			// A step without events would loop forever; treat as terminal.
			if lastEvent == nil || invocation.EndInvocation || lastEvent.IsFinalResponse() {
				return
			}
		}
	}()

	return eventChan, nil
}

// emitBarrierAndWait publishes an empty event that asks the session writer
// to acknowledge once everything emitted so far has been appended. The
// notice channel is registered before the event is sent so the signal
// cannot be lost. A timed-out wait is tolerated; only context errors stop
// the flow.
func (f *Flow) emitBarrierAndWait(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) error {
	barrier := event.New(invocation.InvocationID, invocation.AgentName)
	barrier.RequiresCompletion = true

	key := agent.AppendNoticeKey(barrier.ID)
	invocation.AddNoticeChannel(key)
	if !sendEvent(ctx, eventChan, barrier) {
		return ctx.Err()
	}
	if err := invocation.AddNoticeChannelAndWait(ctx, key, eventCompletionTimeout); err != nil {
		if errors.Is(err, agent.ErrNoticeTimeout) {
			log.Debugf("append notice timed out for agent %s", invocation.AgentName)
			return nil
		}
		return err
	}
	return nil
}

// runOneStep performs one model call cycle.
func (f *Flow) runOneStep(
	ctx context.Context,
	invocation *agent.Invocation,
	eventChan chan<- *event.Event,
) (*event.Event, error) {
	req := &model.Request{
		Tools: make(map[string]tool.Tool),
	}

	f.preprocess(ctx, invocation, req, eventChan)
	if invocation.EndInvocation {
		return nil, nil
	}

	var span oteltrace.Span
	modelName := ""
	if invocation.Model != nil {
		modelName = invocation.Model.Info().Name
	}
	_, span = trace.Tracer.Start(ctx, fmt.Sprintf("%s %s", itelemetry.SpanNameCallModel, modelName))
	defer span.End()

	responseChan, err := f.callModel(ctx, invocation, req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return f.processStreamingResponses(ctx, invocation, req, responseChan, eventChan, span)
}

func (f *Flow) processStreamingResponses(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
	responseChan <-chan *model.Response,
	eventChan chan<- *event.Event,
	span oteltrace.Span,
) (*event.Event, error) {
	var lastEvent *event.Event

	for response := range responseChan {
		customRsp, err := f.runAfterModel(ctx, invocation, response, eventChan)
		if err != nil {
			return lastEvent, err
		}
		if customRsp != nil {
			response = customRsp
		}

		responseEvent := f.newResponseEvent(invocation, response, req)
		if !sendEvent(ctx, eventChan, responseEvent) {
			return lastEvent, ctx.Err()
		}
		lastEvent = responseEvent

		f.postprocess(ctx, invocation, response, eventChan)
		if err := ctx.Err(); err != nil {
			return lastEvent, err
		}

		itelemetry.TraceCallModel(span, invocation, req, response, responseEvent.ID)
	}
	return lastEvent, nil
}

func (f *Flow) runAfterModel(
	ctx context.Context,
	invocation *agent.Invocation,
	response *model.Response,
	eventChan chan<- *event.Event,
) (*model.Response, error) {
	if invocation.ModelCallbacks == nil {
		return nil, nil
	}
	customRsp, err := invocation.ModelCallbacks.RunAfterModel(ctx, response, nil)
	if err != nil {
		log.Errorf("after model callback failed for agent %s: %v", invocation.AgentName, err)
		sendEvent(ctx, eventChan, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			model.ErrorTypeFlowError,
			err.Error(),
		))
		return nil, err
	}
	return customRsp, nil
}

func (f *Flow) newResponseEvent(invocation *agent.Invocation, response *model.Response, req *model.Request) *event.Event {
	responseEvent := event.New(invocation.InvocationID, invocation.AgentName,
		event.WithResponse(response),
		event.WithBranch(invocation.Branch),
	)
	if len(response.Choices) > 0 && len(response.Choices[0].Message.ToolCalls) > 0 {
		responseEvent.LongRunningToolIDs = collectLongRunningToolIDs(response.Choices[0].Message.ToolCalls, req.Tools)
	}
	return responseEvent
}

func collectLongRunningToolIDs(toolCalls []model.ToolCall, tools map[string]tool.Tool) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, toolCall := range toolCalls {
		t, ok := tools[toolCall.Function.Name]
		if !ok {
			continue
		}
		if lr, ok := t.(tool.LongRunner); ok && lr.LongRunning() {
			ids[toolCall.ID] = struct{}{}
		}
	}
	return ids
}

func (f *Flow) preprocess(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
	eventChan chan<- *event.Event,
) {
	for _, processor := range f.requestProcessors {
		processor.ProcessRequest(ctx, invocation, req, eventChan)
	}
	if invocation.Agent != nil {
		for _, t := range invocation.Agent.Tools() {
			req.Tools[t.Declaration().Name] = t
		}
	}
}

func (f *Flow) callModel(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
) (<-chan *model.Response, error) {
	if invocation.Model == nil {
		return nil, errors.New("no model available for call")
	}

	if invocation.ModelCallbacks != nil {
		customRsp, err := invocation.ModelCallbacks.RunBeforeModel(ctx, req)
		if err != nil {
			log.Errorf("before model callback failed for agent %s: %v", invocation.AgentName, err)
			return nil, err
		}
		if customRsp != nil {
			responseChan := make(chan *model.Response, 1)
			responseChan <- customRsp
			close(responseChan)
			return responseChan, nil
		}
	}

	responseChan, err := invocation.Model.GenerateContent(ctx, req)
	if err != nil {
		if invocation.ModelCallbacks != nil {
			recovered, cbErr := invocation.ModelCallbacks.RunOnModelError(ctx, req, err)
			if cbErr != nil {
				return nil, cbErr
			}
			if recovered != nil {
				substitute := make(chan *model.Response, 1)
				substitute <- recovered
				close(substitute)
				return substitute, nil
			}
		}
		log.Errorf("model call failed for agent %s: %v", invocation.AgentName, err)
		return nil, err
	}
	return responseChan, nil
}

func (f *Flow) postprocess(
	ctx context.Context,
	invocation *agent.Invocation,
	response *model.Response,
	eventChan chan<- *event.Event,
) {
	if response == nil {
		return
	}
	// Tool calls and transfers run from the response processors.
	for _, processor := range f.responseProcessors {
		processor.ProcessResponse(ctx, invocation, response, eventChan)
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
