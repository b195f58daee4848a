package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	itelemetry "github.com/tomekpanek/agentkit/internal/telemetry"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/telemetry/trace"
	"github.com/tomekpanek/agentkit/tool"
)

const (
	// ErrorToolNotFound is returned to the model when a call names an
	// unknown tool.
	ErrorToolNotFound = "Error: tool not found"
	// ErrorCallableToolExecution marks a failed callable tool run.
	ErrorCallableToolExecution = "Error: callable tool execution failed"
	// ErrorStreamableToolExecution marks a failed streamable tool run.
	ErrorStreamableToolExecution = "Error: streamable tool execution failed"
	// ErrorMarshalResult marks a tool result that could not be encoded.
	ErrorMarshalResult = "Error: failed to marshal result"
)

type summarizationSkipper interface {
	SkipSummarization() bool
}

type toolResult struct {
	index int
	event *event.Event
}

// FunctionCallResponseProcessor executes the tool calls requested by a
// model response and emits one merged tool-response event.
type FunctionCallResponseProcessor struct {
	tools               map[string]tool.Tool
	enableParallelTools bool
}

// NewFunctionCallResponseProcessor creates a function call processor over
// the given tool set.
func NewFunctionCallResponseProcessor(tools map[string]tool.Tool, enableParallelTools bool) *FunctionCallResponseProcessor {
	return &FunctionCallResponseProcessor{
		tools:               tools,
		enableParallelTools: enableParallelTools,
	}
}

// ProcessResponse implements flow.ResponseProcessor.
func (p *FunctionCallResponseProcessor) ProcessResponse(
	ctx context.Context,
	invocation *agent.Invocation,
	rsp *model.Response,
	ch chan<- *event.Event,
) {
	if rsp == nil || rsp.IsPartial || !rsp.IsToolCallResponse() {
		return
	}

	responseEvent, err := p.handleFunctionCalls(ctx, invocation, rsp, ch)
	if err != nil {
		log.Errorf("function call handling failed for agent %s: %v", invocation.AgentName, err)
		sendEvent(ctx, ch, event.NewErrorEvent(
			invocation.InvocationID,
			invocation.AgentName,
			model.ErrorTypeFlowError,
			err.Error(),
		))
		return
	}
	if responseEvent != nil {
		sendEvent(ctx, ch, responseEvent)
	}
}

func (p *FunctionCallResponseProcessor) handleFunctionCalls(
	ctx context.Context,
	invocation *agent.Invocation,
	rsp *model.Response,
	ch chan<- *event.Event,
) (*event.Event, error) {
	toolCalls := rsp.Choices[0].Message.ToolCalls

	if p.enableParallelTools && len(toolCalls) > 1 {
		return p.executeToolCallsInParallel(ctx, invocation, rsp, toolCalls, ch)
	}

	var responseEvents []*event.Event
	for i, toolCall := range toolCalls {
		toolCtx, span := trace.Tracer.Start(ctx,
			fmt.Sprintf("%s %s", itelemetry.SpanNamePrefixExecuteTool, toolCall.Function.Name))
		choice, err := p.executeToolCall(toolCtx, invocation, toolCall, i, ch)
		if err != nil {
			span.End()
			return nil, err
		}
		if choice == nil {
			// Long-running tool with a deferred result.
			span.End()
			continue
		}
		choice.Message.ToolName = toolCall.Function.Name
		responseEvent := p.newToolResponseEvent(invocation, rsp, []model.Choice{*choice})
		responseEvents = append(responseEvents, responseEvent)
		itelemetry.TraceToolCall(span, p.declarationFor(toolCall.Function.Name), toolCall.Function.Arguments, responseEvent)
		span.End()
	}
	return p.mergeToolResponseEvents(invocation, rsp, toolCalls, responseEvents), nil
}

func (p *FunctionCallResponseProcessor) executeToolCallsInParallel(
	ctx context.Context,
	invocation *agent.Invocation,
	rsp *model.Response,
	toolCalls []model.ToolCall,
	ch chan<- *event.Event,
) (*event.Event, error) {
	resultChan := make(chan toolResult, len(toolCalls))
	var wg sync.WaitGroup

	for i, toolCall := range toolCalls {
		wg.Add(1)
		index, tc := i, toolCall
		submitErr := ants.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("tool %s panicked (id %s, agent %s): %v",
						tc.Function.Name, tc.ID, invocation.AgentName, r)
					choice := errorChoice(index, tc.ID, fmt.Sprintf("tool execution panic: %v", r))
					choice.Message.ToolName = tc.Function.Name
					resultChan <- toolResult{index: index, event: p.newToolResponseEvent(invocation, rsp, []model.Choice{*choice})}
				}
			}()

			toolCtx, span := trace.Tracer.Start(ctx,
				fmt.Sprintf("%s %s", itelemetry.SpanNamePrefixExecuteTool, tc.Function.Name))
			defer span.End()

			choice, err := p.executeToolCall(toolCtx, invocation, tc, index, ch)
			if err != nil {
				choice = errorChoice(index, tc.ID, fmt.Sprintf("tool execution error: %v", err))
			}
			if choice == nil {
				resultChan <- toolResult{index: index}
				return
			}
			choice.Message.ToolName = tc.Function.Name
			responseEvent := p.newToolResponseEvent(invocation, rsp, []model.Choice{*choice})
			itelemetry.TraceToolCall(span, p.declarationFor(tc.Function.Name), tc.Function.Arguments, responseEvent)
			resultChan <- toolResult{index: index, event: responseEvent}
		})
		if submitErr != nil {
			wg.Done()
			resultChan <- toolResult{index: index, event: p.newToolResponseEvent(invocation, rsp, []model.Choice{
				*errorChoice(index, tc.ID, fmt.Sprintf("tool scheduling error: %v", submitErr)),
			})}
		}
	}

	wg.Wait()
	close(resultChan)

	ordered := make([]*event.Event, len(toolCalls))
	for result := range resultChan {
		if result.index >= 0 && result.index < len(ordered) {
			ordered[result.index] = result.event
		}
	}
	var responseEvents []*event.Event
	for _, evt := range ordered {
		if evt != nil {
			responseEvents = append(responseEvents, evt)
		}
	}
	return p.mergeToolResponseEvents(invocation, rsp, toolCalls, responseEvents), nil
}

func (p *FunctionCallResponseProcessor) executeToolCall(
	ctx context.Context,
	invocation *agent.Invocation,
	toolCall model.ToolCall,
	index int,
	ch chan<- *event.Event,
) (*model.Choice, error) {
	tl, exists := p.tools[toolCall.Function.Name]
	if !exists {
		log.Errorf("tool %s not found (agent %s)", toolCall.Function.Name, invocation.AgentName)
		return errorChoice(index, toolCall.ID, ErrorToolNotFound), nil
	}

	result, err := p.executeToolWithCallbacks(ctx, invocation, toolCall, tl, ch)
	if err != nil {
		return errorChoice(index, toolCall.ID, err.Error()), nil
	}

	// A long-running tool may defer its result to a later turn.
	if lr, ok := tl.(tool.LongRunner); ok && lr.LongRunning() && result == nil {
		return nil, nil
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		log.Errorf("marshal tool result for %s: %v", toolCall.Function.Name, err)
		return errorChoice(index, toolCall.ID, ErrorMarshalResult), nil
	}

	return &model.Choice{
		Index: index,
		Message: model.Message{
			Role:    model.RoleTool,
			Content: string(resultBytes),
			ToolID:  toolCall.ID,
		},
	}, nil
}

func (p *FunctionCallResponseProcessor) executeToolWithCallbacks(
	ctx context.Context,
	invocation *agent.Invocation,
	toolCall model.ToolCall,
	tl tool.Tool,
	ch chan<- *event.Event,
) (any, error) {
	declaration := tl.Declaration()
	callbacks := invocation.ToolCallbacks

	args := toolCall.Function.Arguments
	if callbacks != nil {
		customResult, err := callbacks.RunBeforeTool(ctx, toolCall.Function.Name, declaration, &args)
		if err != nil {
			return nil, fmt.Errorf("tool callback error: %w", err)
		}
		if customResult != nil {
			return customResult, nil
		}
		toolCall.Function.Arguments = args
	}

	result, runErr := p.executeTool(ctx, invocation, toolCall, tl, ch)
	if runErr != nil && callbacks != nil {
		recovered, err := callbacks.RunOnToolError(ctx, toolCall.Function.Name, declaration, args, runErr)
		if err != nil {
			return nil, fmt.Errorf("tool callback error: %w", err)
		}
		if recovered != nil {
			result, runErr = recovered, nil
		}
	}
	if runErr != nil {
		return nil, runErr
	}

	if callbacks != nil {
		customResult, err := callbacks.RunAfterTool(ctx, toolCall.Function.Name, declaration, args, result, runErr)
		if err != nil {
			return nil, fmt.Errorf("tool callback error: %w", err)
		}
		if customResult != nil {
			result = customResult
		}
	}
	return result, nil
}

func (p *FunctionCallResponseProcessor) executeTool(
	ctx context.Context,
	invocation *agent.Invocation,
	toolCall model.ToolCall,
	tl tool.Tool,
	ch chan<- *event.Event,
) (any, error) {
	if streamable, ok := tl.(tool.StreamableTool); ok {
		return p.executeStreamableTool(ctx, invocation, toolCall, streamable, ch)
	}
	if callable, ok := tl.(tool.CallableTool); ok {
		result, err := callable.Call(ctx, toolCall.Function.Arguments)
		if err != nil {
			log.Errorf("tool %s failed: %v", toolCall.Function.Name, err)
			return nil, fmt.Errorf("%s: %w", ErrorCallableToolExecution, err)
		}
		return result, nil
	}
	return nil, fmt.Errorf("unsupported tool type: %T", tl)
}

// executeStreamableTool drains the tool's stream, forwarding inner events
// and aggregating the remaining chunks into the final result.
func (p *FunctionCallResponseProcessor) executeStreamableTool(
	ctx context.Context,
	invocation *agent.Invocation,
	toolCall model.ToolCall,
	tl tool.StreamableTool,
	ch chan<- *event.Event,
) (any, error) {
	reader, err := tl.StreamableCall(ctx, toolCall.Function.Arguments)
	if err != nil {
		log.Errorf("streamable tool %s failed: %v", toolCall.Function.Name, err)
		return nil, fmt.Errorf("%s: %w", ErrorStreamableToolExecution, err)
	}
	defer reader.Close()

	var contents []any
	for {
		chunk, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Errorf("streamable tool %s: receive chunk: %v", toolCall.Function.Name, err)
			break
		}
		if inner, ok := chunk.Content.(*event.Event); ok {
			if inner.InvocationID == "" {
				inner.InvocationID = invocation.InvocationID
			}
			if inner.Branch == "" {
				inner.Branch = invocation.Branch
			}
			sendEvent(ctx, ch, inner)
			continue
		}
		contents = append(contents, chunk.Content)
	}
	if len(contents) == 1 {
		return contents[0], nil
	}
	return contents, nil
}

func errorChoice(index int, toolID, errorMsg string) *model.Choice {
	return &model.Choice{
		Index: index,
		Message: model.Message{
			Role:    model.RoleTool,
			Content: errorMsg,
			ToolID:  toolID,
		},
	}
}

func (p *FunctionCallResponseProcessor) declarationFor(name string) *tool.Declaration {
	if tl, ok := p.tools[name]; ok {
		return tl.Declaration()
	}
	return &tool.Declaration{Name: "<not found>", Description: "<not found>"}
}

// newToolResponseEvent wraps tool result choices in an event correlated
// with the originating model response.
func (p *FunctionCallResponseProcessor) newToolResponseEvent(
	invocation *agent.Invocation,
	rsp *model.Response,
	choices []model.Choice,
) *event.Event {
	evt := event.New(invocation.InvocationID, invocation.AgentName,
		event.WithBranch(invocation.Branch),
	)
	evt.Response = &model.Response{
		ID:        rsp.ID,
		Object:    model.ObjectTypeToolResponse,
		Created:   rsp.Created,
		Model:     rsp.Model,
		Choices:   choices,
		Timestamp: rsp.Timestamp,
	}
	return evt
}

// mergeToolResponseEvents flattens per-call response events into one.
// When every call deferred its result, minimal tool messages are still
// produced so the next model call sees a response for each tool call id.
func (p *FunctionCallResponseProcessor) mergeToolResponseEvents(
	invocation *agent.Invocation,
	rsp *model.Response,
	toolCalls []model.ToolCall,
	responseEvents []*event.Event,
) *event.Event {
	if len(responseEvents) == 0 {
		minimal := make([]model.Choice, 0, len(toolCalls))
		for _, tc := range toolCalls {
			minimal = append(minimal, model.Choice{
				Message: model.Message{
					Role:   model.RoleTool,
					ToolID: tc.ID,
				},
			})
		}
		return p.newToolResponseEvent(invocation, rsp, minimal)
	}

	var choices []model.Choice
	skipSummarization := false
	for _, evt := range responseEvents {
		choices = append(choices, evt.Response.Choices...)
		if evt.Actions != nil && evt.Actions.SkipSummarization {
			skipSummarization = true
		}
	}
	for _, choice := range choices {
		if tl, ok := p.tools[choice.Message.ToolName]; ok {
			if skipper, ok := tl.(summarizationSkipper); ok && skipper.SkipSummarization() {
				skipSummarization = true
			}
		}
	}

	merged := p.newToolResponseEvent(invocation, rsp, choices)
	if skipSummarization {
		merged.Actions = &event.Actions{SkipSummarization: true}
	}
	return merged
}
