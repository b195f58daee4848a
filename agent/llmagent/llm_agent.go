// Package llmagent provides the model-backed agent.
package llmagent

import (
	"context"
	"fmt"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/internal/flow"
	"github.com/tomekpanek/agentkit/internal/flow/llmflow"
	"github.com/tomekpanek/agentkit/internal/flow/processor"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/telemetry/trace"
	"github.com/tomekpanek/agentkit/tool"
	"github.com/tomekpanek/agentkit/tool/transfer"
)

const defaultChannelBufferSize = 256

// Option configures an LLMAgent.
type Option func(*Options)

// WithModel sets the reasoning backend.
func WithModel(m model.Model) Option {
	return func(opts *Options) {
		opts.Model = m
	}
}

// WithDescription sets the agent description surfaced to the model and
// to delegating agents.
func WithDescription(description string) Option {
	return func(opts *Options) {
		opts.Description = description
	}
}

// WithInstruction sets the agent instruction. Placeholders like {key}
// are resolved against session state on every request.
func WithInstruction(instruction string) Option {
	return func(opts *Options) {
		opts.Instruction = instruction
	}
}

// WithGlobalInstruction sets an instruction that applies to every agent
// in the tree rooted at this agent. Sub-agents inherit it when they run,
// in addition to their own instructions.
func WithGlobalInstruction(instruction string) Option {
	return func(opts *Options) {
		opts.GlobalInstruction = instruction
	}
}

// WithInstructionGetter supplies the instruction per request instead of
// a fixed string, so it can be computed or changed at runtime. When set,
// it takes precedence over WithInstruction.
func WithInstructionGetter(getter func() string) Option {
	return func(opts *Options) {
		opts.InstructionGetter = getter
	}
}

// WithBypassStateInjection leaves {key} placeholders in instructions
// untouched instead of resolving them against session state.
func WithBypassStateInjection(bypass bool) Option {
	return func(opts *Options) {
		opts.BypassStateInjection = bypass
	}
}

// WithGenerationConfig sets the generation configuration.
func WithGenerationConfig(config model.GenerationConfig) Option {
	return func(opts *Options) {
		opts.GenerationConfig = config
	}
}

// WithChannelBufferSize sets the event channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(opts *Options) {
		opts.ChannelBufferSize = size
	}
}

// WithTools sets the tools available to the agent.
func WithTools(tools []tool.Tool) Option {
	return func(opts *Options) {
		opts.Tools = tools
	}
}

// WithSubAgents sets the agents this agent may delegate to.
func WithSubAgents(subAgents []agent.Agent) Option {
	return func(opts *Options) {
		opts.SubAgents = subAgents
	}
}

// WithAgentCallbacks sets per-agent lifecycle callbacks.
func WithAgentCallbacks(callbacks *agent.Callbacks) Option {
	return func(opts *Options) {
		opts.AgentCallbacks = callbacks
	}
}

// WithModelCallbacks sets per-agent model callbacks.
func WithModelCallbacks(callbacks *model.Callbacks) Option {
	return func(opts *Options) {
		opts.ModelCallbacks = callbacks
	}
}

// WithToolCallbacks sets per-agent tool callbacks.
func WithToolCallbacks(callbacks *tool.Callbacks) Option {
	return func(opts *Options) {
		opts.ToolCallbacks = callbacks
	}
}

// WithEnableParallelTools executes multiple tool calls concurrently.
// Tools run serially by default.
func WithEnableParallelTools(enable bool) Option {
	return func(opts *Options) {
		opts.EnableParallelTools = enable
	}
}

// WithOutputKey stores the agent's final text under the given session
// state key.
func WithOutputKey(outputKey string) Option {
	return func(opts *Options) {
		opts.OutputKey = outputKey
	}
}

// WithDisallowTransferToParent marks this agent as unable to hand
// control back up the tree. Selection skips any candidate whose
// ancestor chain crosses such an agent and falls back to the root.
func WithDisallowTransferToParent(disallow bool) Option {
	return func(opts *Options) {
		opts.DisallowTransferToParent = disallow
	}
}

// Options holds LLMAgent configuration.
type Options struct {
	Model                    model.Model
	Description              string
	Instruction              string
	GlobalInstruction        string
	InstructionGetter        func() string
	BypassStateInjection     bool
	GenerationConfig         model.GenerationConfig
	ChannelBufferSize        int
	Tools                    []tool.Tool
	SubAgents                []agent.Agent
	AgentCallbacks           *agent.Callbacks
	ModelCallbacks           *model.Callbacks
	ToolCallbacks            *tool.Callbacks
	EnableParallelTools      bool
	OutputKey                string
	DisallowTransferToParent bool
}

// LLMAgent drives one model in a loop of request processing, model
// calls, response processing and tool execution.
type LLMAgent struct {
	name                     string
	model                    model.Model
	description              string
	instruction              string
	globalInstruction        string
	genConfig                model.GenerationConfig
	flow                     *llmflow.Flow
	tools                    []tool.Tool
	subAgents                []agent.Agent
	parent                   agent.Agent
	agentCallbacks           *agent.Callbacks
	modelCallbacks           *model.Callbacks
	toolCallbacks            *tool.Callbacks
	outputKey                string
	disallowTransferToParent bool
}

// New creates an LLMAgent. The agent tree is fixed at construction:
// sub-agents get their parent reference here and the processor chain is
// assembled once.
func New(name string, opts ...Option) *LLMAgent {
	options := Options{ChannelBufferSize: defaultChannelBufferSize}
	for _, opt := range opts {
		opt(&options)
	}

	allTools := make([]tool.Tool, 0, len(options.Tools)+1)
	allTools = append(allTools, options.Tools...)
	if len(options.SubAgents) > 0 {
		agentInfos := make([]agent.Info, len(options.SubAgents))
		for i, subAgent := range options.SubAgents {
			agentInfos[i] = subAgent.Info()
		}
		allTools = append(allTools, transfer.New(agentInfos))
	}
	toolsByName := make(map[string]tool.Tool, len(allTools))
	for _, t := range allTools {
		toolsByName[t.Declaration().Name] = t
	}

	var requestProcessors []flow.RequestProcessor
	requestProcessors = append(requestProcessors,
		processor.NewBasicRequestProcessor(processor.WithGenerationConfig(options.GenerationConfig)))
	// Always present: even an agent with no instruction of its own may
	// inherit the root's global instruction at run time.
	requestProcessors = append(requestProcessors,
		processor.NewInstructionRequestProcessor(options.Instruction,
			processor.WithInstructionGetter(options.InstructionGetter),
			processor.WithBypassStateInjection(options.BypassStateInjection)))
	if name != "" || options.Description != "" {
		requestProcessors = append(requestProcessors,
			processor.NewIdentityRequestProcessor(name, options.Description))
	}
	requestProcessors = append(requestProcessors, processor.NewContentRequestProcessor())

	var responseProcessors []flow.ResponseProcessor
	responseProcessors = append(responseProcessors,
		processor.NewFunctionCallResponseProcessor(toolsByName, options.EnableParallelTools))
	if options.OutputKey != "" {
		responseProcessors = append(responseProcessors,
			processor.NewOutputResponseProcessor(options.OutputKey))
	}
	if len(options.SubAgents) > 0 {
		responseProcessors = append(responseProcessors, processor.NewTransferResponseProcessor())
	}

	llmFlow := llmflow.New(requestProcessors, responseProcessors, llmflow.Options{
		ChannelBufferSize: options.ChannelBufferSize,
	})

	a := &LLMAgent{
		name:                     name,
		model:                    options.Model,
		description:              options.Description,
		instruction:              options.Instruction,
		globalInstruction:        options.GlobalInstruction,
		genConfig:                options.GenerationConfig,
		flow:                     llmFlow,
		tools:                    allTools,
		subAgents:                options.SubAgents,
		agentCallbacks:           options.AgentCallbacks,
		modelCallbacks:           options.ModelCallbacks,
		toolCallbacks:            options.ToolCallbacks,
		outputKey:                options.OutputKey,
		disallowTransferToParent: options.DisallowTransferToParent,
	}
	for _, subAgent := range a.subAgents {
		if holder, ok := subAgent.(agent.ParentHolder); ok {
			holder.SetParent(a)
		}
	}
	return a
}

// Run implements agent.Agent.
func (a *LLMAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	// Tools such as transfer_to_agent reach the invocation through the
	// context.
	ctx = agent.NewInvocationContext(ctx, invocation)
	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("agent_run [%s]", a.name))
	defer span.End()

	a.prepareInvocation(invocation)

	if invocation.AgentCallbacks != nil {
		customResponse, err := invocation.AgentCallbacks.RunBeforeAgent(ctx, invocation)
		if err != nil {
			return nil, fmt.Errorf("before agent callback failed: %w", err)
		}
		if customResponse != nil {
			eventChan := make(chan *event.Event, 1)
			eventChan <- event.NewResponseEvent(invocation.InvocationID, invocation.AgentName, customResponse)
			close(eventChan)
			return eventChan, nil
		}
	}

	flowEventChan, err := a.flow.Run(ctx, invocation)
	if err != nil {
		return nil, err
	}
	if invocation.AgentCallbacks != nil {
		return a.wrapEventChannel(ctx, invocation, flowEventChan), nil
	}
	return flowEventChan, nil
}

// RunLive runs the agent in persistent duplex mode against the
// invocation's live request queue.
func (a *LLMAgent) RunLive(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	ctx = agent.NewInvocationContext(ctx, invocation)
	ctx, span := trace.Tracer.Start(ctx, fmt.Sprintf("agent_run_live [%s]", a.name))
	defer span.End()

	a.prepareInvocation(invocation)
	return a.flow.RunLive(ctx, invocation)
}

func (a *LLMAgent) prepareInvocation(invocation *agent.Invocation) {
	if invocation.Model == nil && a.model != nil {
		invocation.Model = a.model
	}
	if invocation.AgentName == "" {
		invocation.AgentName = a.name
	}
	if invocation.AgentCallbacks == nil && a.agentCallbacks != nil {
		invocation.AgentCallbacks = a.agentCallbacks
	}
	if invocation.ModelCallbacks == nil && a.modelCallbacks != nil {
		invocation.ModelCallbacks = a.modelCallbacks
	}
	if invocation.ToolCallbacks == nil && a.toolCallbacks != nil {
		invocation.ToolCallbacks = a.toolCallbacks
	}
}

// wrapEventChannel forwards flow events and runs the after-agent
// callbacks once the flow completes.
func (a *LLMAgent) wrapEventChannel(
	ctx context.Context,
	invocation *agent.Invocation,
	originalChan <-chan *event.Event,
) <-chan *event.Event {
	wrappedChan := make(chan *event.Event, defaultChannelBufferSize)

	go func() {
		defer close(wrappedChan)

		for evt := range originalChan {
			select {
			case wrappedChan <- evt:
			case <-ctx.Done():
				return
			}
		}

		customResponse, err := invocation.AgentCallbacks.RunAfterAgent(ctx, invocation, nil)
		if err != nil {
			errorEvent := event.NewErrorEvent(
				invocation.InvocationID,
				invocation.AgentName,
				agent.ErrorTypeAgentCallbackError,
				err.Error(),
			)
			select {
			case wrappedChan <- errorEvent:
			case <-ctx.Done():
			}
			return
		}
		if customResponse != nil {
			customEvent := event.NewResponseEvent(invocation.InvocationID, invocation.AgentName, customResponse)
			select {
			case wrappedChan <- customEvent:
			case <-ctx.Done():
			}
		}
	}()

	return wrappedChan
}

// Tools implements agent.Agent.
func (a *LLMAgent) Tools() []tool.Tool {
	return a.tools
}

// Info implements agent.Agent.
func (a *LLMAgent) Info() agent.Info {
	return agent.Info{
		Name:        a.name,
		Description: a.description,
	}
}

// SubAgents implements agent.Agent.
func (a *LLMAgent) SubAgents() []agent.Agent {
	return a.subAgents
}

// FindSubAgent implements agent.Agent.
func (a *LLMAgent) FindSubAgent(name string) agent.Agent {
	for _, subAgent := range a.subAgents {
		if subAgent.Info().Name == name {
			return subAgent
		}
	}
	return nil
}

// Parent implements agent.ParentHolder.
func (a *LLMAgent) Parent() agent.Agent {
	return a.parent
}

// SetParent implements agent.ParentHolder.
func (a *LLMAgent) SetParent(parent agent.Agent) {
	a.parent = parent
}

// GlobalInstruction returns the instruction this agent applies to its
// whole tree. The instruction processor resolves it from the root on
// every request.
func (a *LLMAgent) GlobalInstruction() string {
	return a.globalInstruction
}

// DisallowTransferToParent implements agent.TransferPolicy.
func (a *LLMAgent) DisallowTransferToParent() bool {
	return a.disallowTransferToParent
}
