package processor

import (
	"context"
	"strings"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/internal/state"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
)

// globalInstructionCarrier is implemented by agents whose instruction
// applies to every agent in their tree, not just themselves.
type globalInstructionCarrier interface {
	GlobalInstruction() string
}

// InstructionRequestProcessor adds the agent's instruction to the
// request's system message. When the root of the agent tree carries a
// global instruction, it is injected first so every sub-agent inherits
// it. Placeholders are resolved against the session state unless
// BypassStateInjection is set.
type InstructionRequestProcessor struct {
	// Instruction is the static per-agent instruction.
	Instruction string
	// InstructionGetter, if set, supplies the instruction for each
	// request and takes precedence over the static Instruction.
	InstructionGetter func() string
	// BypassStateInjection leaves {key} placeholders untouched, for
	// instructions that contain literal braces or are fully computed.
	BypassStateInjection bool
}

// InstructionOption configures the instruction request processor.
type InstructionOption func(*InstructionRequestProcessor)

// WithInstructionGetter sets a per-request instruction supplier. The
// getter is called on every request, so the instruction can change at
// runtime without rebuilding the agent.
func WithInstructionGetter(getter func() string) InstructionOption {
	return func(p *InstructionRequestProcessor) {
		p.InstructionGetter = getter
	}
}

// WithBypassStateInjection disables placeholder resolution.
func WithBypassStateInjection(bypass bool) InstructionOption {
	return func(p *InstructionRequestProcessor) {
		p.BypassStateInjection = bypass
	}
}

// NewInstructionRequestProcessor creates an instruction request processor.
func NewInstructionRequestProcessor(instruction string, opts ...InstructionOption) *InstructionRequestProcessor {
	p := &InstructionRequestProcessor{
		Instruction: instruction,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessRequest implements flow.RequestProcessor.
func (p *InstructionRequestProcessor) ProcessRequest(
	ctx context.Context,
	invocation *agent.Invocation,
	req *model.Request,
	ch chan<- *event.Event,
) {
	if req == nil {
		log.Errorf("instruction request processor: request is nil")
		return
	}
	if invocation == nil {
		return
	}

	var parts []string
	if global := rootGlobalInstruction(invocation.Agent); global != "" {
		parts = append(parts, p.resolve(global, invocation))
	}

	instruction := p.Instruction
	if p.InstructionGetter != nil {
		instruction = p.InstructionGetter()
	}
	if instruction != "" {
		parts = append(parts, p.resolve(instruction, invocation))
	}

	if len(parts) > 0 {
		combined := strings.Join(parts, "\n\n")
		if idx := findSystemMessageIndex(req.Messages); idx >= 0 {
			req.Messages[idx].Content = req.Messages[idx].Content + "\n\n" + combined
		} else {
			req.Messages = append([]model.Message{model.NewSystemMessage(combined)}, req.Messages...)
		}
	}

	emitProcessorEvent(ctx, invocation, ch, model.ObjectTypePreprocessingInstruction)
}

func (p *InstructionRequestProcessor) resolve(instruction string, invocation *agent.Invocation) string {
	if p.BypassStateInjection {
		return instruction
	}
	resolved, err := state.Inject(instruction, invocation)
	if err != nil {
		log.Warnf("instruction request processor: state injection failed: %v", err)
		return instruction
	}
	return resolved
}

// rootGlobalInstruction walks to the root of the agent tree and returns
// its global instruction, when the root declares one.
func rootGlobalInstruction(a agent.Agent) string {
	for a != nil {
		holder, ok := a.(agent.ParentHolder)
		if !ok || holder.Parent() == nil {
			break
		}
		a = holder.Parent()
	}
	if carrier, ok := a.(globalInstructionCarrier); ok {
		return carrier.GlobalInstruction()
	}
	return ""
}
