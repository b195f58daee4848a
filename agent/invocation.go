package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/tomekpanek/agentkit/artifact"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/session"
	"github.com/tomekpanek/agentkit/tool"
)

// TransferInfo describes a pending hand-off to another agent.
type TransferInfo struct {
	// TargetAgentName is the agent to transfer control to.
	TargetAgentName string
	// Message is forwarded to the target agent.
	Message string
	// EndInvocation ends the current invocation after the transfer.
	EndInvocation bool
}

// Invocation carries the mutable state of one runner call through the
// agent tree. It lives for exactly one invocation and is shared by
// reference; concurrent branches receive copies via CreateBranchInvocation.
type Invocation struct {
	// Agent is the agent being invoked.
	Agent Agent
	// AgentName is the name of the agent being invoked.
	AgentName string
	// InvocationID groups every event of one runner call.
	InvocationID string
	// Branch partitions events of concurrently running sub-agents.
	Branch string
	// EndInvocation requests early termination. Any component may set it.
	EndInvocation bool
	// Session is the session the invocation operates on.
	Session *session.Session
	// Model is the reasoning backend for the invocation.
	Model model.Model
	// Message is the user message that started the invocation.
	Message model.Message
	// RunOptions carries per-run options.
	RunOptions RunOptions
	// TransferInfo is set when a transfer has been requested.
	TransferInfo *TransferInfo
	// AgentCallbacks intercept agent execution.
	AgentCallbacks *Callbacks
	// ModelCallbacks intercept model calls.
	ModelCallbacks *model.Callbacks
	// ToolCallbacks intercept tool calls.
	ToolCallbacks *tool.Callbacks
	// ArtifactService stores binary payloads off-loaded from messages.
	ArtifactService artifact.Service
	// LiveRequestQueue is the duplex input queue in live mode, nil otherwise.
	LiveRequestQueue *LiveRequestQueue
	// LiveToolInputs holds the per-tool live input streams, keyed by tool
	// name, pre-registered before the live run starts.
	LiveToolInputs map[string]*tool.Stream

	// notices coordinates append handshakes between flows and the runner.
	// Shared with branch invocations.
	notices    *noticeHub
	noticeOnce sync.Once
}

// NewInvocationID returns a fresh globally unique invocation id.
func NewInvocationID() string {
	return uuid.New().String()
}

// CreateBranchInvocation derives an invocation for a branch agent. The
// copy shares the session and run options but mutates none of the
// originals' fields.
func (inv *Invocation) CreateBranchInvocation(branchAgent Agent) *Invocation {
	return &Invocation{
		Agent:           branchAgent,
		AgentName:       branchAgent.Info().Name,
		InvocationID:    inv.InvocationID,
		Branch:          inv.Branch,
		Session:         inv.Session,
		Model:           inv.Model,
		Message:         inv.Message,
		RunOptions:      inv.RunOptions,
		AgentCallbacks:  inv.AgentCallbacks,
		ModelCallbacks:  inv.ModelCallbacks,
		ToolCallbacks:   inv.ToolCallbacks,
		ArtifactService: inv.ArtifactService,
		notices:         inv.hub(),
	}
}

// RunOption configures RunOptions.
type RunOption func(*RunOptions)

// RunOptions holds per-run options.
type RunOptions struct {
	// RuntimeState is merged into the invocation's initial state delta,
	// letting callers pass dynamic parameters without changing the
	// agent's configuration.
	RuntimeState map[string][]byte
}

// WithRuntimeState sets the runtime state for a run.
func WithRuntimeState(state map[string][]byte) RunOption {
	return func(opts *RunOptions) {
		opts.RuntimeState = state
	}
}

type invocationKey struct{}

// NewInvocationContext stores the invocation in the context.
func NewInvocationContext(ctx context.Context, invocation *Invocation) context.Context {
	return context.WithValue(ctx, invocationKey{}, invocation)
}

// InvocationFromContext returns the invocation stored in the context.
func InvocationFromContext(ctx context.Context) (*Invocation, bool) {
	invocation, ok := ctx.Value(invocationKey{}).(*Invocation)
	return invocation, ok
}
