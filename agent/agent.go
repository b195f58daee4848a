// Package agent provides the core agent abstractions.
package agent

import (
	"context"

	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/tool"
)

// Info contains basic information about an agent.
type Info struct {
	Name        string
	Description string
}

// Agent is the interface that all agents implement.
type Agent interface {
	// Run executes the invocation and returns a channel of events that
	// represent the progress and results of the execution. The channel is
	// closed when the execution completes.
	Run(ctx context.Context, invocation *Invocation) (<-chan *event.Event, error)

	// Tools returns the tools this agent can execute.
	Tools() []tool.Tool

	// Info returns the basic information about this agent.
	Info() Info

	// SubAgents returns the sub-agents of this agent. The slice is empty
	// when the agent has none.
	SubAgents() []Agent

	// FindSubAgent returns the direct sub-agent with the given name, or
	// nil when absent.
	FindSubAgent(name string) Agent
}

// TransferPolicy is implemented by agents that restrict delegation.
// Agents that do not implement it are treated as fully transferable.
type TransferPolicy interface {
	// DisallowTransferToParent reports whether control may not be handed
	// back up the tree once this agent holds it.
	DisallowTransferToParent() bool
}

// ParentHolder is implemented by agents that record a back-reference to
// their parent. Composite agents set it on their sub-agents at
// construction; the reference is non-owning and the topology is fixed
// afterwards.
type ParentHolder interface {
	Parent() Agent
	SetParent(parent Agent)
}

// FindAgent searches the tree rooted at root, depth first, for the agent
// with the given name. The root itself is a candidate.
func FindAgent(root Agent, name string) Agent {
	if root == nil {
		return nil
	}
	if root.Info().Name == name {
		return root
	}
	for _, sub := range root.SubAgents() {
		if found := FindAgent(sub, name); found != nil {
			return found
		}
	}
	return nil
}

// FindAgentPath returns the chain of agents from root down to the agent
// with the given name, inclusive at both ends. It returns nil when the
// name is not in the tree.
func FindAgentPath(root Agent, name string) []Agent {
	if root == nil {
		return nil
	}
	if root.Info().Name == name {
		return []Agent{root}
	}
	for _, sub := range root.SubAgents() {
		if path := FindAgentPath(sub, name); path != nil {
			return append([]Agent{root}, path...)
		}
	}
	return nil
}
