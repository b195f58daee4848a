// Package transfer provides the built-in tool that hands the
// conversation to another agent.
package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/tool"
)

const (
	// ToolName is the declared name of the transfer tool.
	ToolName = "transfer_to_agent"

	fieldAgentName = "agent_name"
	fieldMessage   = "message"
)

// Request is the argument payload of a transfer call.
type Request struct {
	// AgentName is the target agent.
	AgentName string `json:"agent_name"`
	// Message is forwarded to the target agent (optional).
	Message string `json:"message,omitempty"`
}

// Response reports the outcome of a transfer call.
type Response struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	TargetAgent  string `json:"target_agent,omitempty"`
	TransferType string `json:"transfer_type"`
}

// Tool requests a hand-off by recording TransferInfo on the active
// invocation; the transfer response processor carries it out.
type Tool struct {
	availableAgents []agent.Info
}

// New creates a transfer tool over the given delegation candidates.
func New(agents []agent.Info) *Tool {
	return &Tool{availableAgents: agents}
}

func (t *Tool) findAgentInfo(name string) *agent.Info {
	for _, info := range t.availableAgents {
		if info.Name == name {
			return &info
		}
	}
	return nil
}

// Declaration implements tool.Tool.
func (t *Tool) Declaration() *tool.Declaration {
	agentNames := make([]string, len(t.availableAgents))
	descriptions := make([]string, 0, len(t.availableAgents))
	for i, info := range t.availableAgents {
		agentNames[i] = info.Name
		descriptions = append(descriptions, fmt.Sprintf("- %s: %s", info.Name, info.Description))
	}

	schema := &tool.Schema{
		Type: "object",
		Properties: map[string]*tool.Schema{
			fieldAgentName: {
				Type: "string",
				Description: fmt.Sprintf(
					"Name of the agent to transfer control to.\n\nAvailable agents:\n%s\n\nValid agent names: %v",
					strings.Join(descriptions, "\n"), agentNames),
			},
			fieldMessage: {
				Type:        "string",
				Description: "Optional message to pass to the target agent",
			},
		},
		Required: []string{fieldAgentName},
	}

	return &tool.Declaration{
		Name:        ToolName,
		Description: "Transfer control to another agent. This will hand over the conversation to the specified agent.",
		InputSchema: schema,
	}
}

// Call implements tool.CallableTool.
func (t *Tool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var req Request
	if err := json.Unmarshal(jsonArgs, &req); err != nil {
		return Response{
			Success:      false,
			Message:      fmt.Sprintf("Invalid request format: %v", err),
			TransferType: "error",
		}, nil
	}

	target := t.findAgentInfo(req.AgentName)
	if target == nil {
		names := make([]string, len(t.availableAgents))
		for i, info := range t.availableAgents {
			names[i] = info.Name
		}
		return Response{
			Success:      false,
			Message:      fmt.Sprintf("Agent '%s' not found. Available agents: %v", req.AgentName, names),
			TransferType: "error",
		}, nil
	}

	invocation, ok := agent.InvocationFromContext(ctx)
	if !ok || invocation == nil {
		return Response{
			Success:      false,
			Message:      "Transfer failed: no invocation context available",
			TransferType: "error",
		}, nil
	}

	invocation.TransferInfo = &agent.TransferInfo{
		TargetAgentName: target.Name,
		Message:         req.Message,
	}

	return Response{
		Success:      true,
		Message:      fmt.Sprintf("Transfer initiated to agent '%s'", req.AgentName),
		TargetAgent:  req.AgentName,
		TransferType: "agent_handoff",
	}, nil
}
