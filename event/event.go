// Package event provides the conversation event record shared by agents,
// the runner and the session log.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/tomekpanek/agentkit/model"
)

// Event is one immutable step of a conversation: a user turn, an agent
// reply, a tool call or a tool result. Events are created, appended to
// the session, and never mutated afterwards; a revision is a new event.
type Event struct {
	// Response carries the content payload and the partial/done flags.
	*model.Response

	// InvocationID groups every event produced by one runner call.
	InvocationID string `json:"invocationId"`

	// Author is the user marker, the root agent name or a sub-agent name.
	Author string `json:"author"`

	// ID is the unique identifier of the event.
	ID string `json:"id"`

	// Timestamp is when the event was created.
	Timestamp time.Time `json:"timestamp"`

	// Branch tags events emitted by concurrently running sub-agents so
	// each branch's history can be filtered hierarchically.
	Branch string `json:"branch,omitempty"`

	// StateDelta holds session state changes merged at append time.
	StateDelta map[string][]byte `json:"stateDelta,omitempty"`

	// Actions carries the side effects requested alongside the content.
	Actions *Actions `json:"actions,omitempty"`

	// LongRunningToolIDs is the set of ids of long running tool calls in
	// this event. Only meaningful on tool call events.
	LongRunningToolIDs map[string]struct{} `json:"longRunningToolIDs,omitempty"`

	// RequiresCompletion asks the session writer to signal the append
	// notice for this event's id once it has processed the event.
	RequiresCompletion bool `json:"requiresCompletion,omitempty"`
}

// Actions is the side-effect record attached to an event.
type Actions struct {
	// ArtifactDelta maps artifact names to the version written during
	// this step.
	ArtifactDelta map[string]int `json:"artifactDelta,omitempty"`

	// TransferToAgent names the agent that should handle the next turn.
	TransferToAgent string `json:"transferToAgent,omitempty"`

	// Escalate hands control back up the agent tree.
	Escalate bool `json:"escalate,omitempty"`

	// SkipSummarization marks a tool response as final for the turn.
	SkipSummarization bool `json:"skipSummarization,omitempty"`

	// RequestedAuthConfigs maps tool call ids to the auth configuration
	// the tool asked the caller to provide.
	RequestedAuthConfigs map[string]string `json:"requestedAuthConfigs,omitempty"`

	// RequestedToolConfirmations maps tool call ids to the confirmation
	// prompt a tool wants answered before it proceeds.
	RequestedToolConfirmations map[string]string `json:"requestedToolConfirmations,omitempty"`
}

// Clone creates a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Response = e.Response.Clone()
	if e.LongRunningToolIDs != nil {
		clone.LongRunningToolIDs = make(map[string]struct{}, len(e.LongRunningToolIDs))
		for k := range e.LongRunningToolIDs {
			clone.LongRunningToolIDs[k] = struct{}{}
		}
	}
	if e.StateDelta != nil {
		clone.StateDelta = make(map[string][]byte, len(e.StateDelta))
		for k, v := range e.StateDelta {
			clone.StateDelta[k] = append([]byte(nil), v...)
		}
	}
	if e.Actions != nil {
		actions := *e.Actions
		if e.Actions.ArtifactDelta != nil {
			actions.ArtifactDelta = make(map[string]int, len(e.Actions.ArtifactDelta))
			for k, v := range e.Actions.ArtifactDelta {
				actions.ArtifactDelta[k] = v
			}
		}
		if e.Actions.RequestedAuthConfigs != nil {
			actions.RequestedAuthConfigs = make(map[string]string, len(e.Actions.RequestedAuthConfigs))
			for k, v := range e.Actions.RequestedAuthConfigs {
				actions.RequestedAuthConfigs[k] = v
			}
		}
		if e.Actions.RequestedToolConfirmations != nil {
			actions.RequestedToolConfirmations = make(map[string]string, len(e.Actions.RequestedToolConfirmations))
			for k, v := range e.Actions.RequestedToolConfirmations {
				actions.RequestedToolConfirmations[k] = v
			}
		}
		clone.Actions = &actions
	}
	return &clone
}

// New creates an event with a generated id and the current timestamp.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		Response:     &model.Response{},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewResponseEvent creates an event wrapping a model response.
func NewResponseEvent(invocationID, author string, response *model.Response) *Event {
	return &Event{
		Response:     response,
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
}

// NewErrorEvent creates a terminal error event.
func NewErrorEvent(invocationID, author, errorType, errorMessage string) *Event {
	return &Event{
		Response: &model.Response{
			Object: model.ObjectTypeError,
			Done:   true,
			Error: &model.ResponseError{
				Type:    errorType,
				Message: errorMessage,
			},
		},
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		InvocationID: invocationID,
		Author:       author,
	}
}
