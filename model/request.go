package model

import "github.com/tomekpanek/agentkit/tool"

// Role identifies the author of a message.
type Role string

// Roles used in conversation messages.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string form of the role.
func (r Role) String() string {
	return string(r)
}

// Message is a single conversation turn sent to or received from the
// backend.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolID      string       `json:"tool_id,omitempty"`      // set on tool result messages
	ToolName    string       `json:"tool_name,omitempty"`    // set on tool result messages
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`   // set when the model requests tool calls
	Attachments []Attachment `json:"attachments,omitempty"`  // inline or artifact-referenced binary parts
}

// Attachment is a binary part of a message. Inline data is off-loaded to
// the artifact service by the runner and replaced with a versioned
// reference before the message is persisted.
type Attachment struct {
	// Name is the attachment file name.
	Name string `json:"name"`
	// MimeType is the IANA media type of the data.
	MimeType string `json:"mimeType,omitempty"`
	// Data holds the raw bytes while the attachment is inline.
	Data []byte `json:"data,omitempty"`
	// ArtifactVersion is set once the data has been stored as an
	// artifact; Data is cleared at the same time.
	ArtifactVersion int `json:"artifactVersion,omitempty"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool result message for the given call id.
func NewToolMessage(toolID, toolName, content string) Message {
	return Message{Role: RoleTool, ToolID: toolID, ToolName: toolName, Content: content}
}

// GenerationConfig carries the generation parameters for one request.
type GenerationConfig struct {
	// MaxTokens caps the number of generated tokens.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// Stream requests a streamed response.
	Stream bool `json:"stream"`

	// Stop sequences end generation early.
	Stop []string `json:"stop,omitempty"`
}

// Request is one call to the reasoning backend.
type Request struct {
	// Messages is the conversation history, oldest first.
	Messages []Message `json:"messages"`

	GenerationConfig `json:",inline"`

	// Tools available to the model for this call, keyed by name. Not
	// serialized; declarations are extracted by the backend adapter.
	Tools map[string]tool.Tool `json:"-"`
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	// Type of the tool. Only "function" is used today.
	Type string `json:"type"`
	// Function names the tool and carries its JSON-encoded arguments.
	Function FunctionCall `json:"function,omitempty"`
	// ID is the backend-assigned id of this call.
	ID string `json:"id,omitempty"`
	// Index orders tool call deltas in streaming responses.
	Index *int `json:"index,omitempty"`
}

// FunctionCall names the invoked function and its arguments.
type FunctionCall struct {
	Name string `json:"name"`
	// Arguments are JSON-encoded.
	Arguments []byte `json:"arguments,omitempty"`
}
