// Package tool provides tool interfaces and declarations for the agent system.
package tool

import (
	"context"
)

// Tool is the minimal interface every tool implements.
type Tool interface {
	// Declaration returns the metadata describing the tool.
	Declaration() *Declaration
}

// CallableTool is a tool that can be invoked once with JSON arguments.
type CallableTool interface {
	// Call invokes the tool and returns its result, which must be
	// JSON-serializable.
	Call(ctx context.Context, jsonArgs []byte) (any, error)

	Tool
}

// StreamableTool is a tool that produces its results progressively.
type StreamableTool interface {
	// StreamableCall starts the tool and returns a reader for consuming
	// the streamed results.
	StreamableCall(ctx context.Context, jsonArgs []byte) (*StreamReader, error)

	Tool
}

// LiveTool is a tool that consumes a continuous input stream while it
// runs. In live mode the runner pre-registers a dedicated input queue for
// every LiveTool exposed by the active agent, so the tool can read live
// input independently of the main duplex channel.
type LiveTool interface {
	// LiveCall starts the tool with a live input stream and returns a
	// reader for the streamed results.
	LiveCall(ctx context.Context, jsonArgs []byte, input *StreamReader) (*StreamReader, error)

	Tool
}

// LongRunner is implemented by tools whose execution outlives the current
// model turn. Their call ids are surfaced on events so callers can track
// completion separately.
type LongRunner interface {
	LongRunning() bool
}

// Declaration describes a tool's name, purpose and argument schema.
type Declaration struct {
	// Name is the unique identifier of the tool.
	Name string `json:"name"`

	// Description explains the tool's purpose to the model.
	Description string `json:"description"`

	// InputSchema defines the expected input in JSON schema form.
	InputSchema *Schema `json:"inputSchema"`

	// OutputSchema defines the produced output in JSON schema form.
	OutputSchema *Schema `json:"outputSchema,omitempty"`
}

// Schema is the subset of JSON Schema used for tool declarations.
type Schema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    []string `json:"required,omitempty"`
	// Properties of object types, each with its own schema.
	Properties map[string]*Schema `json:"properties,omitempty"`
	// Items is the element schema for array types.
	Items *Schema `json:"items,omitempty"`
	// AdditionalProperties controls whether undeclared properties are allowed.
	AdditionalProperties any `json:"additionalProperties,omitempty"`
}
