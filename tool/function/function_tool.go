// Package function wraps plain Go functions as callable tools.
package function

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tomekpanek/agentkit/tool"
)

// Func is the shape of a wrapped tool function.
type Func[I, O any] func(ctx context.Context, input I) (O, error)

// Tool adapts a typed function to the tool.CallableTool interface. Input
// and output schemas are derived from the Go types.
type Tool[I, O any] struct {
	name         string
	description  string
	fn           Func[I, O]
	longRunning  bool
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
}

// Option configures a function tool.
type Option func(*options)

type options struct {
	name        string
	description string
	longRunning bool
}

// WithName sets the tool name.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithDescription sets the tool description shown to the model.
func WithDescription(description string) Option {
	return func(o *options) {
		o.description = description
	}
}

// WithLongRunning marks the tool as long-running. Its call ids are
// tracked on events so the caller can follow up on completion.
func WithLongRunning(longRunning bool) Option {
	return func(o *options) {
		o.longRunning = longRunning
	}
}

// New creates a function tool from fn.
func New[I, O any](fn Func[I, O], opts ...Option) *Tool[I, O] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		emptyIn  I
		emptyOut O
	)
	return &Tool[I, O]{
		name:         o.name,
		description:  o.description,
		longRunning:  o.longRunning,
		fn:           fn,
		inputSchema:  schemaOf(emptyIn),
		outputSchema: schemaOf(emptyOut),
	}
}

// Call implements tool.CallableTool. The JSON arguments are unmarshalled
// into the input type before the wrapped function runs.
func (t *Tool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	var input I
	if len(jsonArgs) > 0 {
		if err := json.Unmarshal(jsonArgs, &input); err != nil {
			return nil, fmt.Errorf("unmarshal arguments for tool %s: %w", t.name, err)
		}
	}
	return t.fn(ctx, input)
}

// LongRunning implements tool.LongRunner.
func (t *Tool[I, O]) LongRunning() bool {
	return t.longRunning
}

// Declaration implements tool.Tool.
func (t *Tool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         t.name,
		Description:  t.description,
		InputSchema:  t.inputSchema,
		OutputSchema: t.outputSchema,
	}
}
