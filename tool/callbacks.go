package tool

import "context"

// BeforeToolCallback runs before the tool executes. A non-nil result
// bypasses the tool; the callback may rewrite jsonArgs in place.
type BeforeToolCallback func(ctx context.Context, toolName string, declaration *Declaration, jsonArgs *[]byte) (any, error)

// AfterToolCallback runs after the tool executes. A non-nil result
// replaces the tool's result.
type AfterToolCallback func(ctx context.Context, toolName string, declaration *Declaration, jsonArgs []byte, result any, runErr error) (any, error)

// ErrorCallback runs when the tool fails. A non-nil result recovers the
// call with a substitute result.
type ErrorCallback func(ctx context.Context, toolName string, declaration *Declaration, jsonArgs []byte, runErr error) (any, error)

// Callbacks holds tool lifecycle callbacks. Callbacks run in
// registration order; the first non-nil result wins; an error aborts the
// dispatch immediately.
type Callbacks struct {
	BeforeTool  []BeforeToolCallback
	AfterTool   []AfterToolCallback
	OnToolError []ErrorCallback
}

// NewCallbacks creates an empty Callbacks.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeTool appends a before-tool callback.
func (c *Callbacks) RegisterBeforeTool(cb BeforeToolCallback) *Callbacks {
	c.BeforeTool = append(c.BeforeTool, cb)
	return c
}

// RegisterAfterTool appends an after-tool callback.
func (c *Callbacks) RegisterAfterTool(cb AfterToolCallback) *Callbacks {
	c.AfterTool = append(c.AfterTool, cb)
	return c
}

// RegisterOnToolError appends an on-tool-error callback.
func (c *Callbacks) RegisterOnToolError(cb ErrorCallback) *Callbacks {
	c.OnToolError = append(c.OnToolError, cb)
	return c
}

// RunBeforeTool runs the before-tool callbacks in order and returns the
// first non-nil result.
func (c *Callbacks) RunBeforeTool(ctx context.Context, toolName string, declaration *Declaration, jsonArgs *[]byte) (any, error) {
	for _, cb := range c.BeforeTool {
		result, err := cb(ctx, toolName, declaration, jsonArgs)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}

// RunAfterTool runs the after-tool callbacks in order and returns the
// first non-nil result.
func (c *Callbacks) RunAfterTool(ctx context.Context, toolName string, declaration *Declaration, jsonArgs []byte, result any, runErr error) (any, error) {
	for _, cb := range c.AfterTool {
		customResult, err := cb(ctx, toolName, declaration, jsonArgs, result, runErr)
		if err != nil {
			return nil, err
		}
		if customResult != nil {
			return customResult, nil
		}
	}
	return nil, nil
}

// RunOnToolError runs the on-tool-error callbacks in order and returns
// the first non-nil substitute result.
func (c *Callbacks) RunOnToolError(ctx context.Context, toolName string, declaration *Declaration, jsonArgs []byte, runErr error) (any, error) {
	for _, cb := range c.OnToolError {
		result, err := cb(ctx, toolName, declaration, jsonArgs, runErr)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
	}
	return nil, nil
}
