package model

import "context"

// BeforeModelCallback runs before the model call. A non-nil response
// bypasses the model entirely.
type BeforeModelCallback func(ctx context.Context, req *Request) (*Response, error)

// AfterModelCallback runs after the model call. A non-nil response
// replaces the model's response.
type AfterModelCallback func(ctx context.Context, rsp *Response, modelErr error) (*Response, error)

// ErrorCallback runs when the model call fails. A non-nil response
// recovers the call with a substitute result.
type ErrorCallback func(ctx context.Context, req *Request, modelErr error) (*Response, error)

// Callbacks holds model lifecycle callbacks. Callbacks run in
// registration order; the first non-nil response wins; an error aborts
// the dispatch immediately.
type Callbacks struct {
	BeforeModel  []BeforeModelCallback
	AfterModel   []AfterModelCallback
	OnModelError []ErrorCallback
}

// NewCallbacks creates an empty Callbacks.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeModel appends a before-model callback.
func (c *Callbacks) RegisterBeforeModel(cb BeforeModelCallback) *Callbacks {
	c.BeforeModel = append(c.BeforeModel, cb)
	return c
}

// RegisterAfterModel appends an after-model callback.
func (c *Callbacks) RegisterAfterModel(cb AfterModelCallback) *Callbacks {
	c.AfterModel = append(c.AfterModel, cb)
	return c
}

// RegisterOnModelError appends an on-model-error callback.
func (c *Callbacks) RegisterOnModelError(cb ErrorCallback) *Callbacks {
	c.OnModelError = append(c.OnModelError, cb)
	return c
}

// RunBeforeModel runs the before-model callbacks in order and returns
// the first non-nil response.
func (c *Callbacks) RunBeforeModel(ctx context.Context, req *Request) (*Response, error) {
	for _, cb := range c.BeforeModel {
		rsp, err := cb(ctx, req)
		if err != nil {
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}
	}
	return nil, nil
}

// RunAfterModel runs the after-model callbacks in order and returns the
// first non-nil response.
func (c *Callbacks) RunAfterModel(ctx context.Context, rsp *Response, modelErr error) (*Response, error) {
	for _, cb := range c.AfterModel {
		customRsp, err := cb(ctx, rsp, modelErr)
		if err != nil {
			return nil, err
		}
		if customRsp != nil {
			return customRsp, nil
		}
	}
	return nil, nil
}

// RunOnModelError runs the on-model-error callbacks in order and returns
// the first non-nil substitute response.
func (c *Callbacks) RunOnModelError(ctx context.Context, req *Request, modelErr error) (*Response, error) {
	for _, cb := range c.OnModelError {
		rsp, err := cb(ctx, req, modelErr)
		if err != nil {
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}
	}
	return nil, nil
}
