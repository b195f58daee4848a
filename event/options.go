package event

import "github.com/tomekpanek/agentkit/model"

// Option configures an Event at construction time.
type Option func(*Event)

// WithBranch sets the branch tag.
func WithBranch(branch string) Option {
	return func(e *Event) {
		e.Branch = branch
	}
}

// WithResponse sets the content payload.
func WithResponse(response *model.Response) Option {
	return func(e *Event) {
		e.Response = response
	}
}

// WithObject sets the object type on the payload.
func WithObject(object string) Option {
	return func(e *Event) {
		e.Object = object
	}
}

// WithStateDelta sets the session state delta.
func WithStateDelta(stateDelta map[string][]byte) Option {
	return func(e *Event) {
		e.StateDelta = stateDelta
	}
}

// WithActions sets the side-effect record.
func WithActions(actions *Actions) Option {
	return func(e *Event) {
		e.Actions = actions
	}
}
