// Package model defines the reasoning backend contract and its
// request/response shapes.
package model

import "context"

// Model is the interface to a reasoning backend.
//
// Two error layers apply. Function-level errors mean the call could not
// be made at all (nil request, transport failure) and no channel is
// produced. Response-level errors (Response.Error) arrive through the
// channel after communication succeeded and describe API failures such
// as rate limits or content filtering.
type Model interface {
	// GenerateContent sends the request and streams back responses. The
	// channel is closed when generation completes; cancelling ctx tears
	// down the in-flight call.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// LiveModel is implemented by backends that support a persistent duplex
// connection in addition to single-shot generation.
type LiveModel interface {
	Model

	// Connect opens a duplex channel seeded with the request. The caller
	// owns the connection and must Close it.
	Connect(ctx context.Context, request *Request) (Connection, error)
}

// Connection is a live duplex exchange with a reasoning backend.
type Connection interface {
	// Send pushes an incremental request onto the open connection.
	Send(ctx context.Context, message Message) error

	// Receive blocks for the next response. It returns io.EOF when the
	// backend closes the connection.
	Receive(ctx context.Context) (*Response, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}
