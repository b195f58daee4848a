package agent

import (
	"context"
	"sync"

	"github.com/tomekpanek/agentkit/model"
)

// LiveRequest is one inbound item on the live duplex queue. Exactly one
// of Content, Blob, or Close is meaningful.
type LiveRequest struct {
	// Content is a complete user message.
	Content *model.Message
	// Blob is a raw media frame, such as an audio chunk.
	Blob []byte
	// MimeType describes Blob.
	MimeType string
	// Close signals end of input.
	Close bool
}

const liveQueueBuffer = 16

// LiveRequestQueue is the duplex input queue of a live run. The caller
// sends requests while consuming the output event stream; Close signals
// end of input and never errors the output stream.
type LiveRequestQueue struct {
	ch        chan *LiveRequest
	closeOnce sync.Once
}

// NewLiveRequestQueue creates a live request queue.
func NewLiveRequestQueue() *LiveRequestQueue {
	return &LiveRequestQueue{
		ch: make(chan *LiveRequest, liveQueueBuffer),
	}
}

// Send enqueues a request. It reports false when the context is done
// before the request is accepted.
func (q *LiveRequestQueue) Send(ctx context.Context, req *LiveRequest) bool {
	select {
	case q.ch <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

// SendContent enqueues a complete user message.
func (q *LiveRequestQueue) SendContent(ctx context.Context, msg model.Message) bool {
	return q.Send(ctx, &LiveRequest{Content: &msg})
}

// SendBlob enqueues a raw media frame.
func (q *LiveRequestQueue) SendBlob(ctx context.Context, mimeType string, data []byte) bool {
	return q.Send(ctx, &LiveRequest{Blob: data, MimeType: mimeType})
}

// Close signals end of input. Safe to call more than once.
func (q *LiveRequestQueue) Close() {
	q.closeOnce.Do(func() {
		select {
		case q.ch <- &LiveRequest{Close: true}:
		default:
		}
		close(q.ch)
	})
}

// Requests returns the receive side of the queue. The channel is closed
// after a Close request has been delivered.
func (q *LiveRequestQueue) Requests() <-chan *LiveRequest {
	return q.ch
}
