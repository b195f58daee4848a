package tool

import (
	"io"
	"time"
)

// Stream is a buffered unidirectional chunk pipe with separate reader and
// writer handles. Closing the reader side unblocks any in-flight sends;
// closing the writer side makes the reader observe io.EOF.
type Stream struct {
	Reader *StreamReader
	Writer *StreamWriter
}

// NewStream creates a stream whose writer can queue up to bufferSize
// chunks before blocking.
func NewStream(bufferSize int) *Stream {
	s := newStream[Chunk](bufferSize)
	return &Stream{
		Reader: &StreamReader{s: s},
		Writer: &StreamWriter{s: s},
	}
}

// Chunk is a single unit of streamed tool data.
type Chunk struct {
	// Content holds the actual payload. All chunks of one stream should
	// carry the same content type.
	Content  any           `json:"content"`
	Metadata ChunkMetadata `json:"metadata,omitempty"`
}

// ChunkMetadata carries per-chunk context.
type ChunkMetadata struct {
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// StreamReader consumes chunks from a stream.
type StreamReader struct {
	s *stream[Chunk]
}

// Recv blocks until the next chunk is available. It returns io.EOF once
// the writer side has been closed and the buffer is drained.
func (r *StreamReader) Recv() (Chunk, error) {
	return r.s.recv()
}

// Close abandons the reading side. Subsequent writer sends report the
// stream as closed instead of blocking.
func (r *StreamReader) Close() {
	r.s.closeRecv()
}

// StreamWriter produces chunks into a stream.
type StreamWriter struct {
	s *stream[Chunk]
}

// Send queues a chunk, or an error to be surfaced to the reader. It
// reports closed=true when the reader has gone away.
func (w *StreamWriter) Send(chunk Chunk, err error) (closed bool) {
	return w.s.send(chunk, err)
}

// Close ends the stream; the reader sees io.EOF after draining.
func (w *StreamWriter) Close() {
	w.s.closeSend()
}

type streamItem[T any] struct {
	chunk T
	err   error
}

type stream[T any] struct {
	items  chan streamItem[T]
	closed chan struct{}
}

func newStream[T any](capacity int) *stream[T] {
	return &stream[T]{
		items:  make(chan streamItem[T], capacity),
		closed: make(chan struct{}),
	}
}

func (s *stream[T]) recv() (chunk T, err error) {
	item, ok := <-s.items
	if !ok {
		item.err = io.EOF
	}
	return item.chunk, item.err
}

func (s *stream[T]) send(chunk T, err error) (closed bool) {
	select {
	case <-s.closed:
		return true
	default:
	}
	select {
	case <-s.closed:
		return true
	case s.items <- streamItem[T]{chunk, err}:
		return false
	}
}

func (s *stream[T]) closeSend() {
	close(s.items)
}

func (s *stream[T]) closeRecv() {
	close(s.closed)
}
