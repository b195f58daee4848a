package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/model"
)

func TestLiveRequestQueueDeliversInOrder(t *testing.T) {
	q := NewLiveRequestQueue()
	ctx := context.Background()

	require.True(t, q.SendContent(ctx, model.NewUserMessage("first")))
	require.True(t, q.SendBlob(ctx, "audio/pcm", []byte{1, 2, 3}))

	req := <-q.Requests()
	require.NotNil(t, req.Content)
	assert.Equal(t, "first", req.Content.Content)

	req = <-q.Requests()
	assert.Equal(t, []byte{1, 2, 3}, req.Blob)
	assert.Equal(t, "audio/pcm", req.MimeType)
}

func TestLiveRequestQueueClose(t *testing.T) {
	q := NewLiveRequestQueue()
	q.Close()

	// The close sentinel is delivered before the channel closes.
	req, ok := <-q.Requests()
	require.True(t, ok)
	assert.True(t, req.Close)

	_, ok = <-q.Requests()
	assert.False(t, ok)

	// Closing again must not panic.
	q.Close()
}

func TestLiveRequestQueueSendHonorsCancel(t *testing.T) {
	q := NewLiveRequestQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the buffer so Send has to block, then verify the canceled
	// context unblocks it.
	for i := 0; i < liveQueueBuffer; i++ {
		q.ch <- &LiveRequest{}
	}
	assert.False(t, q.SendContent(ctx, model.NewUserMessage("late")))
}
