package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// appendNoticeKeyPrefix namespaces the notice keys used for the
// event-append handshake between a flow and the runner.
const appendNoticeKeyPrefix = "append-event:"

// ErrNoticeTimeout is returned by AddNoticeChannelAndWait when the wait
// deadline elapses before the notice arrives.
var ErrNoticeTimeout = errors.New("notice wait timed out")

// AppendNoticeKey returns the notice key signaled once the event with the
// given id has been handled by the session writer.
func AppendNoticeKey(eventID string) string {
	return appendNoticeKeyPrefix + eventID
}

// noticeHub tracks one-shot completion channels. It is shared by an
// invocation and every branch invocation derived from it.
type noticeHub struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func (h *noticeHub) channel(key string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.chans[key]; ok {
		return ch
	}
	ch := make(chan struct{})
	h.chans[key] = ch
	return ch
}

func (h *noticeHub) notify(key string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.chans[key]
	if !ok {
		return fmt.Errorf("no notice channel registered for key %q", key)
	}
	close(ch)
	delete(h.chans, key)
	return nil
}

func (h *noticeHub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, ch := range h.chans {
		close(ch)
		delete(h.chans, key)
	}
}

func (inv *Invocation) hub() *noticeHub {
	if inv == nil {
		return nil
	}
	inv.noticeOnce.Do(func() {
		if inv.notices == nil {
			inv.notices = &noticeHub{chans: make(map[string]chan struct{})}
		}
	})
	return inv.notices
}

// AddNoticeChannel registers the notice channel for key, or returns the
// already registered one. The channel is closed exactly once, by
// NotifyCompletion or CleanupNotices. Returns nil on a nil invocation.
func (inv *Invocation) AddNoticeChannel(key string) <-chan struct{} {
	h := inv.hub()
	if h == nil {
		return nil
	}
	return h.channel(key)
}

// AddNoticeChannelAndWait registers the notice channel for key and blocks
// until it is signaled, the context ends, or the timeout elapses. Register
// before publishing the work that triggers the notice, otherwise the signal
// can be lost.
func (inv *Invocation) AddNoticeChannelAndWait(ctx context.Context, key string, timeout time.Duration) error {
	ch := inv.AddNoticeChannel(key)
	if ch == nil {
		return errors.New("invocation is nil")
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrNoticeTimeout, key)
	}
}

// NotifyCompletion signals and removes the notice channel for key. It is an
// error to notify a key nobody registered.
func (inv *Invocation) NotifyCompletion(key string) error {
	h := inv.hub()
	if h == nil {
		return errors.New("invocation is nil")
	}
	return h.notify(key)
}

// CleanupNotices releases every waiter still registered. Call it when the
// event stream ends so flows blocked on a handshake do not wait out their
// timeout.
func (inv *Invocation) CleanupNotices() {
	if h := inv.hub(); h != nil {
		h.cleanup()
	}
}
