package telegram

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	seen  map[int64][]int64
	block chan struct{}
	fail  func(u *Update) error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[int64][]int64)}
}

func (h *recordingHandler) HandleUpdate(_ context.Context, u *Update) error {
	if h.block != nil {
		<-h.block
	}
	if h.fail != nil {
		if err := h.fail(u); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[u.ChatID()] = append(h.seen[u.ChatID()], u.UpdateID)
	return nil
}

func msgUpdate(chat, id int64) *Update {
	return &Update{UpdateID: id, Message: &Message{Chat: Chat{ID: chat}}}
}

func TestDispatcher_PerChatOrdering(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, 4, 64, zerolog.Nop())
	d.Start(context.Background())

	for id := int64(1); id <= 20; id++ {
		for chat := int64(1); chat <= 3; chat++ {
			require.NoError(t, d.Enqueue(msgUpdate(chat, id)))
		}
	}
	require.NoError(t, d.Stop(context.Background()))

	for chat := int64(1); chat <= 3; chat++ {
		got := h.seen[chat]
		require.Len(t, got, 20)
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1], got[i])
		}
	}
}

func TestDispatcher_QueueFull(t *testing.T) {
	h := newRecordingHandler()
	h.block = make(chan struct{})
	d := NewDispatcher(h, 1, 1, zerolog.Nop())
	d.Start(context.Background())

	require.NoError(t, d.Enqueue(msgUpdate(1, 1)))
	// the worker may or may not have taken the first one yet
	var err error
	for i := int64(2); i < 5 && err == nil; i++ {
		err = d.Enqueue(msgUpdate(1, i))
	}
	assert.ErrorIs(t, err, ErrQueueFull)

	close(h.block)
	require.NoError(t, d.Stop(context.Background()))
	assert.ErrorIs(t, d.Enqueue(msgUpdate(1, 9)), ErrStopped)
}

func TestDispatcher_NegativeChatIDs(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, 3, 8, zerolog.Nop())
	for _, chat := range []int64{math.MinInt64, -1001234567890, -1, 0, math.MaxInt64} {
		idx := d.shard(chat)
		assert.GreaterOrEqual(t, idx, 0, "chat %d", chat)
		assert.Less(t, idx, 3, "chat %d", chat)
	}

	d.Start(context.Background())
	require.NoError(t, d.Enqueue(msgUpdate(math.MinInt64, 1)))
	require.NoError(t, d.Enqueue(msgUpdate(-1001234567890, 2)))
	require.NoError(t, d.Stop(context.Background()))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []int64{1}, h.seen[math.MinInt64])
	assert.Equal(t, []int64{2}, h.seen[-1001234567890])
}

type panicHandler struct{ calls int }

func (p *panicHandler) HandleUpdate(context.Context, *Update) error {
	p.calls++
	if p.calls == 1 {
		panic("boom")
	}
	return nil
}

func TestDispatcher_SurvivesPanicsAndErrors(t *testing.T) {
	p := &panicHandler{}
	d := NewDispatcher(p, 1, 8, zerolog.Nop())
	d.Start(context.Background())

	require.NoError(t, d.Enqueue(msgUpdate(1, 1)))
	require.NoError(t, d.Enqueue(msgUpdate(1, 2)))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 2, p.calls)

	h := newRecordingHandler()
	h.fail = func(u *Update) error {
		if u.UpdateID == 1 {
			return errors.New("send failed")
		}
		return nil
	}
	d = NewDispatcher(h, 1, 8, zerolog.Nop())
	d.Start(context.Background())
	require.NoError(t, d.Enqueue(msgUpdate(1, 1)))
	require.NoError(t, d.Enqueue(msgUpdate(1, 2)))
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, []int64{2}, h.seen[1])
}

func TestDispatcher_StopHonoursDeadline(t *testing.T) {
	h := newRecordingHandler()
	h.block = make(chan struct{})
	defer close(h.block)
	d := NewDispatcher(h, 1, 4, zerolog.Nop())
	d.Start(context.Background())
	require.NoError(t, d.Enqueue(msgUpdate(1, 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
}
