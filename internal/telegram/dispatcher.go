package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrQueueFull = errors.New("telegram dispatch queue is full")
	ErrStopped   = errors.New("telegram dispatcher is stopped")
)

// UpdateHandler processes one update
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u *Update) error
}

// Dispatcher runs updates on a fixed pool of workers. Updates are sharded by
// chat id so one conversation is always handled by the same worker, in order.
type Dispatcher struct {
	handler UpdateHandler
	queues  []chan *Update
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with workers queues of queueSize each
func NewDispatcher(handler UpdateHandler, workers, queueSize int, log zerolog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	queues := make([]chan *Update, workers)
	for i := range queues {
		queues[i] = make(chan *Update, queueSize)
	}
	return &Dispatcher{
		handler: handler,
		queues:  queues,
		timeout: 30 * time.Second,
		log:     log.With().Str("component", "telegram_dispatcher").Logger(),
	}
}

// Start launches the workers. ctx is the parent of every handler context.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, q := range d.queues {
		d.wg.Add(1)
		go d.worker(ctx, i, q)
	}
	d.log.Info().Int("workers", len(d.queues)).Msg("telegram dispatcher started")
}

// Enqueue hands u to its chat's worker without blocking
func (d *Dispatcher) Enqueue(u *Update) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}

	q := d.queues[d.shard(u.ChatID())]
	select {
	case q <- u:
		queueDepth.Inc()
		return nil
	default:
		updatesTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

func (d *Dispatcher) shard(chatID int64) int {
	return int(uint64(chatID) % uint64(len(d.queues)))
}

// Stop rejects new updates and waits for queued ones to drain or ctx to end
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info().Msg("telegram dispatcher drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram dispatcher drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int, q <-chan *Update) {
	defer d.wg.Done()
	for u := range q {
		queueDepth.Dec()
		d.process(ctx, id, u)
	}
}

// process runs the handler with a timeout; errors and panics are logged and counted
func (d *Dispatcher) process(parent context.Context, worker int, u *Update) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.timeout)
	defer cancel()

	log := d.log.With().Int("worker", worker).Int64("update_id", u.UpdateID).Int64("chat_id", u.ChatID()).Logger()

	defer func() {
		if r := recover(); r != nil {
			updatesTotal.WithLabelValues("panic").Inc()
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("telegram update handler panicked")
		}
	}()

	start := time.Now()
	if err := d.handler.HandleUpdate(ctx, u); err != nil {
		updatesTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("telegram update failed")
		return
	}
	updatesTotal.WithLabelValues("ok").Inc()
	log.Debug().Dur("duration", time.Since(start)).Msg("telegram update processed")
}
