package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"retail-assistant/internal/transport"
)

const (
	queueCapacity = 64
	workerIdle    = 5 * time.Minute
)

// EventHandler обрабатывает одно входящее событие.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev transport.Event)
}

// Dispatcher раздаёт события по очередям пользователей: события одного
// пользователя обрабатываются строго по порядку поступления, события разных
// пользователей — параллельно. Простаивающие очереди освобождаются.
type Dispatcher struct {
	ctx     context.Context
	handler EventHandler
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[int64]chan transport.Event
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDispatcher создаёт диспетчер. Контекст ctx передаётся обработчикам
// событий и ограничивает их время жизни.
func NewDispatcher(ctx context.Context, handler EventHandler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		ctx:     ctx,
		handler: handler,
		logger:  logger,
		queues:  make(map[int64]chan transport.Event),
		done:    make(chan struct{}),
	}
}

// Enqueue ставит событие в очередь пользователя. Переполненная очередь
// отбрасывает событие: порядок обработки важнее полноты.
func (d *Dispatcher) Enqueue(ev transport.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.logger.Warn("event dropped on shutdown", zap.Int64("identity", ev.Identity))
		return
	}

	ch, ok := d.queues[ev.Identity]
	if !ok {
		ch = make(chan transport.Event, queueCapacity)
		d.queues[ev.Identity] = ch
		d.wg.Add(1)
		go d.worker(ev.Identity, ch)
	}

	select {
	case ch <- ev:
	default:
		d.logger.Warn("event queue overflow",
			zap.Int64("identity", ev.Identity), zap.Int64("updateID", ev.UpdateID))
	}
}

// worker обрабатывает очередь одного пользователя и завершается после
// простоя либо при остановке диспетчера.
func (d *Dispatcher) worker(identity int64, ch chan transport.Event) {
	defer d.wg.Done()

	for {
		select {
		case ev := <-ch:
			d.handler.HandleEvent(d.ctx, ev)
		case <-time.After(workerIdle):
			d.mu.Lock()
			if len(ch) == 0 {
				delete(d.queues, identity)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		case <-d.done:
			d.drain(identity, ch)
			return
		}
	}
}

// drain дорабатывает уже принятые события перед остановкой.
func (d *Dispatcher) drain(identity int64, ch chan transport.Event) {
	for {
		select {
		case ev := <-ch:
			d.handler.HandleEvent(d.ctx, ev)
		default:
			d.mu.Lock()
			delete(d.queues, identity)
			d.mu.Unlock()
			return
		}
	}
}

// Shutdown останавливает приём событий и дожидается, пока очереди
// доработают принятое, либо истечёт контекст.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	close(d.done)

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
