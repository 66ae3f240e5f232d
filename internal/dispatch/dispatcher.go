// Package dispatch раздаёт входящие сообщения по очередям чатов. Сообщения
// одного чата обрабатываются строго по порядку, разные чаты — параллельно.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"imagebot/internal/logging"
	"imagebot/internal/obfuscate"
	"imagebot/internal/session"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultIdleTimeout — через сколько простоя воркер чата завершается.
const DefaultIdleTimeout = time.Minute

var ErrClosed = errors.New("dispatch: dispatcher is closed")

type Handler interface {
	Handle(ctx context.Context, msg session.Message) error
	// Apologize сообщает пользователю о непредвиденной ошибке.
	Apologize(ctx context.Context, msg session.Message)
}

type worker struct {
	pending []session.Message
	wake    chan struct{}
}

type Dispatcher struct {
	handler Handler
	log     logrus.FieldLogger
	idle    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	workers map[int64]*worker
}

func New(h Handler, log logrus.FieldLogger, idle time.Duration) *Dispatcher {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler: h,
		log:     log,
		idle:    idle,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		workers: make(map[int64]*worker),
	}
}

// Submit ставит сообщение в очередь его чата.
func (d *Dispatcher) Submit(msg session.Message) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}

	w, ok := d.workers[msg.ChatID]
	if !ok {
		w = &worker{wake: make(chan struct{}, 1)}
		d.workers[msg.ChatID] = w
		d.wg.Add(1)
		go d.run(msg.ChatID, w)
	}
	w.pending = append(w.pending, msg)
	d.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Active — число чатов с живым воркером.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}

func (d *Dispatcher) run(chatID int64, w *worker) {
	defer d.wg.Done()

	timer := time.NewTimer(d.idle)
	defer timer.Stop()

	for {
		d.mu.Lock()
		if len(w.pending) > 0 {
			msg := w.pending[0]
			w.pending = w.pending[1:]
			d.mu.Unlock()

			d.process(msg)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(d.idle)
			continue
		}
		if d.closed {
			delete(d.workers, chatID)
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()

		select {
		case <-w.wake:
		case <-d.done:
		case <-timer.C:
			// воркер удаляется только с пустой очередью и под мьютексом,
			// так что Submit либо успел положить сообщение, либо создаст новый
			d.mu.Lock()
			if len(w.pending) == 0 {
				delete(d.workers, chatID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
			timer.Reset(d.idle)
		}
	}
}

func (d *Dispatcher) process(msg session.Message) {
	log := d.log.WithFields(logrus.Fields{
		"update_id": uuid.NewString(),
		"chat":      obfuscate.EncodeID(msg.ChatID),
	})
	ctx := logging.WithLogger(d.ctx, log)

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Паника при обработке сообщения")
			d.handler.Apologize(ctx, msg)
		}
	}()

	if err := d.handler.Handle(ctx, msg); err != nil {
		log.WithError(err).Error("Ошибка обработки сообщения")
		d.handler.Apologize(ctx, msg)
	}
}

// Close перестаёт принимать сообщения и ждёт, пока воркеры разберут
// очереди. Если ctx истёк раньше, обработка прерывается отменой контекста.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-finished
		return ctx.Err()
	}
}
