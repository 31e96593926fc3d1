package orders

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/safar/rewear-store/internal/models"
)

const hookQueueSize = 256

// Hooks run after commit on a single background worker, in commit order, on a
// context detached from the request. They never affect the committed result
// and never hold up the response.

type hookQueue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan func()
	done   chan struct{}
}

func newHookQueue(size int) *hookQueue {
	q := &hookQueue{
		jobs: make(chan func(), size),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *hookQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		job()
	}
}

// submit blocks while the queue is full. It reports false once the queue is
// closed.
func (q *hookQueue) submit(job func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.jobs <- job
	return true
}

func (q *hookQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting hooks and waits for the queued ones to finish.
func (s *Service) Close(ctx context.Context) error {
	if s.hooks == nil {
		return nil
	}
	return s.hooks.close(ctx)
}

func (s *Service) enqueue(order *models.Order, job func()) {
	if !s.hooks.submit(job) {
		s.logger.Warn("hooks dropped after close", zap.String("order_id", order.ID))
	}
}

func (s *Service) afterCreate(ctx context.Context, order *models.Order) {
	if len(s.createdHooks) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	snap := snapshot(order)

	s.enqueue(snap, func() {
		hookCtx, cancel := context.WithTimeout(detached, s.hookTimeout)
		defer cancel()

		for _, h := range s.createdHooks {
			err := safeCall(func() error { return h.OnOrderCreated(hookCtx, snap.UserID, snap) })
			if err != nil {
				s.logger.Warn("order created hook failed",
					zap.String("order_id", snap.ID),
					zap.String("hook", fmt.Sprintf("%T", h)),
					zap.Error(err),
				)
			}
		}
	})
}

func (s *Service) afterStatusChange(ctx context.Context, order *models.Order, from models.OrderStatus) {
	if len(s.statusHooks) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	snap := snapshot(order)

	s.enqueue(snap, func() {
		hookCtx, cancel := context.WithTimeout(detached, s.hookTimeout)
		defer cancel()

		for _, h := range s.statusHooks {
			err := safeCall(func() error { return h.OnOrderStatusChanged(hookCtx, snap, from) })
			if err != nil {
				s.logger.Warn("order status hook failed",
					zap.String("order_id", snap.ID),
					zap.String("hook", fmt.Sprintf("%T", h)),
					zap.Error(err),
				)
			}
		}
	})
}

// snapshot copies the order so hooks never share it with the caller.
func snapshot(order *models.Order) *models.Order {
	cp := *order
	cp.Items = append([]models.OrderLineItem(nil), order.Items...)
	return &cp
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return fn()
}
