// Package loop implements the control loop that owns installer state.
//
// Module state, priority cells and signal emission are only touched from
// functions running on the loop. Other goroutines hand work to it with
// Post or Call.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey struct{}

var ErrStopped = errors.New("control loop stopped")

type Loop struct {
	mu        sync.Mutex
	queue     []func(context.Context)
	wake      chan struct{}
	afterEach []func()
	stopped   bool
	done      chan struct{}
}

func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// AfterEach registers fn to run after every processed message. Hooks run
// on the loop in registration order.
func (l *Loop) AfterEach(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.afterEach = append(l.afterEach, fn)
}

// Post queues fn without waiting for it. Messages run in the order they
// were posted.
func (l *Loop) Post(fn func()) {
	l.post(func(context.Context) { fn() })
}

func (l *Loop) post(fn func(context.Context)) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for its result. From inside a loop
// message (ctx derived from the message context) fn runs inline.
func (l *Loop) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if OnLoop(ctx, l) {
		return fn(ctx)
	}

	result := make(chan error, 1)
	ok := l.post(func(loopCtx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("panic on control loop: %v", r)
				panic(r)
			}
		}()
		result <- fn(loopCtx)
	})
	if !ok {
		return ErrStopped
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case err := <-result:
			return err
		default:
			return ErrStopped
		}
	}
}

// OnLoop reports whether ctx belongs to a message running on l.
func OnLoop(ctx context.Context, l *Loop) bool {
	owner, _ := ctx.Value(ctxKey{}).(*Loop)
	return owner == l
}

// Run processes messages until ctx is cancelled or Stop is called.
// Messages queued at that point are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	msgCtx := context.WithValue(ctx, ctxKey{}, l)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopped := l.stopped
		hooks := l.afterEach
		l.mu.Unlock()

		if stopped {
			return
		}

		for _, fn := range batch {
			l.dispatch(msgCtx, fn, hooks)
		}

		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) dispatch(ctx context.Context, fn func(context.Context), hooks []func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("recovered from panic in control loop message: %v", r)
		}
	}()
	fn(ctx)
	for _, hook := range hooks {
		hook()
	}
}

// Stop makes Run return after the message in progress.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
