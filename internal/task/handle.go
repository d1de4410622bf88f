package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/prometheus"
	"github.com/osbuild/installer-core/internal/signal"
)

type State int

const (
	StateCreated State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Progress is the latest progress report of a task.
type Progress struct {
	Step    int
	Message string
}

// Handle drives one task exactly once and publishes its lifecycle.
//
// Signals are emitted on the control loop when one is given, so handlers
// may touch installer state. Progress signals of one task are delivered in
// the order they were reported.
type Handle struct {
	task Task
	loop *loop.Loop

	mu       sync.Mutex
	state    State
	progress Progress
	result   interface{}
	err      *installerrors.Error
	cancel   context.CancelFunc
	done     chan struct{}

	Started         signal.Signal[struct{}]
	ProgressChanged signal.Signal[Progress]
	Succeeded       signal.Signal[interface{}]
	Failed          signal.Signal[error]
	Stopped         signal.Signal[struct{}]
}

func NewHandle(t Task, l *loop.Loop) *Handle {
	return &Handle{
		task: t,
		loop: l,
		done: make(chan struct{}),
	}
}

func (h *Handle) Task() Task {
	return h.task
}

func (h *Handle) Name() string {
	return h.task.Name()
}

func (h *Handle) Steps() int {
	return Steps(h.task)
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) IsRunning() bool {
	return h.State() == StateRunning
}

func (h *Handle) Progress() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Done is closed when the task reached a terminal state and its terminal
// signals were queued.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start runs the task on a new goroutine. A handle can only be started
// once.
func (h *Handle) Start(ctx context.Context) error {
	runCtx, err := h.begin(ctx)
	if err != nil {
		return err
	}
	go h.execute(runCtx, nil)
	return nil
}

// Run runs the task on the calling goroutine and returns its outcome.
func (h *Handle) Run(ctx context.Context) (interface{}, error) {
	runCtx, err := h.begin(ctx)
	if err != nil {
		return nil, err
	}
	h.execute(runCtx, nil)
	return h.Finish()
}

func (h *Handle) begin(ctx context.Context) (context.Context, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateCreated || h.cancel != nil {
		return nil, installerrors.State("task %q was already started", h.task.Name())
	}
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	return runCtx, nil
}

// execute runs the task. acquire, when given, runs first and may block
// until the task is allowed to start; the release func it returns is
// called once the task finished.
func (h *Handle) execute(ctx context.Context, acquire func(context.Context) (func(), error)) {
	if acquire != nil {
		release, err := acquire(ctx)
		if err != nil {
			h.finish(nil, err, true)
			return
		}
		defer release()
	}

	h.mu.Lock()
	h.state = StateRunning
	h.mu.Unlock()
	h.emit(func() { h.Started.Emit(struct{}{}) })

	logger := logrus.WithField("task", h.task.Name())
	logger.Debug("task started")
	started := time.Now()
	prometheus.StartTaskMetrics(h.task.Name())

	result, err := h.runTask(ctx)
	// a task that ignored the cancellation and completed counts as a success
	cancelled := err != nil && ctx.Err() != nil
	h.finish(result, err, cancelled)

	state := h.State()
	prometheus.FinishTaskMetrics(started, time.Now(), h.task.Name(), state.String())
	logger.WithField("state", state.String()).Debug("task finished")
}

func (h *Handle) runTask(ctx context.Context) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = installerrors.Installation("task %q crashed: %v", h.task.Name(), r)
		}
	}()
	return h.task.Run(ctx, &handleReporter{h: h})
}

func (h *Handle) finish(result interface{}, err error, cancelled bool) {
	h.mu.Lock()
	h.cancel()
	var emit func()
	if err == nil {
		h.state = StateSucceeded
		h.result = result
		emit = func() { h.Succeeded.Emit(result) }
	} else {
		classified := Classify(err)
		if cancelled && classified.Kind != installerrors.ErrorCancelled {
			classified = installerrors.Wrap(installerrors.ErrorCancelled, err, "task %q cancelled", h.task.Name())
		}
		h.state = StateFailed
		if classified.Kind == installerrors.ErrorCancelled {
			h.state = StateCancelled
		}
		h.err = classified
		emit = func() { h.Failed.Emit(classified) }
	}
	h.mu.Unlock()

	h.emit(func() {
		emit()
		h.Stopped.Emit(struct{}{})
	})
	close(h.done)
}

// Cancel requests cooperative cancellation. A task that was not started
// yet finishes as cancelled right away, one that already finished is left
// alone.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancel != nil {
		cancel := h.cancel
		h.mu.Unlock()
		cancel()
		return
	}
	h.cancel = func() {}
	h.mu.Unlock()
	h.finish(nil, context.Canceled, true)
}

// Wait blocks until the task finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case <-h.done:
		return h.Finish()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finish returns the outcome of a finished task. It is a NotReady error to
// call it earlier.
func (h *Handle) Finish() (interface{}, error) {
	select {
	case <-h.done:
	default:
		return nil, installerrors.NotReady("task %q is not finished", h.task.Name())
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	return h.result, nil
}

func (h *Handle) emit(fn func()) {
	if h.loop == nil {
		fn()
		return
	}
	h.loop.Post(fn)
}

func (h *Handle) report(step int, setStep bool, message string) {
	h.mu.Lock()
	if setStep {
		h.progress.Step = step
	}
	h.progress.Message = message
	p := h.progress
	h.mu.Unlock()

	logrus.WithField("task", h.task.Name()).Debug(message)
	h.emit(func() { h.ProgressChanged.Emit(p) })
}

type handleReporter struct {
	h *Handle
}

func (r *handleReporter) ReportProgress(message string) {
	r.h.report(0, false, message)
}

func (r *handleReporter) ReportStep(step int, message string) {
	r.h.report(step, true, message)
}

func (h *Handle) String() string {
	return fmt.Sprintf("task %q (%s)", h.task.Name(), h.State())
}
