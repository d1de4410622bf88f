// Package orchestrator runs the installation: it collects the tasks of the
// modules in the declared order, runs them one at a time and records the
// outcome of the run.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/jsondb"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/prometheus"
	"github.com/osbuild/installer-core/internal/signal"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/telemetry"
)

const lastRunDocument = "last-run"

// Progress of a run. Step counts the finished steps of all tasks.
type Progress struct {
	Step    int
	Total   int
	Task    string
	Message string
}

// RunStatus records one installation run.
type RunStatus struct {
	ID        string          `json:"id"`
	State     common.RunState `json:"state"`
	Task      string          `json:"task,omitempty"`
	Step      int             `json:"step"`
	Steps     int             `json:"steps"`
	Warnings  []string        `json:"warnings,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorName string          `json:"error_name,omitempty"`
	Started   time.Time       `json:"started"`
	Finished  time.Time       `json:"finished,omitempty"`
}

func (s RunStatus) clone() RunStatus {
	s.Warnings = append([]string(nil), s.Warnings...)
	return s
}

// CollectTasks asks the modules for their installation tasks following
// order. Names in order without a module are skipped. It must run on the
// control loop.
func CollectTasks(modules map[string]module.Module, order []string) []task.Task {
	var tasks []task.Task
	for _, name := range order {
		m, ok := modules[strings.ToLower(name)]
		if !ok {
			logrus.Debugf("no module %s, skipping its tasks", name)
			continue
		}
		ts := m.InstallWithTasks()
		logrus.Debugf("module %s has %d installation tasks", m.Name(), len(ts))
		tasks = append(tasks, ts...)
	}
	return tasks
}

type Orchestrator struct {
	loop          *loop.Loop
	sink          telemetry.Sink
	db            *jsondb.JSONDatabase
	cancelTimeout time.Duration

	mu         sync.Mutex
	status     *RunStatus
	cancelCh   chan struct{}
	cancelOnce *sync.Once
	done       chan struct{}

	// progress coalescing, touched on the loop only
	limiter        *rate.Limiter
	pending        *Progress
	flushScheduled bool

	// ProgressChanged and StatusChanged are emitted on the control loop.
	ProgressChanged signal.Signal[Progress]
	StatusChanged   signal.Signal[RunStatus]
}

// New returns an orchestrator. The status of the previous run is read
// from db, which may be nil.
func New(l *loop.Loop, sink telemetry.Sink, db *jsondb.JSONDatabase, conf bootconf.OrchestratorConfig) *Orchestrator {
	if sink == nil {
		sink = telemetry.Multi{}
	}
	o := &Orchestrator{
		loop:          l,
		sink:          sink,
		db:            db,
		cancelTimeout: conf.CancelTimeout,
		limiter:       rate.NewLimiter(rate.Every(conf.ProgressInterval), 1),
	}
	o.loadLastRun()
	return o
}

func (o *Orchestrator) loadLastRun() {
	if o.db == nil {
		return
	}
	var last RunStatus
	exists, err := o.db.Read(lastRunDocument, &last)
	if err != nil {
		logrus.Warnf("cannot read the last installation run: %v", err)
		return
	}
	if !exists {
		return
	}
	if last.State == common.RunRunning {
		last.State = common.RunFailed
		last.Error = "the installer stopped during the run"
	}
	o.status = &last
}

// Status returns the current or the last run. Without any run the state
// is IDLE.
func (o *Orchestrator) Status() RunStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == nil {
		return RunStatus{State: common.RunIdle}
	}
	return o.status.clone()
}

// Start runs tasks in the background. Only one run can be active.
func (o *Orchestrator) Start(tasks []task.Task) (RunStatus, error) {
	total := 0
	for _, t := range tasks {
		total += task.Steps(t)
	}

	o.mu.Lock()
	if o.status != nil && o.status.State == common.RunRunning {
		o.mu.Unlock()
		return RunStatus{}, installerrors.State("an installation is already running")
	}
	o.status = &RunStatus{
		ID:      uuid.NewString(),
		State:   common.RunRunning,
		Steps:   total,
		Started: time.Now(),
	}
	o.cancelCh = make(chan struct{})
	o.cancelOnce = &sync.Once{}
	o.done = make(chan struct{})
	status := o.status.clone()
	cancelCh, done := o.cancelCh, o.done
	o.mu.Unlock()

	logger := logrus.WithField("run", status.ID)
	logger.Infof("starting the installation with %d tasks and %d steps", len(tasks), total)
	o.sink.Event(telemetry.Started, "installation started")
	o.record(status)

	go o.run(tasks, cancelCh, done, logger)
	return status, nil
}

// Cancel asks the running installation to stop. The running task is
// cancelled and no further task is started.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status == nil || o.status.State != common.RunRunning {
		return installerrors.State("no installation is running")
	}
	o.cancelOnce.Do(func() {
		logrus.WithField("run", o.status.ID).Info("cancelling the installation")
		close(o.cancelCh)
	})
	return nil
}

// Wait blocks until the current run finished and returns its status.
func (o *Orchestrator) Wait(ctx context.Context) (RunStatus, error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done == nil {
		return o.Status(), nil
	}
	select {
	case <-done:
		return o.Status(), nil
	case <-ctx.Done():
		return RunStatus{}, ctx.Err()
	}
}

func cancelled(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) run(tasks []task.Task, cancelCh chan struct{}, done chan struct{}, logger *logrus.Entry) {
	defer close(done)

	var warnings *multierror.Error
	var failure error
	aborted := false
	total := o.Status().Steps
	offset := 0

	for _, t := range tasks {
		if !aborted && failure == nil && cancelled(cancelCh) {
			logger.Infof("cancelled before %s", t.Name())
			aborted = true
		}
		if aborted || failure != nil {
			if task.IsTeardown(t) {
				o.runTeardown(t, logger)
			}
			continue
		}

		steps := task.Steps(t)
		stuck, err := o.runTask(t, offset, total, cancelCh)
		switch {
		case stuck:
			failure = installerrors.Installation("task %q did not stop within %s", t.Name(), o.cancelTimeout)
		case err == nil:
			offset += steps
		case installerrors.Is(err, installerrors.ErrorCancelled):
			aborted = true
		case !task.IsFatal(err):
			logger.Warnf("%s: %v", t.Name(), err)
			warnings = multierror.Append(warnings, err)
			offset += steps
		default:
			logger.Errorf("%s failed: %v", t.Name(), err)
			failure = err
		}
		if err == nil && !stuck && cancelled(cancelCh) {
			aborted = true
		}
	}

	o.finish(offset, warnings, failure, aborted, logger)
}

// runTask runs t and waits for it. stuck is true when t did not stop
// within the cancel timeout after a cancellation.
func (o *Orchestrator) runTask(t task.Task, offset, total int, cancelCh chan struct{}) (stuck bool, err error) {
	o.mu.Lock()
	o.status.Task = t.Name()
	o.mu.Unlock()

	h := task.NewHandle(t, o.loop)
	h.Started.Connect(func(struct{}) {
		o.progress(Progress{Step: offset, Total: total, Task: t.Name(), Message: t.Name()})
	})
	h.ProgressChanged.Connect(func(p task.Progress) {
		o.progress(Progress{Step: offset + p.Step, Total: total, Task: t.Name(), Message: p.Message})
	})
	if err := h.Start(context.Background()); err != nil {
		return false, err
	}

	select {
	case <-h.Done():
	case <-cancelCh:
		h.Cancel()
		timer := time.NewTimer(o.cancelTimeout)
		defer timer.Stop()
		select {
		case <-h.Done():
		case <-timer.C:
			return true, nil
		}
	}
	_, err = h.Finish()
	return false, err
}

func (o *Orchestrator) runTeardown(t task.Task, logger *logrus.Entry) {
	logger.Infof("running %s after the installation stopped", t.Name())
	if _, err := task.NewHandle(t, o.loop).Run(context.Background()); err != nil {
		logger.Warnf("%s: %v", t.Name(), err)
	}
}

func (o *Orchestrator) finish(step int, warnings *multierror.Error, failure error, aborted bool, logger *logrus.Entry) {
	o.mu.Lock()
	st := o.status
	st.Finished = time.Now()
	st.Task = ""
	if warnings != nil {
		for _, w := range warnings.Errors {
			st.Warnings = append(st.Warnings, w.Error())
		}
	}
	switch {
	case failure != nil:
		st.State = common.RunFailed
		st.Error = failure.Error()
		st.ErrorName = installerrors.KindOf(failure).BusName()
		st.Step = step
	case aborted:
		st.State = common.RunAborted
		st.Step = step
	default:
		st.State = common.RunSucceeded
		st.Step = st.Steps
	}
	status := st.clone()
	o.mu.Unlock()

	switch status.State {
	case common.RunFailed:
		o.sink.Event(telemetry.Failed, status.Error)
	case common.RunAborted:
		o.sink.Event(telemetry.Aborted, "installation cancelled")
	default:
		o.sink.Event(telemetry.Finished, "installation finished")
	}
	if len(status.Warnings) > 0 {
		logger.Warnf("installation finished with %d warnings", len(status.Warnings))
	}
	logger.Infof("installation %s", strings.ToLower(status.State.String()))

	final := Progress{Step: status.Step, Total: status.Steps, Message: "Installation " + strings.ToLower(status.State.String())}
	o.loop.Post(func() {
		o.flushProgress()
		o.ProgressChanged.Emit(final)
	})
	o.record(status)
}

// record persists status and announces it.
func (o *Orchestrator) record(status RunStatus) {
	prometheus.SetRunState(status.State.String(), common.RunStates())
	if o.db != nil {
		if err := o.db.Write(lastRunDocument, status); err != nil {
			logrus.Warnf("cannot store the installation run: %v", err)
		}
	}
	o.loop.Post(func() { o.StatusChanged.Emit(status) })
}

// progress coalesces progress reports: at most one is emitted per
// interval, the latest one wins.
func (o *Orchestrator) progress(p Progress) {
	o.mu.Lock()
	if o.status != nil {
		o.status.Step = p.Step
	}
	o.mu.Unlock()

	o.pending = &p
	if o.limiter.Allow() {
		o.flushProgress()
		return
	}
	if o.flushScheduled {
		return
	}
	o.flushScheduled = true
	delay := o.limiter.Reserve().Delay()
	time.AfterFunc(delay, func() {
		o.loop.Post(func() {
			o.flushScheduled = false
			o.flushProgress()
		})
	})
}

func (o *Orchestrator) flushProgress() {
	if o.pending == nil {
		return
	}
	p := *o.pending
	o.pending = nil
	o.ProgressChanged.Emit(p)
}
