// Package supervisor runs the node's long-lived tasks (sumeragi, p2p,
// blocksync, the listener) under one errgroup.Group and one shutdown
// signal: any task returning (including a panic recovered into an error)
// trips the signal for every other task.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// OnShutdownPolicy controls how a task is expected to wind down once the
// shared signal trips.
type OnShutdownPolicy interface {
	isOnShutdownPolicy()
}

// Immediate means the task must return as soon as its context is
// cancelled; Group.Wait will not wait any extra time for it.
type immediatePolicy struct{}

func (immediatePolicy) isOnShutdownPolicy() {}

// Immediate is the zero-grace-period shutdown policy.
var Immediate OnShutdownPolicy = immediatePolicy{}

// waitPolicy records a grace period d for a task. Group stores the policy
// with the task record only: it does not time the task after
// cancellation, does not abort it, and does not track or report a task
// that overruns d.
type waitPolicy struct{ d time.Duration }

func (waitPolicy) isOnShutdownPolicy() {}

// Wait grants a task d after shutdown to finish in-flight work (e.g.
// flushing a Kura fsync or finishing an in-progress block application).
// Group.Wait blocks until the task returns, however long that takes.
func Wait(d time.Duration) OnShutdownPolicy { return waitPolicy{d: d} }

type taskRecord struct {
	name   string
	policy OnShutdownPolicy
}

// Group supervises a fixed set of named tasks sharing one cancellation
// signal.
type Group struct {
	log    *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
	tasks  []taskRecord
}

// New creates a Group derived from parent; cancelling parent (or calling
// Shutdown) trips the shared signal for every registered task. A nil log
// entry disables logging (tests).
func New(parent context.Context, log *logrus.Entry) *Group {
	if log == nil {
		quiet := logrus.New()
		quiet.SetOutput(io.Discard)
		log = logrus.NewEntry(quiet)
	}
	ctx, cancel := context.WithCancel(parent)
	eg, egCtx := errgroup.WithContext(ctx)
	return &Group{log: log, ctx: egCtx, cancel: cancel, eg: eg}
}

// Supervise registers fn to run under the group's context. fn must return
// promptly once the context passed to it is cancelled; policy documents
// (for operators and tests, not enforced by the runtime) how much grace
// period it is expected to need.
func (g *Group) Supervise(name string, fn func(ctx context.Context) error, policy OnShutdownPolicy) {
	g.tasks = append(g.tasks, taskRecord{name: name, policy: policy})
	g.log.WithField("task", name).Info("supervisor: task started")
	g.eg.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("supervisor: task %q panicked: %v", name, r)
				g.log.WithField("task", name).Error(err.Error())
			}
		}()
		runErr := fn(g.ctx)
		if runErr != nil && runErr != context.Canceled {
			g.log.WithError(runErr).WithField("task", name).Warn("supervisor: task exited")
			return fmt.Errorf("supervisor: task %q: %w", name, runErr)
		}
		g.log.WithField("task", name).Info("supervisor: task finished")
		if runErr != nil {
			return fmt.Errorf("supervisor: task %q: %w", name, runErr)
		}
		// errgroup only cancels on a non-nil error; a clean return must
		// trip the shared signal too.
		g.cancel()
		return nil
	})
}

// Shutdown trips the shared cancellation signal without waiting for tasks
// to finish; call Wait afterward to block until they do.
func (g *Group) Shutdown() {
	g.cancel()
}

// Wait blocks until every supervised task has returned, then returns the
// first non-nil error among them (errgroup.Group's usual "first error
// wins" semantics).
func (g *Group) Wait() error {
	return g.eg.Wait()
}

// Context returns the group's shared context; a task that wants to observe
// shutdown without being itself supervised (e.g. an RPC handler checking
// whether it should stop accepting requests) reads Done() from here.
func (g *Group) Context() context.Context {
	return g.ctx
}
