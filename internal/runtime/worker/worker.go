// Package worker owns the per-entity event loop: bootstrap, the main pump,
// and the shutdown orchestrator.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"iris/internal/logging"
	"iris/internal/runtime/dispatch"
	"iris/internal/runtime/event"
	"iris/internal/runtime/queue"
	"iris/internal/runtime/status"
)

// DefaultPollInterval bounds each queue wait so the stop signal is observed
// promptly.
const DefaultPollInterval = 100 * time.Millisecond

// Step is one named bootstrap or shutdown action.
type Step struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config assembles a worker.
type Config struct {
	EntityID     string
	Logger       logging.Logger
	Status       *status.Manager
	Dispatcher   *dispatch.Dispatcher
	PollInterval time.Duration

	// QueueFactory creates the entity's input queue set. It is invoked
	// inside the worker loop during bootstrap so the queues bind to this
	// worker.
	QueueFactory func() *queue.Manager

	// Bootstrap runs in order after the queues exist; the first failure
	// aborts startup, transitions to ERROR, and triggers shutdown.
	Bootstrap []Step

	// Shutdown runs in order exactly once after the loop exits.
	Shutdown []Step
}

// Worker hosts one entity's cooperative scheduler. All entity state is
// touched only from the loop goroutine.
type Worker struct {
	cfg    Config
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queues      *queue.Manager
	queuesReady chan struct{}

	stopFlag     chan struct{}
	done         chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once
	shutdownOnce sync.Once
}

// New creates a worker; Start launches the loop.
func New(cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:         cfg,
		logger:      logging.OrNop(cfg.Logger),
		ctx:         ctx,
		cancel:      cancel,
		queuesReady: make(chan struct{}),
		stopFlag:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Context returns the worker's root context. It is cancelled on Stop so
// in-flight I/O started by handlers aborts with the loop.
func (w *Worker) Context() context.Context { return w.ctx }

// Start launches the worker loop. It is idempotent.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		go w.run()
	})
}

// Queues returns the input queue set, blocking until bootstrap created it.
func (w *Worker) Queues() *queue.Manager {
	<-w.queuesReady
	return w.queues
}

// Submit enqueues an event from outside the worker, waiting for the queues
// to exist first.
func (w *Worker) Submit(ctx context.Context, evt event.Event) error {
	select {
	case <-w.queuesReady:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.done:
		return queue.ErrClosed
	}
	return w.queues.Submit(ctx, evt)
}

// Stop requests orderly shutdown: the stop flag is raised and an
// AgentStopped event is enqueued so the loop drains through the normal
// dispatch path.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopFlag)
		select {
		case <-w.queuesReady:
			if err := w.queues.TrySubmit(event.AgentStopped{}); err != nil {
				w.logger.Debug("stop submit skipped: %v", err)
			}
		default:
		}
	})
}

// Done is closed when the loop and the shutdown orchestrator finished.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) stopped() bool {
	select {
	case <-w.stopFlag:
		return true
	default:
		return false
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.cancel()

	if err := w.bootstrap(); err != nil {
		w.logger.Error("bootstrap failed: %v", err)
		w.cfg.Status.Transition(w.ctx, status.Error, map[string]any{"error": err.Error()})
		w.runShutdown()
		return
	}

	if err := w.queues.TrySubmit(event.AgentReady{}); err != nil {
		w.logger.Warn("could not enqueue ready event: %v", err)
	}

	w.pump()
	w.runShutdown()
}

// bootstrap creates the queue set inside the loop, then runs the ordered
// startup steps.
func (w *Worker) bootstrap() error {
	w.cfg.Status.Transition(w.ctx, status.Bootstrapping, nil)

	w.queues = w.cfg.QueueFactory()
	close(w.queuesReady)

	for _, step := range w.cfg.Bootstrap {
		w.logger.Debug("bootstrap step %s", step.Name)
		if err := step.Run(w.ctx); err != nil {
			return fmt.Errorf("bootstrap step %s: %w", step.Name, err)
		}
	}
	return nil
}

// pump is the main loop: dequeue, dispatch, yield, until stop or a terminal
// status.
func (w *Worker) pump() {
	for {
		evt, err := w.queues.Next(w.cfg.PollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrTimeout) {
				if w.stopped() {
					return
				}
				continue
			}
			w.logger.Error("queue wait failed: %v", err)
			return
		}

		w.cfg.Dispatcher.Dispatch(w.ctx, evt)

		switch w.cfg.Status.Current() {
		case status.ShuttingDown, status.ShutdownComplete:
			return
		case status.Error:
			// Terminal by default; a recovery hook may have already
			// promoted the status back, in which case we keep going.
			return
		}
	}
}

// runShutdown executes the shutdown orchestrator exactly once: cleanup
// steps, queue close, and the final status walk.
func (w *Worker) runShutdown() {
	w.shutdownOnce.Do(func() {
		ctx := context.Background()
		if w.cfg.Status.Current() != status.ShuttingDown {
			w.cfg.Status.Transition(ctx, status.ShuttingDown, nil)
		}
		for _, step := range w.cfg.Shutdown {
			w.logger.Debug("shutdown step %s", step.Name)
			if err := step.Run(ctx); err != nil {
				w.logger.Warn("shutdown step %s failed: %v", step.Name, err)
			}
		}
		if w.queues != nil {
			w.queues.Close()
		}
		w.cfg.Status.Transition(ctx, status.ShutdownComplete, nil)
	})
}
