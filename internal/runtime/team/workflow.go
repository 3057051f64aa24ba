package team

import (
	"context"
	"fmt"
	"strings"
	"time"

	"iris/internal/logging"
	"iris/internal/notify"
	"iris/internal/runtime/agent"
	"iris/internal/runtime/dispatch"
	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
	"iris/internal/runtime/queue"
	"iris/internal/runtime/status"
	"iris/internal/runtime/worker"
)

// Activation selects how workflow steps advance.
type Activation string

const (
	// ActivationSystemDriven runs every step back to back once input
	// arrives.
	ActivationSystemDriven Activation = "system_driven"

	// ActivationManual runs one step per submitted message; each message
	// advances the sequence.
	ActivationManual Activation = "manual"
)

// StepDef is one workflow stage. Prompt builds the step's input from the
// workflow input and the previous step's output; a nil Prompt passes the
// previous output (or the workflow input for the first step) through.
type StepDef struct {
	Name   string
	Agent  *agent.Agent
	Prompt func(input, previous string) string
}

// WorkflowConfig assembles a workflow.
type WorkflowConfig struct {
	ID         string
	Activation Activation

	// StepTimeout bounds one step's execution; zero means no bound beyond
	// the caller's context.
	StepTimeout time.Duration

	PollInterval    time.Duration
	QueueCapacities map[event.QueueKind]int
}

// Workflow drives agents through an ordered task sequence on its own worker.
// Step agents' streams are multiplexed onto the workflow bus.
type Workflow struct {
	cfg    WorkflowConfig
	logger logging.Logger

	status   *status.Manager
	worker   *worker.Worker
	notifier *notify.Notifier
	mux      *notify.Multiplexer

	steps []StepDef

	// Worker-owned progression state.
	next     int
	input    string
	previous string
}

// NewWorkflow creates a workflow over ordered steps. Step agents must not be
// started yet.
func NewWorkflow(cfg WorkflowConfig, deps Deps, steps ...StepDef) (*Workflow, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow %s: at least one step is required", cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = "workflow"
	}
	if cfg.Activation == "" {
		cfg.Activation = ActivationSystemDriven
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Bus == nil {
		deps.Bus = notify.NewBus()
	}
	logger := logging.OrNop(deps.Logger)

	wf := &Workflow{
		cfg:    cfg,
		logger: logger,
		status: status.NewManager(logger),
		steps:  steps,
	}
	wf.notifier = notify.NewNotifier(cfg.ID, deps.Bus, deps.Clock)
	wf.mux = notify.NewMultiplexer(wf.notifier)

	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.Agent == nil {
			return nil, fmt.Errorf("workflow %s: step %s has no agent", cfg.ID, step.Name)
		}
		if !seen[step.Agent.ID()] {
			seen[step.Agent.ID()] = true
			wf.mux.Bridge(step.Agent.ID(), step.Agent.Bus())
		}
	}

	wf.status.SetNotify(func(from, to status.Status, lifecycle status.LifecycleEvent) {
		wf.notifier.StatusChanged(string(from), string(to), string(lifecycle))
	})

	registry := dispatch.NewRegistry()
	registry.Register(event.KindUserMessageReceived, wf.onUserMessage)
	registry.Register(event.KindAgentError, func(ctx context.Context, evt event.Event) error {
		e := evt.(event.AgentError)
		wf.notifier.Error(e.Phase, e.Err)
		return nil
	})

	dispatcher := dispatch.NewDispatcher(cfg.ID, registry, wf.status, logger, deps.Metrics)
	dispatcher.SetErrorSink(func(evt event.Event, err error) {
		if serr := wf.worker.Queues().TrySubmit(event.AgentError{Phase: string(evt.Kind()), Err: err}); serr != nil {
			logger.Error("workflow error submit failed: %v", serr)
		}
	})

	wf.worker = worker.New(worker.Config{
		EntityID:     cfg.ID,
		Logger:       logger,
		Status:       wf.status,
		Dispatcher:   dispatcher,
		PollInterval: cfg.PollInterval,
		QueueFactory: func() *queue.Manager {
			return queue.New(event.TeamQueuePriority(), cfg.QueueCapacities)
		},
		Bootstrap: []worker.Step{
			{Name: "start-step-agents", Run: func(ctx context.Context) error {
				for _, step := range steps {
					step.Agent.Start()
				}
				return nil
			}},
		},
		Shutdown: []worker.Step{
			{Name: "stop-step-agents", Run: wf.stopAgents},
			{Name: "teardown-bridges", Run: func(ctx context.Context) error {
				wf.mux.Teardown()
				return nil
			}},
		},
	})
	return wf, nil
}

// ID returns the workflow identifier.
func (w *Workflow) ID() string { return w.cfg.ID }

// Status returns the workflow's current status.
func (w *Workflow) Status() status.Status { return w.status.Current() }

// Bus returns the workflow's multiplexed stream bus.
func (w *Workflow) Bus() *notify.Bus { return w.notifier.Bus() }

// Start launches the workflow worker, which starts the step agents.
func (w *Workflow) Start() { w.worker.Start() }

// Stop requests orderly shutdown.
func (w *Workflow) Stop() { w.worker.Stop() }

// Done is closed once shutdown completed.
func (w *Workflow) Done() <-chan struct{} { return w.worker.Done() }

// Submit feeds input to the workflow. System-driven workflows run the whole
// sequence; manual workflows advance one step per call.
func (w *Workflow) Submit(ctx context.Context, content string) error {
	return w.worker.Submit(ctx, event.UserMessageReceived{Message: ports.Message{
		Role:    "user",
		Sender:  ports.SenderUser,
		Content: content,
	}})
}

func (w *Workflow) stopAgents(ctx context.Context) error {
	for _, step := range w.steps {
		step.Agent.Stop()
	}
	for _, step := range w.steps {
		select {
		case <-step.Agent.Done():
		case <-time.After(30 * time.Second):
			w.logger.Warn("step agent %s did not shut down in time", step.Agent.ID())
		}
	}
	return nil
}

func (w *Workflow) onUserMessage(ctx context.Context, evt event.Event) error {
	e := evt.(event.UserMessageReceived)

	if w.next >= len(w.steps) {
		w.next = 0
		w.previous = ""
	}
	if w.next == 0 {
		w.input = e.Message.Content
	}

	defer w.status.Transition(ctx, status.Idle, nil)

	switch w.cfg.Activation {
	case ActivationManual:
		return w.runStep(ctx, w.next)
	default:
		for w.next < len(w.steps) {
			if err := w.runStep(ctx, w.next); err != nil {
				return err
			}
		}
		return nil
	}
}

// runStep submits the step prompt to its agent and blocks until the agent
// returns to idle, collecting its streamed output as the step result.
func (w *Workflow) runStep(ctx context.Context, idx int) error {
	step := w.steps[idx]

	prompt := w.previous
	if prompt == "" {
		prompt = w.input
	}
	if step.Prompt != nil {
		prompt = step.Prompt(w.input, w.previous)
	}

	if w.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.StepTimeout)
		defer cancel()
	}

	w.logger.Info("workflow %s step %d (%s) on agent %s", w.cfg.ID, idx, step.Name, step.Agent.ID())

	sub := step.Agent.Bus().Subscribe(step.Agent.ID())
	defer step.Agent.Bus().Unsubscribe(sub)

	if err := step.Agent.SubmitUserMessage(ctx, prompt); err != nil {
		return fmt.Errorf("step %s: submit: %w", step.Name, err)
	}

	output, err := collectUntilIdle(ctx, sub)
	if err != nil {
		return fmt.Errorf("step %s: %w", step.Name, err)
	}
	w.previous = output
	w.next = idx + 1
	return nil
}

// collectUntilIdle accumulates assistant output until the observed agent
// settles back to idle after having been busy.
func collectUntilIdle(ctx context.Context, sub *notify.Stream) (string, error) {
	var out strings.Builder
	busy := false
	for {
		select {
		case <-ctx.Done():
			return out.String(), ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return out.String(), fmt.Errorf("agent stream closed")
			}
			switch ev.Kind {
			case notify.KindAssistantChunk:
				if delta, ok := ev.Payload["delta"].(string); ok {
					out.WriteString(delta)
				}
			case notify.KindStatusChanged:
				switch status.Status(ev.Status) {
				case status.Idle:
					if busy {
						return out.String(), nil
					}
				case status.Error, status.ShuttingDown, status.ShutdownComplete:
					return out.String(), fmt.Errorf("agent entered %s", ev.Status)
				default:
					busy = true
				}
			}
		}
	}
}
