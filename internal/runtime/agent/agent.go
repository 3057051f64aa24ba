// Package agent assembles the per-agent runtime: context, status manager,
// input queues, worker loop, event handlers, and the external notifier.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"iris/internal/logging"
	"iris/internal/notify"
	"iris/internal/observability"
	"iris/internal/runtime/dispatch"
	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
	"iris/internal/runtime/queue"
	"iris/internal/runtime/status"
	"iris/internal/runtime/worker"
	"iris/internal/segment"
)

// Config captures an agent's static configuration.
type Config struct {
	ID               string
	AutoExecuteTools bool
	ParserMode       segment.Mode
	ExtraTags        []string

	// MaxTurns caps LLM round trips per user task; 0 means the default.
	MaxTurns int

	QueueCapacities map[event.QueueKind]int
	PollInterval    time.Duration
}

// DefaultMaxTurns bounds runaway tool loops.
const DefaultMaxTurns = 24

// Workspace prepares and flushes the agent's working context around its
// lifetime.
type Workspace interface {
	Prepare(ctx context.Context) error
	Flush(ctx context.Context) error
}

// Deps are the collaborators an agent consumes. LLM, Memory, and Tools are
// treated as per-entity resources unless their implementations document
// thread safety.
type Deps struct {
	LLM    ports.LLMClient
	Memory ports.Memory
	Tools  ports.ToolRegistry
	Bus    *notify.Bus

	Logger  logging.Logger
	Clock   ports.Clock
	Metrics *observability.Metrics

	Syntax           *segment.SyntaxRegistry
	Workspace        Workspace
	Preprocessors    []ports.ToolPreprocessor
	ResultProcessors []ports.ToolResultProcessor

	// SystemPromptProcessors run during bootstrap; any failure aborts
	// startup.
	SystemPromptProcessors []func(ctx context.Context) error

	// OnDeregister is invoked by the shutdown orchestrator so a parent
	// (team or workflow) can drop its reference to this agent.
	OnDeregister func(agentID string)
}

// Agent is one runnable agent entity. All mutable state is owned by the
// worker loop.
type Agent struct {
	cfg    Config
	deps   Deps
	logger logging.Logger
	clock  ports.Clock

	status   *status.Manager
	worker   *worker.Worker
	notifier *notify.Notifier

	// Worker-owned runtime state.
	pending map[string]event.ToolInvocation
	turn    *turnState
	turns   int
}

// New wires an agent from config and dependencies.
func New(cfg Config, deps Deps) (*Agent, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("agent %s: LLM client is required", cfg.ID)
	}
	if deps.Memory == nil {
		return nil, fmt.Errorf("agent %s: memory is required", cfg.ID)
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("agent %s: tool registry is required", cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = "agent-" + uuid.NewString()[:8]
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.ParserMode == "" {
		cfg.ParserMode = segment.ModeXML
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Bus == nil {
		deps.Bus = notify.NewBus()
	}
	if deps.Syntax == nil {
		deps.Syntax = segment.NewSyntaxRegistry()
	}

	logger := logging.OrNop(deps.Logger)
	a := &Agent{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		clock:   deps.Clock,
		status:  status.NewManager(logger),
		pending: make(map[string]event.ToolInvocation),
	}
	a.notifier = notify.NewNotifier(cfg.ID, deps.Bus, deps.Clock)
	if deps.Metrics != nil {
		deps.Bus.OnDrop(func(entityID string) {
			deps.Metrics.StreamDropped.WithLabelValues(entityID).Inc()
		})
	}

	a.status.SetNotify(func(from, to status.Status, lifecycle status.LifecycleEvent) {
		a.notifier.StatusChanged(string(from), string(to), string(lifecycle))
	})
	a.status.AddProcessor(status.ProcessorFunc{
		On: status.LifecycleBeforeLLMCall,
		Fn: a.checkCompaction,
	})

	registry := dispatch.NewRegistry()
	a.registerHandlers(registry)

	dispatcher := dispatch.NewDispatcher(cfg.ID, registry, a.status, logger, deps.Metrics)
	dispatcher.SetErrorSink(func(evt event.Event, err error) {
		a.submitInternal(event.AgentError{Phase: string(evt.Kind()), Err: err})
	})

	a.worker = worker.New(worker.Config{
		EntityID:     cfg.ID,
		Logger:       logger,
		Status:       a.status,
		Dispatcher:   dispatcher,
		PollInterval: cfg.PollInterval,
		QueueFactory: func() *queue.Manager {
			opts := []queue.Option{}
			if deps.Metrics != nil {
				opts = append(opts, queue.WithDepthObserver(func(kind event.QueueKind, depth int) {
					deps.Metrics.QueueDepth.WithLabelValues(cfg.ID, string(kind)).Set(float64(depth))
				}))
			}
			return queue.New(event.AgentQueuePriority(), cfg.QueueCapacities, opts...)
		},
		Bootstrap: a.bootstrapSteps(),
		Shutdown:  a.shutdownSteps(),
	})

	return a, nil
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.cfg.ID }

// Status returns the agent's current status.
func (a *Agent) Status() status.Status { return a.status.Current() }

// StatusManager exposes the status manager for hook registration before
// Start.
func (a *Agent) StatusManager() *status.Manager { return a.status }

// Bus returns the agent's stream bus.
func (a *Agent) Bus() *notify.Bus { return a.deps.Bus }

// Start launches the agent worker.
func (a *Agent) Start() { a.worker.Start() }

// Stop requests orderly shutdown.
func (a *Agent) Stop() { a.worker.Stop() }

// Done is closed once shutdown completed.
func (a *Agent) Done() <-chan struct{} { return a.worker.Done() }

// SubmitUserMessage enqueues a user message from outside the worker.
func (a *Agent) SubmitUserMessage(ctx context.Context, content string) error {
	return a.worker.Submit(ctx, event.UserMessageReceived{Message: ports.Message{
		Role:    "user",
		Sender:  ports.SenderUser,
		Content: content,
	}})
}

// SubmitInterAgentMessage enqueues a message routed from a sibling agent.
func (a *Agent) SubmitInterAgentMessage(ctx context.Context, from, content string) error {
	return a.worker.Submit(ctx, event.InterAgentMessage{
		From: from,
		To:   a.cfg.ID,
		Message: ports.Message{
			Role:    "user",
			Sender:  ports.SenderAgent,
			Content: content,
			Metadata: map[string]any{
				"from_agent": from,
			},
		},
	})
}

// SubmitApproval enqueues the user's decision for a pending invocation.
func (a *Agent) SubmitApproval(ctx context.Context, invocationID string, approved bool, reason string) error {
	return a.worker.Submit(ctx, event.ToolExecutionApproval{
		InvocationID: invocationID,
		Approved:     approved,
		Reason:       reason,
	})
}

// submitInternal enqueues from within handler code without blocking the
// loop; failures are logged, never raised.
func (a *Agent) submitInternal(evt event.Event) {
	if err := a.worker.Queues().TrySubmit(evt); err != nil {
		a.logger.Error("internal submit of %s failed: %v", evt.Kind(), err)
	}
}

func (a *Agent) bootstrapSteps() []worker.Step {
	steps := []worker.Step{
		{Name: "workspace", Run: func(ctx context.Context) error {
			if a.deps.Workspace == nil {
				return nil
			}
			return a.deps.Workspace.Prepare(ctx)
		}},
		{Name: "tool-warmup", Run: func(ctx context.Context) error {
			// Touching the listing forces lazy tool providers (MCP
			// and friends) to connect before the first turn.
			_ = a.deps.Tools.List()
			return nil
		}},
	}
	for i, proc := range a.deps.SystemPromptProcessors {
		proc := proc
		steps = append(steps, worker.Step{
			Name: fmt.Sprintf("system-prompt-%d", i),
			Run:  proc,
		})
	}
	return steps
}

func (a *Agent) shutdownSteps() []worker.Step {
	return []worker.Step{
		{Name: "tool-cleanup", Run: func(ctx context.Context) error {
			return a.deps.Tools.Cleanup(ctx)
		}},
		{Name: "workspace-flush", Run: func(ctx context.Context) error {
			if a.deps.Workspace == nil {
				return nil
			}
			return a.deps.Workspace.Flush(ctx)
		}},
		{Name: "deregister", Run: func(ctx context.Context) error {
			if a.deps.OnDeregister != nil {
				a.deps.OnDeregister(a.cfg.ID)
			}
			return nil
		}},
	}
}

// checkCompaction runs before every LLM call; the memory engine performs the
// actual compaction, the runtime only observes the flag.
func (a *Agent) checkCompaction(ctx context.Context, data map[string]any) error {
	if a.deps.Memory.CompactionNeeded() {
		a.logger.Info("transcript compaction pending before next LLM call")
	}
	return nil
}
