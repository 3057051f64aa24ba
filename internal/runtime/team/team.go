// Package team composes agents into cooperating groups: a Team routes user
// input to a coordinator and relays inter-agent messages, a Workflow drives
// agents through an ordered task sequence.
package team

import (
	"context"
	"fmt"
	"sync"
	"time"

	"iris/internal/logging"
	"iris/internal/notify"
	"iris/internal/observability"
	"iris/internal/runtime/agent"
	"iris/internal/runtime/dispatch"
	"iris/internal/runtime/event"
	"iris/internal/runtime/ports"
	"iris/internal/runtime/queue"
	"iris/internal/runtime/status"
	"iris/internal/runtime/worker"
)

// Config assembles a team.
type Config struct {
	ID string

	// Coordinator is the member that receives the team's user input. It
	// must name one of the members.
	Coordinator string

	PollInterval    time.Duration
	QueueCapacities map[event.QueueKind]int
}

// Deps are the team's collaborators.
type Deps struct {
	Logger  logging.Logger
	Clock   ports.Clock
	Metrics *observability.Metrics
	Bus     *notify.Bus
}

// Team is a runnable group of agents with its own worker, status, and
// outward stream. Member streams are multiplexed onto the team bus.
type Team struct {
	cfg    Config
	logger logging.Logger

	status   *status.Manager
	worker   *worker.Worker
	notifier *notify.Notifier
	mux      *notify.Multiplexer

	mu      sync.RWMutex
	members map[string]*agent.Agent
}

// New creates a team over the given members. Member agents must not be
// started yet; the team wires their deregistration callback and bridges
// their buses before Start launches everything.
func New(cfg Config, deps Deps, members ...*agent.Agent) (*Team, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("team %s: at least one member is required", cfg.ID)
	}
	if cfg.ID == "" {
		cfg.ID = "team"
	}
	if deps.Clock == nil {
		deps.Clock = ports.SystemClock{}
	}
	if deps.Bus == nil {
		deps.Bus = notify.NewBus()
	}
	logger := logging.OrNop(deps.Logger)

	t := &Team{
		cfg:     cfg,
		logger:  logger,
		status:  status.NewManager(logger),
		members: make(map[string]*agent.Agent, len(members)),
	}
	t.notifier = notify.NewNotifier(cfg.ID, deps.Bus, deps.Clock)
	t.mux = notify.NewMultiplexer(t.notifier)

	for _, member := range members {
		if _, dup := t.members[member.ID()]; dup {
			return nil, fmt.Errorf("team %s: duplicate member id %s", cfg.ID, member.ID())
		}
		t.members[member.ID()] = member
		t.mux.Bridge(member.ID(), member.Bus())
	}
	if cfg.Coordinator == "" {
		cfg.Coordinator = members[0].ID()
		t.cfg.Coordinator = cfg.Coordinator
	}
	if _, ok := t.members[cfg.Coordinator]; !ok {
		return nil, fmt.Errorf("team %s: coordinator %s is not a member", cfg.ID, cfg.Coordinator)
	}

	t.status.SetNotify(func(from, to status.Status, lifecycle status.LifecycleEvent) {
		t.notifier.StatusChanged(string(from), string(to), string(lifecycle))
	})

	registry := dispatch.NewRegistry()
	registry.Register(event.KindUserMessageReceived, t.onUserMessage)
	registry.Register(event.KindInternalSystem, t.onInternalSystem)
	registry.Register(event.KindAgentReady, func(ctx context.Context, evt event.Event) error {
		t.logger.Info("team %s ready with %d members", cfg.ID, len(members))
		return nil
	})
	registry.Register(event.KindAgentError, func(ctx context.Context, evt event.Event) error {
		e := evt.(event.AgentError)
		t.notifier.Error(e.Phase, e.Err)
		return nil
	})

	dispatcher := dispatch.NewDispatcher(cfg.ID, registry, t.status, logger, deps.Metrics)
	dispatcher.SetErrorSink(func(evt event.Event, err error) {
		if serr := t.worker.Queues().TrySubmit(event.AgentError{Phase: string(evt.Kind()), Err: err}); serr != nil {
			logger.Error("team error submit failed: %v", serr)
		}
	})

	t.worker = worker.New(worker.Config{
		EntityID:     cfg.ID,
		Logger:       logger,
		Status:       t.status,
		Dispatcher:   dispatcher,
		PollInterval: cfg.PollInterval,
		QueueFactory: func() *queue.Manager {
			return queue.New(event.TeamQueuePriority(), cfg.QueueCapacities)
		},
		Bootstrap: []worker.Step{
			{Name: "start-members", Run: t.startMembers},
		},
		Shutdown: []worker.Step{
			{Name: "stop-members", Run: t.stopMembers},
			{Name: "teardown-bridges", Run: func(ctx context.Context) error {
				t.mux.Teardown()
				return nil
			}},
		},
	})
	return t, nil
}

// ID returns the team identifier.
func (t *Team) ID() string { return t.cfg.ID }

// Status returns the team's current status.
func (t *Team) Status() status.Status { return t.status.Current() }

// Bus returns the team's multiplexed stream bus.
func (t *Team) Bus() *notify.Bus { return t.notifier.Bus() }

// Members returns the ids of the current members.
func (t *Team) Members() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.members))
	for id := range t.members {
		ids = append(ids, id)
	}
	return ids
}

// Start launches the team worker, which starts every member during bootstrap.
func (t *Team) Start() { t.worker.Start() }

// Stop requests orderly shutdown of the team and its members.
func (t *Team) Stop() { t.worker.Stop() }

// Done is closed once the team and all members have shut down.
func (t *Team) Done() <-chan struct{} { return t.worker.Done() }

// SubmitUserMessage enqueues user input; the team routes it to the
// coordinator.
func (t *Team) SubmitUserMessage(ctx context.Context, content string) error {
	return t.worker.Submit(ctx, event.UserMessageReceived{Message: ports.Message{
		Role:    "user",
		Sender:  ports.SenderUser,
		Content: content,
	}})
}

// Route delivers a message from one member to another. It satisfies the
// router contract of the send_message_to tool and is safe to call from
// member workers.
func (t *Team) Route(ctx context.Context, from, to, message string) error {
	t.mu.RLock()
	target, ok := t.members[to]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no agent %q in team %s", to, t.cfg.ID)
	}
	return target.SubmitInterAgentMessage(ctx, from, message)
}

// Deregister drops a member after it shut down. Wire it as the member's
// OnDeregister callback; the removal itself happens on the team worker.
func (t *Team) Deregister(agentID string) {
	if err := t.worker.Queues().TrySubmit(event.InternalSystem{
		Op:   "deregister_member",
		Data: map[string]any{"agent_id": agentID},
	}); err != nil {
		t.logger.Warn("deregister submit for %s failed: %v", agentID, err)
	}
}

func (t *Team) startMembers(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, member := range t.members {
		member.Start()
	}
	return nil
}

func (t *Team) stopMembers(ctx context.Context) error {
	t.mu.RLock()
	members := make([]*agent.Agent, 0, len(t.members))
	for _, member := range t.members {
		members = append(members, member)
	}
	t.mu.RUnlock()

	for _, member := range members {
		member.Stop()
	}
	for _, member := range members {
		select {
		case <-member.Done():
		case <-time.After(30 * time.Second):
			t.logger.Warn("member %s did not shut down in time", member.ID())
		}
	}
	return nil
}

func (t *Team) onUserMessage(ctx context.Context, evt event.Event) error {
	e := evt.(event.UserMessageReceived)

	t.mu.RLock()
	coordinator, ok := t.members[t.cfg.Coordinator]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("coordinator %s left team %s", t.cfg.Coordinator, t.cfg.ID)
	}
	if err := coordinator.SubmitUserMessage(ctx, e.Message.Content); err != nil {
		return fmt.Errorf("route to coordinator: %w", err)
	}
	t.status.Transition(ctx, status.Idle, nil)
	return nil
}

func (t *Team) onInternalSystem(ctx context.Context, evt event.Event) error {
	e := evt.(event.InternalSystem)
	switch e.Op {
	case "deregister_member":
		id, _ := e.Data["agent_id"].(string)
		t.mu.Lock()
		delete(t.members, id)
		t.mu.Unlock()
		t.logger.Info("member %s deregistered", id)
	default:
		t.logger.Debug("internal op %s", e.Op)
	}
	return nil
}
