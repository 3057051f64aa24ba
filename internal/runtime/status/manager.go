package status

import (
	"context"
	"fmt"

	"iris/internal/logging"
)

// Hook runs at a specific (source, target) transition boundary. Execution is
// blocking: the worker waits for every matching hook before the transition
// is observable externally.
type Hook interface {
	SourceStatus() Status
	TargetStatus() Status
	Execute(ctx context.Context, data map[string]any) error
}

// Processor runs when a transition projects onto its lifecycle event.
type Processor interface {
	Event() LifecycleEvent
	Process(ctx context.Context, data map[string]any) error
}

// Notify receives the external status-changed signal, after hooks and
// processors have completed.
type Notify func(from, to Status, lifecycle LifecycleEvent)

// HookFunc adapts a function to Hook.
type HookFunc struct {
	Source Status
	Target Status
	Fn     func(ctx context.Context, data map[string]any) error
}

func (h HookFunc) SourceStatus() Status { return h.Source }
func (h HookFunc) TargetStatus() Status { return h.Target }
func (h HookFunc) Execute(ctx context.Context, data map[string]any) error {
	return h.Fn(ctx, data)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc struct {
	On LifecycleEvent
	Fn func(ctx context.Context, data map[string]any) error
}

func (p ProcessorFunc) Event() LifecycleEvent { return p.On }
func (p ProcessorFunc) Process(ctx context.Context, data map[string]any) error {
	return p.Fn(ctx, data)
}

// Manager owns one entity's status. It is single-writer: only the entity
// worker applies transitions, so no locking is needed.
type Manager struct {
	current    Status
	hooks      []Hook
	processors map[LifecycleEvent][]Processor
	notify     Notify
	logger     logging.Logger
}

// NewManager creates a manager starting at UNINITIALIZED.
func NewManager(logger logging.Logger) *Manager {
	return &Manager{
		current:    Uninitialized,
		processors: make(map[LifecycleEvent][]Processor),
		logger:     logging.OrNop(logger),
	}
}

// Current returns the entity's status.
func (m *Manager) Current() Status { return m.current }

// SetNotify installs the external status-changed notification sink.
func (m *Manager) SetNotify(notify Notify) { m.notify = notify }

// AddHook registers a transition hook.
func (m *Manager) AddHook(hook Hook) {
	m.hooks = append(m.hooks, hook)
}

// AddProcessor registers a lifecycle processor.
func (m *Manager) AddProcessor(p Processor) {
	m.processors[p.Event()] = append(m.processors[p.Event()], p)
}

// Transition moves the entity to target, firing matching hooks, then
// lifecycle processors, then the external notification. Hook and processor
// failures are logged and never abort the transition; panics are contained
// the same way.
func (m *Manager) Transition(ctx context.Context, target Status, data map[string]any) {
	if target == m.current {
		return
	}
	from := m.current
	m.current = target

	for _, hook := range m.hooks {
		if hook.SourceStatus() != from || hook.TargetStatus() != target {
			continue
		}
		m.runGuarded(fmt.Sprintf("hook %s->%s", from, target), func() error {
			return hook.Execute(ctx, data)
		})
	}

	lifecycle, ok := LifecycleFor(from, target)
	if ok {
		for _, proc := range m.processors[lifecycle] {
			m.runGuarded(fmt.Sprintf("processor %s", lifecycle), func() error {
				return proc.Process(ctx, data)
			})
		}
	}

	if m.notify != nil {
		m.notify(from, target, lifecycle)
	}
}

func (m *Manager) runGuarded(label string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("lifecycle %s panicked: %v", label, r)
		}
	}()
	if err := fn(); err != nil {
		m.logger.Warn("lifecycle %s failed: %v", label, err)
	}
}
