// Package manager implements the agent registry described in spec §4.8:
// register/unregister, message routing by `to`, and capability lookup.
// Grounded in the framework's orchestration.AgentCatalog (a registry with a
// readers-writers map and name-based lookup) generalized from HTTP-discovered
// agent metadata to in-process *agent.Agent ownership.
package manager

import (
	"sync"

	"github.com/itsneelabh/agentcore/agent"
	"github.com/itsneelabh/agentcore/core"
)

// DroppedEvent is emitted when Route delivers into a full inbox and the
// target agent drops its oldest queued message to make room (§4.8:
// "drop-oldest back-pressure"). Message is the message being routed, not
// the one that was dropped.
type DroppedEvent struct {
	To      string
	Message core.Message
}

// DropSink receives DroppedEvents; nil is a valid no-op sink.
type DropSink func(DroppedEvent)

// Manager owns the sole authoritative reference to every registered Agent
// (spec §9: "the Manager holds the sole owning reference to each Agent").
// Other components refer to agents only by id and look them up here.
type Manager struct {
	mu      sync.RWMutex
	agents  map[string]*agent.Agent
	onDrop  DropSink
	logger  core.Logger
}

// New constructs an empty Manager.
func New(logger core.Logger, onDrop DropSink) *Manager {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &Manager{agents: make(map[string]*agent.Agent), onDrop: onDrop, logger: logger}
}

// Register adds or replaces an agent under its own id.
func (m *Manager) Register(a *agent.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID()] = a
}

// Unregister removes an agent by id; a no-op if absent.
func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, id)
}

// Get returns the agent registered under id, or ErrUnknownAgent.
func (m *Manager) Get(id string) (*agent.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, core.NewError(core.KindLogic, "manager", "", core.ErrUnknownAgent, false)
	}
	return a, nil
}

// FindByCapability returns every registered agent advertising a capability
// named name, in registration-map iteration order (callers needing a
// deterministic order should sort by agent id themselves).
func (m *Manager) FindByCapability(name string) []*agent.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*agent.Agent
	for _, a := range m.agents {
		for _, c := range a.Capabilities() {
			if c.Name == name {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// Route delivers msg to the agent named msg.To. A full target inbox drops
// the oldest queued message and emits a DroppedEvent rather than blocking or
// failing the caller (§4.8: "best-effort in-process").
func (m *Manager) Route(msg core.Message) error {
	target, err := m.Get(msg.To)
	if err != nil {
		return err
	}
	if derr := target.Deliver(msg); derr != nil {
		if m.onDrop != nil {
			m.onDrop(DroppedEvent{To: msg.To, Message: msg})
		}
		m.logger.Warn("message dropped, inbox full", map[string]interface{}{"to": msg.To})
	}
	return nil
}

// Broadcast routes msg to every registered agent except excludeID, used by
// the Orchestrator's broadcast coordination pattern (§4.9).
func (m *Manager) Broadcast(msg core.Message, excludeID string) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		if id != excludeID {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range ids {
		m.Route(core.Message{From: msg.From, To: id, Kind: msg.Kind, Body: msg.Body, CorrelationID: msg.CorrelationID})
	}
}

// List returns every registered agent id.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.agents))
	for id := range m.agents {
		ids = append(ids, id)
	}
	return ids
}
