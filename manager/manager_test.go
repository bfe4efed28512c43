package manager

import (
	"testing"

	"github.com/itsneelabh/agentcore/agent"
	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/dedupe"
	"github.com/itsneelabh/agentcore/gateway"
	"github.com/itsneelabh/agentcore/provider"
	"github.com/itsneelabh/agentcore/ratelimit"
)

func newTestAgent(t *testing.T, id string, caps ...core.Capability) *agent.Agent {
	t.Helper()
	mock := provider.NewMockProvider(provider.Turn{Response: core.GenerateResponse{Text: "ok"}})
	limiter := ratelimit.New(core.DefaultRateLimiterConfig())
	dedup := dedupe.New(core.DefaultDeduperConfig())
	gw := gateway.New(core.DefaultGatewayConfig(), limiter, dedup, mock, core.DefaultCircuitBreakerConfig(), nil, nil)
	return agent.New(agent.Config{ID: id, Tenant: "t1", Capabilities: caps}, gw, nil, nil, nil, nil)
}

func TestRegisterAndGet(t *testing.T) {
	m := New(nil, nil)
	a := newTestAgent(t, "a1")
	m.Register(a)

	got, err := m.Get("a1")
	if err != nil || got != a {
		t.Fatalf("expected to retrieve registered agent, got %v, err=%v", got, err)
	}
}

func TestGetUnknownAgentFails(t *testing.T) {
	m := New(nil, nil)
	_, err := m.Get("missing")
	if err == nil {
		t.Fatalf("expected ErrUnknownAgent")
	}
}

func TestFindByCapability(t *testing.T) {
	m := New(nil, nil)
	m.Register(newTestAgent(t, "weather-agent", core.Capability{Name: "weather"}))
	m.Register(newTestAgent(t, "search-agent", core.Capability{Name: "search"}))
	m.Register(newTestAgent(t, "multi-agent", core.Capability{Name: "weather"}, core.Capability{Name: "search"}))

	found := m.FindByCapability("weather")
	if len(found) != 2 {
		t.Fatalf("expected 2 agents with weather capability, got %d", len(found))
	}
}

func TestUnregisterRemovesAgent(t *testing.T) {
	m := New(nil, nil)
	m.Register(newTestAgent(t, "a1"))
	m.Unregister("a1")
	if _, err := m.Get("a1"); err == nil {
		t.Fatalf("expected agent to be gone after unregister")
	}
}

func TestRouteDropsOldestAndEmitsEvent(t *testing.T) {
	var dropped []DroppedEvent
	m := New(nil, func(ev DroppedEvent) { dropped = append(dropped, ev) })
	a := newTestAgent(t, "a1")
	m.Register(a)

	// Fill the inbox to its capacity of 256 without draining it, then route
	// one more message to force a drop.
	for i := 0; i < 256; i++ {
		if err := m.Route(core.Message{To: "a1", Kind: "ping"}); err != nil {
			t.Fatalf("unexpected error routing to known agent: %v", err)
		}
	}
	if len(dropped) != 0 {
		t.Fatalf("expected no drops under capacity, got %d", len(dropped))
	}
	if err := m.Route(core.Message{To: "a1", Kind: "overflow"}); err != nil {
		t.Fatalf("expected Route to succeed on overflow, got %v", err)
	}
	if len(dropped) != 1 || dropped[0].To != "a1" {
		t.Fatalf("expected one DroppedEvent for a1 on overflow, got %+v", dropped)
	}
}

func TestRouteUnknownAgentFails(t *testing.T) {
	m := New(nil, nil)
	if err := m.Route(core.Message{To: "ghost"}); err == nil {
		t.Fatalf("expected error routing to unknown agent")
	}
}
