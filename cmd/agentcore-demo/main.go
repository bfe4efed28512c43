// Command agentcore-demo wires the core components together end to end:
// a Manager holding one Agent, backed by a Gateway over a mock Provider,
// executing a single task. It exists to show the construction order a real
// process-local deployment would follow; it is not a server.
package main

import (
	"context"
	"log"
	"time"

	"github.com/itsneelabh/agentcore/agent"
	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/dedupe"
	"github.com/itsneelabh/agentcore/gateway"
	"github.com/itsneelabh/agentcore/manager"
	"github.com/itsneelabh/agentcore/memory"
	"github.com/itsneelabh/agentcore/provider"
	"github.com/itsneelabh/agentcore/ratelimit"
	"github.com/itsneelabh/agentcore/telemetry"
)

func main() {
	logger := telemetry.NewStructuredLogger("agentcore-demo", telemetry.FormatText, false)
	otel := telemetry.NewOTelProvider("agentcore-demo")
	defer otel.Shutdown(context.Background())

	limiter := ratelimit.New(core.DefaultRateLimiterConfig())
	dedup := dedupe.New(core.DefaultDeduperConfig())
	mockProvider := provider.NewMockProvider(provider.Turn{
		Response: core.GenerateResponse{Text: "4", Tokens: core.TokenUsage{Prompt: 3, Completion: 1, Total: 4}, FinishReason: core.FinishStop},
	})
	gw := gateway.New(core.DefaultGatewayConfig(), limiter, dedup, mockProvider, core.DefaultCircuitBreakerConfig(), logger.WithComponent("gateway"), otel)

	mem := memory.New(core.DefaultMemoryConfig(), nil, nil)

	cfg := agent.Config{
		ID:                    "a1",
		Tenant:                "t1",
		SystemPrompt:          "You are a terse arithmetic assistant.",
		Model:                 "m-fast",
		MaxToolIterations:     core.DefaultAgentConfig().MaxToolIterations,
		MaxMemoriesInPrompt:   5,
		SystemPromptMaxTokens: core.DefaultAgentConfig().SystemPromptMaxTokens,
	}
	a := agent.New(cfg, gw, mem, nil, logger.WithComponent("agent"), otel)

	mgr := manager.New(logger.WithComponent("manager"), func(ev manager.DroppedEvent) {
		logger.Warn("message dropped", map[string]interface{}{"to": ev.To})
	})
	mgr.Register(a)

	task := core.Task{Type: "ask", Tenant: "t1", Params: map[string]any{"prompt": "2+2"}, CreatedAt: time.Now()}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result := a.Execute(ctx, task, nil)
	if result.Err != nil {
		log.Fatalf("task failed: %v", result.Err)
	}
	logger.Info("task completed", map[string]interface{}{"text": result.Text, "status": string(result.Status)})
}
