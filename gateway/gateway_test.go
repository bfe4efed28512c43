package gateway

import (
	"context"
	"testing"

	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/dedupe"
	"github.com/itsneelabh/agentcore/provider"
	"github.com/itsneelabh/agentcore/ratelimit"
)

func newGateway(t *testing.T, cfg core.GatewayConfig, turns ...provider.Turn) (*Gateway, *provider.MockProvider) {
	t.Helper()
	mock := provider.NewMockProvider(turns...)
	limiter := ratelimit.New(core.RateLimiterConfig{RequestsPerMinute: 6000, Burst: 1000, QueueBound: 100})
	dedup := dedupe.New(core.DeduperConfig{RecentTTL: 0})
	gw := New(cfg, limiter, dedup, mock, core.DefaultCircuitBreakerConfig(), nil, nil)
	return gw, mock
}

func TestGenerateRejectsInvalidTenant(t *testing.T) {
	gw, _ := newGateway(t, core.DefaultGatewayConfig())
	_, err := gw.Generate(context.Background(), core.GenerateRequest{Model: "m-fast"})
	if err == nil {
		t.Fatalf("expected error for blank tenant")
	}
}

func TestGenerateRetriesTransientErrorThenSucceeds(t *testing.T) {
	cfg := core.GatewayConfig{MaxRetries: 2, ValidationLevel: core.ValidationModerate}
	gw, mock := newGateway(t, cfg,
		provider.Turn{Err: &provider.ProviderError{Kind: provider.Transient, Message: "flaky"}},
		provider.Turn{Response: core.GenerateResponse{Text: "ok", FinishReason: core.FinishStop}},
	)

	resp, err := gw.Generate(context.Background(), core.GenerateRequest{Tenant: "t1", Model: "m-fast"})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("expected text 'ok', got %q", resp.Text)
	}
	if mock.CallCount() != 2 {
		t.Fatalf("expected 2 provider calls (1 fail + 1 success), got %d", mock.CallCount())
	}
}

func TestGenerateDoesNotRetryPermanentError(t *testing.T) {
	cfg := core.GatewayConfig{MaxRetries: 3, ValidationLevel: core.ValidationModerate}
	gw, mock := newGateway(t, cfg,
		provider.Turn{Err: &provider.ProviderError{Kind: provider.PermanentProvider, Message: "bad request"}},
	)

	_, err := gw.Generate(context.Background(), core.GenerateRequest{Tenant: "t1", Model: "m-fast"})
	if err == nil {
		t.Fatalf("expected permanent error to surface")
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected exactly one attempt for a non-retryable error, got %d", mock.CallCount())
	}
}

func TestGenerateRejectsContentFilterUnderModerateAndStrict(t *testing.T) {
	for _, level := range []core.ValidationLevel{core.ValidationModerate, core.ValidationStrict} {
		cfg := core.GatewayConfig{MaxRetries: 0, ValidationLevel: level}
		gw, _ := newGateway(t, cfg, provider.Turn{Response: core.GenerateResponse{FinishReason: core.FinishFilter}})

		_, err := gw.Generate(context.Background(), core.GenerateRequest{Tenant: "t1", Model: "m-fast"})
		if err == nil {
			t.Fatalf("expected content-filter finish to be rejected under %s validation", level)
		}
	}
}

func TestGenerateLenientNeverRejects(t *testing.T) {
	cfg := core.GatewayConfig{MaxRetries: 0, ValidationLevel: core.ValidationLenient}
	gw, _ := newGateway(t, cfg, provider.Turn{Response: core.GenerateResponse{FinishReason: core.FinishFilter}})

	if _, err := gw.Generate(context.Background(), core.GenerateRequest{Tenant: "t1", Model: "m-fast"}); err != nil {
		t.Fatalf("expected lenient validation to accept everything, got %v", err)
	}
}

func TestGenerateServesRepeatedIdenticalRequestFromRecentCache(t *testing.T) {
	cfg := core.DefaultGatewayConfig()
	mock := provider.NewMockProvider(provider.Turn{Response: core.GenerateResponse{Text: "shared", FinishReason: core.FinishStop}})
	limiter := ratelimit.New(core.RateLimiterConfig{RequestsPerMinute: 6000, Burst: 1000, QueueBound: 100})
	dedup := dedupe.New(core.DeduperConfig{RecentTTL: 300_000_000_000})
	gw := New(cfg, limiter, dedup, mock, core.DefaultCircuitBreakerConfig(), nil, nil)

	req := core.GenerateRequest{Tenant: "t1", Model: "m-fast", Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}}
	first, err := gw.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := gw.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Text != second.Text {
		t.Fatalf("expected both calls to observe the same cached response")
	}
	if mock.CallCount() != 1 {
		t.Fatalf("expected the second identical request to be served from the recent-result cache, got %d provider calls", mock.CallCount())
	}
}

func TestEmbedUsesLimiterAndBreaker(t *testing.T) {
	mock := provider.NewMockProvider()
	mock.EmbedFn = func(ctx context.Context, model string, texts []string) ([]provider.Vector, error) {
		out := make([]provider.Vector, len(texts))
		for i := range texts {
			out[i] = provider.Vector{1, 2, 3}
		}
		return out, nil
	}
	limiter := ratelimit.New(core.RateLimiterConfig{RequestsPerMinute: 6000, Burst: 1000, QueueBound: 100})
	dedup := dedupe.New(core.DefaultDeduperConfig())
	gw := New(core.DefaultGatewayConfig(), limiter, dedup, mock, core.DefaultCircuitBreakerConfig(), nil, nil)

	vectors, err := gw.Embed(context.Background(), "t1", "embed-model", []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vectors))
	}
}
