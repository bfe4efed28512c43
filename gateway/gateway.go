// Package gateway implements the single choke point to the Model Provider
// described in spec §4.6: it serializes every model call through dedupe,
// rate limiting, and circuit breaking, classifies provider errors, retries
// transient ones with backoff, and validates output before returning.
// Grounded in the framework's resilience.Retry (manual exponential backoff
// with sine jitter) layered around a CircuitBreaker-guarded call, here
// wrapping a Model Provider instead of an HTTP round-tripper.
package gateway

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/itsneelabh/agentcore/circuitbreaker"
	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/dedupe"
	"github.com/itsneelabh/agentcore/provider"
	"github.com/itsneelabh/agentcore/ratelimit"
)

// RetryPolicy is the explicit value passed into the Gateway's retry loop,
// replacing the decorator-based retry the source used (spec §9).
type RetryPolicy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryPolicy derives a RetryPolicy from a GatewayConfig's MaxRetries.
func DefaultRetryPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   maxRetries + 1,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// Gateway is the sole caller of a provider.Provider. One Gateway instance is
// shared by every Agent in a process.
type Gateway struct {
	cfg       core.GatewayConfig
	retry     RetryPolicy
	limiter   *ratelimit.Limiter
	dedup     *dedupe.Deduper
	prov      provider.Provider
	logger    core.Logger
	telemetry core.Telemetry
	clock     core.Clock

	breakerMu  sync.Mutex
	breakers   map[string]*circuitbreaker.Breaker
	newBreaker func() *circuitbreaker.Breaker
}

// New constructs a Gateway wired to limiter, dedup, and prov, using a fresh
// CircuitBreaker per model (lazily created on first use).
func New(cfg core.GatewayConfig, limiter *ratelimit.Limiter, dedup *dedupe.Deduper, prov provider.Provider, cbCfg core.CircuitBreakerConfig, logger core.Logger, telemetry core.Telemetry) *Gateway {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	return &Gateway{
		cfg:        cfg,
		retry:      DefaultRetryPolicy(cfg.MaxRetries),
		limiter:    limiter,
		dedup:      dedup,
		prov:       prov,
		logger:     logger,
		telemetry:  telemetry,
		clock:      core.RealClock{},
		breakers:   make(map[string]*circuitbreaker.Breaker),
		newBreaker: func() *circuitbreaker.Breaker { return circuitbreaker.New(cbCfg) },
	}
}

func (g *Gateway) breakerFor(model string) *circuitbreaker.Breaker {
	g.breakerMu.Lock()
	defer g.breakerMu.Unlock()
	b, ok := g.breakers[model]
	if !ok {
		b = g.newBreaker()
		g.breakers[model] = b
	}
	return b
}

// promptChars sums the length of every message's content, used for the
// coarse n_tokens proxy (§4.1).
func promptChars(req core.GenerateRequest) int {
	n := 0
	for _, m := range req.Messages {
		n += len(m.Content)
	}
	return n
}

// Generate implements the §4.6 contract end to end.
func (g *Gateway) Generate(ctx context.Context, req core.GenerateRequest) (core.GenerateResponse, error) {
	if !req.Tenant.Valid() {
		return core.GenerateResponse{}, core.NewError(core.KindValidation, "gateway", req.Tenant, core.ErrInvalidRequest, false)
	}

	ctx, span := g.telemetry.StartSpan(ctx, "gateway.generate")
	defer span.End()

	fp := core.Fingerprint(req)
	result, stats, err := g.dedup.Do(ctx, fp, func(callCtx context.Context) (any, error) {
		return g.callProvider(callCtx, req)
	})
	if stats.RecentHits > 0 || stats.InFlightJoins > 0 {
		g.telemetry.RecordMetric("gateway.dedupe_hit", 1, map[string]string{"tenant": string(req.Tenant)})
	}
	if err != nil {
		span.RecordError(err)
		return core.GenerateResponse{}, err
	}
	if result.Err != nil {
		span.RecordError(result.Err)
		return core.GenerateResponse{}, result.Err
	}
	resp, ok := result.Value.(core.GenerateResponse)
	if !ok {
		return core.GenerateResponse{}, core.NewError(core.KindInternal, "gateway", req.Tenant, core.ErrInvariantBroken, false)
	}
	return resp, nil
}

// callProvider runs the circuit-breaker-guarded, rate-limited, retried
// provider call for one fingerprint's first (non-coalesced) caller.
func (g *Gateway) callProvider(ctx context.Context, req core.GenerateRequest) (any, error) {
	breaker := g.breakerFor(req.Model)
	n := ratelimit.EstimateTokens(promptChars(req))

	deadlineCtx := ctx
	if g.cfg.TotalDeadline > 0 {
		var cancel context.CancelFunc
		deadlineCtx, cancel = context.WithTimeout(ctx, g.cfg.TotalDeadline)
		defer cancel()
	}

	attempt := func() (core.GenerateResponse, error) {
		var resp core.GenerateResponse
		err := breaker.Execute(deadlineCtx, func() error {
			if err := g.limiter.Acquire(deadlineCtx, req.Tenant, n); err != nil {
				return err
			}
			start := g.clock.Now()
			r, callErr := g.prov.Complete(deadlineCtx, req)
			g.telemetry.RecordMetric("gateway.latency_ms", float64(g.clock.Now().Sub(start).Milliseconds()), map[string]string{"model": req.Model})
			if callErr != nil {
				return callErr
			}
			resp = r
			return nil
		})
		return resp, err
	}

	resp, err := g.runWithRetry(deadlineCtx, attempt)
	if err != nil {
		return nil, err
	}
	if verr := Validate(g.cfg.ValidationLevel, resp); verr != nil {
		return nil, verr
	}
	return resp, nil
}

// runWithRetry retries attempt up to g.retry.MaxAttempts times, with
// exponential backoff and sine jitter, but only when the failure is a
// retryable provider error; CircuitOpen and rate-limit failures propagate
// immediately without consuming a retry attempt (§4.6: "transient errors
// may retry"; circuit-open/rate-limited are final for this call).
func (g *Gateway) runWithRetry(ctx context.Context, attempt func() (core.GenerateResponse, error)) (core.GenerateResponse, error) {
	var lastErr error
	delay := g.retry.InitialDelay

	for try := 1; try <= max(1, g.retry.MaxAttempts); try++ {
		select {
		case <-ctx.Done():
			return core.GenerateResponse{}, ctx.Err()
		default:
		}

		resp, err := attempt()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryableProviderError(err) || try == g.retry.MaxAttempts {
			return core.GenerateResponse{}, err
		}

		if try > 1 {
			delay = time.Duration(float64(delay) * g.retry.BackoffFactor)
			if delay > g.retry.MaxDelay {
				delay = g.retry.MaxDelay
			}
		}
		wait := delay
		if g.retry.JitterEnabled {
			jitter := time.Duration(float64(delay) * 0.1 * math.Sin(float64(try)))
			wait += jitter
		}

		timer := g.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return core.GenerateResponse{}, ctx.Err()
		case <-timer.C():
		}
	}
	return core.GenerateResponse{}, lastErr
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// isRetryableProviderError reports whether err warrants a retry under the
// Gateway's backoff policy: only Transient and ProviderTimeout kinds count;
// permanent-provider, content-filter, and remote-rate-limit kinds are final.
func isRetryableProviderError(err error) bool {
	var pe *provider.ProviderError
	if asProviderError(err, &pe) {
		return pe.Kind == provider.Transient || pe.Kind == provider.ProviderTimeout
	}
	return false
}

func asProviderError(err error, target **provider.ProviderError) bool {
	for err != nil {
		if e, ok := err.(*provider.ProviderError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Validate applies the configured output validation level to resp (§4.6
// step 7): Strict rejects content-filter finishes and empty text with no
// tool calls; Moderate only rejects content-filter finishes; Lenient never
// rejects.
func Validate(level core.ValidationLevel, resp core.GenerateResponse) error {
	switch level {
	case core.ValidationLenient:
		return nil
	case core.ValidationStrict:
		if resp.FinishReason == core.FinishFilter {
			return core.NewError(core.KindValidation, "gateway", "", core.ErrInvalidRequest, false)
		}
		if strings.TrimSpace(resp.Text) == "" && len(resp.ToolCalls) == 0 {
			return core.NewError(core.KindValidation, "gateway", "", core.ErrInvalidRequest, false)
		}
		return nil
	default: // Moderate
		if resp.FinishReason == core.FinishFilter {
			return core.NewError(core.KindValidation, "gateway", "", core.ErrInvalidRequest, false)
		}
		return nil
	}
}

// Embed runs embed requests through the same rate-limit/breaker pipeline,
// carrying no tool-loop or dedupe semantics (§4.6: "no tool-loop
// semantics"); embeddings are typically unique per text and less valuable
// to coalesce.
func (g *Gateway) Embed(ctx context.Context, tenant core.TenantID, model string, texts []string) ([]provider.Vector, error) {
	if !tenant.Valid() {
		return nil, core.NewError(core.KindValidation, "gateway", tenant, core.ErrInvalidRequest, false)
	}
	breaker := g.breakerFor(model)
	n := 0
	for _, t := range texts {
		n += len(t)
	}
	nTok := ratelimit.EstimateTokens(n)

	var vectors []provider.Vector
	err := breaker.Execute(ctx, func() error {
		if err := g.limiter.Acquire(ctx, tenant, nTok); err != nil {
			return err
		}
		v, err := g.prov.Embed(ctx, model, texts)
		if err != nil {
			return err
		}
		vectors = v
		return nil
	})
	return vectors, err
}
