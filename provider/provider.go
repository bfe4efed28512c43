// Package provider defines the Model Provider boundary the Gateway calls
// through (spec §1: explicitly out of scope, its internals are not ours to
// specify). It also ships a deterministic mock used by gateway/agent tests,
// grounded in the framework's ai.Provider interface and its mock/test doubles.
package provider

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/itsneelabh/agentcore/core"
)

// ProviderErrorKind classifies failures the Gateway must react to
// differently (§4.6 step 6).
type ProviderErrorKind string

const (
	Transient        ProviderErrorKind = "transient"
	PermanentProvider ProviderErrorKind = "permanent_provider"
	RateLimitedRemote ProviderErrorKind = "rate_limited_remote"
	ContentFilter     ProviderErrorKind = "content_filter"
	ProviderTimeout   ProviderErrorKind = "timeout"
)

// ProviderError is the typed error a Model Provider returns; the Gateway
// branches on Kind to decide whether to retry.
type ProviderError struct {
	Kind    ProviderErrorKind
	Message string
}

func (e *ProviderError) Error() string { return string(e.Kind) + ": " + e.Message }

// Vector is an embedding result for one input text.
type Vector []float64

// Provider is the opaque Model Provider boundary: complete() and embed().
// The Gateway is the only caller; tokenization and provider switching live
// inside an implementation. The Gateway itself retries only errors whose
// Kind is Transient or ProviderTimeout.
type Provider interface {
	Complete(ctx context.Context, req core.GenerateRequest) (core.GenerateResponse, error)
	Embed(ctx context.Context, model string, texts []string) ([]Vector, error)
}

// Turn is one scripted response a MockProvider returns for Complete, in
// order, supporting tool-loop fixtures (first turn returns a tool call,
// second turn returns final text).
type Turn struct {
	Response core.GenerateResponse
	Err      error
}

// MockProvider is a deterministic, scriptable Provider for tests: it plays
// back a fixed sequence of Turns per call, counting invocations.
type MockProvider struct {
	mu        sync.Mutex
	turns     []Turn
	turnIdx   int
	callCount int32

	EmbedFn func(ctx context.Context, model string, texts []string) ([]Vector, error)
}

// NewMockProvider constructs a MockProvider that plays back turns in order;
// once exhausted, the last turn repeats.
func NewMockProvider(turns ...Turn) *MockProvider {
	return &MockProvider{turns: turns}
}

// CallCount reports how many times Complete has been invoked.
func (p *MockProvider) CallCount() int { return int(atomic.LoadInt32(&p.callCount)) }

func (p *MockProvider) Complete(ctx context.Context, req core.GenerateRequest) (core.GenerateResponse, error) {
	atomic.AddInt32(&p.callCount, 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.turns) == 0 {
		return core.GenerateResponse{Text: "", FinishReason: core.FinishStop, Model: req.Model}, nil
	}
	idx := p.turnIdx
	if idx >= len(p.turns) {
		idx = len(p.turns) - 1
	} else {
		p.turnIdx++
	}
	t := p.turns[idx]
	resp := t.Response
	if resp.Model == "" {
		resp.Model = req.Model
	}
	return resp, t.Err
}

func (p *MockProvider) Embed(ctx context.Context, model string, texts []string) ([]Vector, error) {
	if p.EmbedFn != nil {
		return p.EmbedFn(ctx, model, texts)
	}
	out := make([]Vector, len(texts))
	for i := range texts {
		out[i] = Vector{0, 0, 0}
	}
	return out, nil
}
