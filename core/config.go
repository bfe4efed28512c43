package core

import "time"

// RateLimiterConfig configures the per-tenant token bucket (§4.1, §6).
type RateLimiterConfig struct {
	RequestsPerMinute  int
	TokensPerMinute    int
	Burst              int
	QueueBound         int
	QueueWaitDeadline  time.Duration
}

// DefaultRateLimiterConfig matches the §6 defaults.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 60,
		TokensPerMinute:   90000,
		Burst:             10,
		QueueBound:        1000,
		QueueWaitDeadline: 30 * time.Second,
	}
}

// CircuitBreakerConfig configures the per-provider state machine (§4.2, §6).
type CircuitBreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	Window           time.Duration
}

func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
		Window:           60 * time.Second,
	}
}

// DeduperConfig configures request coalescing (§4.3, §6).
type DeduperConfig struct {
	RecentTTL time.Duration
}

func DefaultDeduperConfig() DeduperConfig {
	return DeduperConfig{RecentTTL: 300 * time.Second}
}

// MemoryConfig configures BoundedMemory's four class caps (§4.4, §6).
type MemoryConfig struct {
	MaxShort           int
	MaxLong            int
	MaxEpisodic        int
	MaxSemantic        int
	MaxAge             time.Duration
	PressureThreshold  float64
}

func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxShort:          50,
		MaxLong:           1000,
		MaxEpisodic:       500,
		MaxSemantic:       2000,
		MaxAge:            30 * 24 * time.Hour,
		PressureThreshold: 0.9,
	}
}

// AgentConfig configures an Agent's tool loop and prompt budget (§4.7, §6).
type AgentConfig struct {
	MaxToolIterations      int
	SystemPromptMaxTokens  int
	InboxBound             int
}

func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxToolIterations:     10,
		SystemPromptMaxTokens: 4096,
		InboxBound:            256,
	}
}

// FailurePolicy controls how a workflow reacts to a step exhausting its
// retries (§4.9, §6, Open Questions: FailFast is the default).
type FailurePolicy string

const (
	FailFast           FailurePolicy = "fail_fast"
	ContinueIndependent FailurePolicy = "continue_independent"
)

// WorkflowConfig configures the Orchestrator (§4.9, §6).
type WorkflowConfig struct {
	DefaultRetry      int
	DefaultTimeout    time.Duration
	MaxParallelSteps  int
	FailurePolicy     FailurePolicy
}

func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		DefaultRetry:     0,
		DefaultTimeout:   300 * time.Second,
		MaxParallelSteps: 5,
		FailurePolicy:    FailFast,
	}
}

// GatewayConfig bundles per-provider retry behavior for the Gateway (§4.6).
type GatewayConfig struct {
	MaxRetries     int
	TotalDeadline  time.Duration
	ValidationLevel ValidationLevel
}

// ValidationLevel controls how strictly the Gateway validates provider
// output (§4.6 step 7).
type ValidationLevel string

const (
	ValidationStrict   ValidationLevel = "strict"
	ValidationModerate ValidationLevel = "moderate"
	ValidationLenient  ValidationLevel = "lenient"
)

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxRetries:      3,
		TotalDeadline:   30 * time.Second,
		ValidationLevel: ValidationModerate,
	}
}
