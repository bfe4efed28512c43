// Package agent implements the Agent described in §4.7: one task at a
// time, owning private memory and an optional tool set, running a bounded
// tool-use loop against the Gateway. Grounded in the framework's core.BaseAgent
// (Component + Status state machine) generalized to an execute() contract
// and tool loop instead of HTTP handler registration.
package agent

import (
	"container/heap"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/gateway"
	"github.com/itsneelabh/agentcore/memory"
	"github.com/itsneelabh/agentcore/tools"
)

// Status is the Agent's lifecycle state (§4.7).
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// Config bundles an Agent's static identity and behavior knobs.
type Config struct {
	ID                   string
	Tenant               core.TenantID
	Capabilities         []core.Capability
	SystemPrompt         string
	Model                string
	MaxToolIterations    int
	MaxMemoriesInPrompt  int
	SystemPromptMaxTokens int
}

// Agent owns memory and tools, and executes one Task at a time.
type Agent struct {
	cfg       Config
	gw        *gateway.Gateway
	mem       *memory.BoundedMemory
	tools     *tools.Registry
	runner    *tools.Runner
	logger    core.Logger
	telemetry core.Telemetry

	mu     sync.Mutex
	status Status
	queue  taskQueue
	inbox  chan core.Message
}

// New constructs an Agent. mem and reg may both be nil (§4.7:
// "memory (optional), tools (optional)").
func New(cfg Config, gw *gateway.Gateway, mem *memory.BoundedMemory, reg *tools.Registry, logger core.Logger, telemetry core.Telemetry) *Agent {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = 10
	}
	if cfg.MaxMemoriesInPrompt <= 0 {
		cfg.MaxMemoriesInPrompt = 5
	}
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	return &Agent{
		cfg:       cfg,
		gw:        gw,
		mem:       mem,
		tools:     reg,
		runner:    tools.NewRunner(),
		logger:    logger,
		telemetry: telemetry,
		status:    StatusIdle,
		inbox:     make(chan core.Message, 256),
	}
}

// ID returns the agent's identity.
func (a *Agent) ID() string { return a.cfg.ID }

// Tenant returns the agent's owning tenant.
func (a *Agent) Tenant() core.TenantID { return a.cfg.Tenant }

// Capabilities returns the agent's advertised capabilities.
func (a *Agent) Capabilities() []core.Capability { return a.cfg.Capabilities }

// Status reports the current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Deliver places msg on the agent's inbox. A full inbox drops the oldest
// message and returns core.ErrInboxFull (§4.8 back-pressure), the caller
// deciding whether to surface a Dropped event.
func (a *Agent) Deliver(msg core.Message) error {
	select {
	case a.inbox <- msg:
		return nil
	default:
		select {
		case <-a.inbox:
			a.logger.Warn("inbox full, dropped oldest message", map[string]interface{}{"agent_id": a.cfg.ID})
		default:
		}
		select {
		case a.inbox <- msg:
		default:
		}
		return core.NewError(core.KindResource, "agent", a.cfg.Tenant, core.ErrInboxFull, true)
	}
}

// Inbox exposes the receive side for a Manager or test harness to drain.
func (a *Agent) Inbox() <-chan core.Message { return a.inbox }

// Execute runs task to completion or failure, implementing the §4.7
// critical path. The Agent is never left Running on any exit path.
func (a *Agent) Execute(ctx context.Context, task core.Task, history []core.ChatMessage) core.Result {
	start := time.Now()
	if task.Tenant != a.cfg.Tenant {
		return a.fail(task, start, core.NewError(core.KindValidation, "agent", a.cfg.Tenant, core.ErrTenantMismatch, false).WithTask(task.ID))
	}

	a.mu.Lock()
	a.status = StatusRunning
	a.mu.Unlock()
	defer a.ensureIdle()

	ctx, span := a.telemetry.StartSpan(ctx, "agent.execute")
	defer span.End()

	if ctx.Err() != nil {
		return a.cancelled(task, start)
	}

	base, memLines := a.buildPrompt(ctx, task)
	trimmedMemLines, trimmedHistory := trimToBudget(memLines, history, a.cfg.SystemPromptMaxTokens)
	prompt := renderPrompt(base, trimmedMemLines)
	messages := append([]core.ChatMessage{{Role: core.RoleSystem, Content: prompt}}, trimmedHistory...)
	messages = append(messages, core.ChatMessage{Role: core.RoleUser, Content: promptText(task)})

	var functions []core.FunctionSpec
	if a.tools != nil {
		functions = a.tools.List()
	}

	finalText, err := a.toolLoop(ctx, task, messages, functions)
	if err != nil {
		span.RecordError(err)
		if core.Reason(ctx) != core.ReasonNone {
			return a.cancelled(task, start)
		}
		return a.fail(task, start, err)
	}

	if a.mem != nil {
		_, _ = a.mem.Store(ctx, core.MemoryItem{
			Class:      core.MemoryEpisodic,
			Content:    finalText,
			Importance: 0.7,
			Tags:       map[string]struct{}{"task_type": {}},
		})
	}

	return core.Result{
		TaskID:    task.ID,
		Status:    core.TaskCompleted,
		Text:      finalText,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}

func promptText(task core.Task) string {
	if p, ok := task.Params["prompt"].(string); ok {
		return p
	}
	return ""
}

// memLine is one candidate memory line for the prompt, carrying its
// importance so the token-budget trim can drop the least important first.
type memLine struct {
	text       string
	importance float64
}

// buildPrompt assembles system_prompt + relevant memories, per §4.7 step 3.
// It returns the base system prompt and the untrimmed memory lines
// separately; trimToBudget applies the token-budget cut and renderPrompt
// joins them afterward.
func (a *Agent) buildPrompt(ctx context.Context, task core.Task) (string, []memLine) {
	if a.mem == nil {
		return a.cfg.SystemPrompt, nil
	}
	query := promptText(task)
	scored, err := a.mem.Retrieve(ctx, query, "", a.cfg.MaxMemoriesInPrompt)
	if err != nil || len(scored) == 0 {
		return a.cfg.SystemPrompt, nil
	}
	lines := make([]memLine, len(scored))
	for i, s := range scored {
		lines[i] = memLine{text: s.Item.Content, importance: s.Item.Importance}
	}
	return a.cfg.SystemPrompt, lines
}

// approxTokens is the same coarse chars/4 proxy the RateLimiter uses (§4.1),
// reused here for the prompt token budget (§4.7 step 3: "approximate").
func approxTokens(s string) int {
	n := len(s) / 4
	if n < 1 && s != "" {
		return 1
	}
	return n
}

// trimToBudget enforces system_prompt_max_tokens by dropping the
// least-important memory lines first, then the oldest history messages,
// until the combined estimated size fits the budget (§4.7 step 3).
func trimToBudget(memLines []memLine, history []core.ChatMessage, maxTokens int) ([]memLine, []core.ChatMessage) {
	kept := append([]core.ChatMessage(nil), history...)
	if maxTokens <= 0 {
		return memLines, kept
	}
	lines := append([]memLine(nil), memLines...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].importance > lines[j].importance })

	total := 0
	for _, m := range lines {
		total += approxTokens(m.text)
	}
	for _, h := range kept {
		total += approxTokens(h.Content)
	}

	for total > maxTokens && len(lines) > 0 {
		last := lines[len(lines)-1]
		lines = lines[:len(lines)-1]
		total -= approxTokens(last.text)
	}
	for total > maxTokens && len(kept) > 0 {
		total -= approxTokens(kept[0].Content)
		kept = kept[1:]
	}
	return lines, kept
}

// renderPrompt assembles the final system prompt text from the base prompt
// and the (already trimmed) memory lines.
func renderPrompt(base string, memLines []memLine) string {
	if len(memLines) == 0 {
		return base
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nRelevant memory:\n")
	for _, m := range memLines {
		b.WriteString("- ")
		b.WriteString(m.text)
		b.WriteString("\n")
	}
	return b.String()
}

// toolLoop runs the bounded tool-use loop (§4.7 step 5). Hitting
// max_tool_iterations exits the loop with the last turn's text rather than
// failing the task. Step 5 treats exhaustion as a normal exit condition,
// not an availability error.
func (a *Agent) toolLoop(ctx context.Context, task core.Task, messages []core.ChatMessage, functions []core.FunctionSpec) (string, error) {
	var lastText string
	for iter := 0; iter < a.cfg.MaxToolIterations; iter++ {
		resp, err := a.gw.Generate(ctx, core.GenerateRequest{
			Tenant:    a.cfg.Tenant,
			Model:     a.cfg.Model,
			Messages:  messages,
			Functions: functions,
		})
		if err != nil {
			return "", err
		}
		lastText = resp.Text
		if len(resp.ToolCalls) == 0 {
			return resp.Text, nil
		}
		for _, tc := range resp.ToolCalls {
			messages = append(messages, core.ChatMessage{
				Role:       core.RoleTool,
				Content:    a.invokeTool(ctx, task, tc),
				Name:       tc.Name,
				ToolCallID: tc.ID,
			})
		}
	}
	return lastText, nil
}

// invokeTool resolves, validates, and runs one tool call, always returning a
// tool-role message body even on failure so the model may recover (§4.7
// step 5).
func (a *Agent) invokeTool(ctx context.Context, task core.Task, tc core.ToolCall) string {
	if a.tools == nil {
		return "error: no tools attached"
	}
	t, err := a.tools.Resolve(tc.Name)
	if err != nil {
		return "error: " + err.Error()
	}
	ictx := tools.InvocationContext{Tenant: a.cfg.Tenant, TaskID: task.ID}
	result, err := a.runner.Invoke(ctx, t, ictx, tc.Arguments)
	if err != nil {
		return "error: " + err.Error()
	}
	return toString(result)
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func (a *Agent) ensureIdle() {
	a.mu.Lock()
	if a.status == StatusRunning {
		a.status = StatusIdle
	}
	a.mu.Unlock()
}

func (a *Agent) fail(task core.Task, start time.Time, err error) core.Result {
	a.ensureIdle()
	return core.Result{TaskID: task.ID, Status: core.TaskFailed, Err: err, StartedAt: start, EndedAt: time.Now()}
}

func (a *Agent) cancelled(task core.Task, start time.Time) core.Result {
	a.ensureIdle()
	return core.Result{TaskID: task.ID, Status: core.TaskCancelled, StartedAt: start, EndedAt: time.Now()}
}

// MarkError forces the agent into the terminal Error state, used when an
// unrecoverable internal invariant breach is detected (§4.7: "Running->Error
// only on unrecoverable internal invariant breach").
func (a *Agent) MarkError() {
	a.mu.Lock()
	a.status = StatusError
	a.mu.Unlock()
}

// Reset clears a terminal Error state back to Idle; Error is otherwise
// terminal (§4.7).
func (a *Agent) Reset() {
	a.mu.Lock()
	if a.status == StatusError {
		a.status = StatusIdle
	}
	a.mu.Unlock()
}

// --- priority queue of pending tasks, ordered by priority then CreatedAt ---

type taskQueue []core.Task

func (q taskQueue) Len() int { return len(q) }
func (q taskQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority > q[j].Priority
	}
	return q[i].CreatedAt.Before(q[j].CreatedAt)
}
func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *taskQueue) Push(x any)   { *q = append(*q, x.(core.Task)) }
func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Enqueue adds task to the agent's pending-task priority queue, assigning an
// id if unset. Tasks execute one at a time in priority order (§5); the
// caller is responsible for draining with Dequeue and calling Execute.
func (a *Agent) Enqueue(task core.Task) core.Task {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	a.mu.Lock()
	heap.Push(&a.queue, task)
	a.mu.Unlock()
	return task
}

// Dequeue pops the highest-priority pending task, or ok=false if empty.
func (a *Agent) Dequeue() (core.Task, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue.Len() == 0 {
		return core.Task{}, false
	}
	return heap.Pop(&a.queue).(core.Task), true
}
