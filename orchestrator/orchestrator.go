// Package orchestrator implements DAG workflow execution, with fail-fast and
// continue-independent failure policies, and four coordination patterns
// (§4.9: leader-follower, peer-to-peer, pipeline, broadcast). Grounded in the framework's
// orchestration.SmartExecutor (semaphore-bounded concurrent step dispatch,
// per-step retry/timeout), with fail-fast/continue-independent policy made
// explicit here rather than implied by HITL controllers.
package orchestrator

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsneelabh/agentcore/core"
	"github.com/itsneelabh/agentcore/manager"
)

// StepStatus is the terminal or in-progress state of one WorkflowStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSuccess   StepStatus = "success"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// StepResult records the outcome of one step, including retry attempts.
type StepResult struct {
	StepID   string
	Status   StepStatus
	Result   core.Result
	Attempts int
	Err      error
}

// WorkflowStatus is the terminal outcome of an entire workflow run.
type WorkflowStatus string

const (
	WorkflowSuccess WorkflowStatus = "success"
	WorkflowFailed  WorkflowStatus = "failed"
	WorkflowTimeout WorkflowStatus = "timeout"
)

// WorkflowResult aggregates a completed execute_workflow call (§4.9 step 4).
type WorkflowResult struct {
	Status       WorkflowStatus
	FailedStep   string
	Reason       string
	StepResults  map[string]StepResult
}

// Orchestrator runs Workflows against agents it looks up through a Manager;
// it never holds an owning reference to an Agent itself (spec §9).
type Orchestrator struct {
	mgr    *manager.Manager
	cfg    core.WorkflowConfig
	clock  core.Clock
	logger core.Logger
	telemetry core.Telemetry
}

// New constructs an Orchestrator bound to mgr.
func New(mgr *manager.Manager, cfg core.WorkflowConfig, logger core.Logger, telemetry core.Telemetry) *Orchestrator {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	if telemetry == nil {
		telemetry = core.NoOpTelemetry{}
	}
	return &Orchestrator{mgr: mgr, cfg: cfg, clock: core.RealClock{}, logger: logger, telemetry: telemetry}
}

// Validate checks DAG well-formedness (§4.9 step 1, §3 Workflow invariants):
// unique step ids, every depends_on reference exists, and the graph is
// acyclic.
func Validate(wf core.Workflow) error {
	byID := make(map[string]core.WorkflowStep, len(wf.Steps))
	for _, s := range wf.Steps {
		if _, dup := byID[s.StepID]; dup {
			return core.NewError(core.KindValidation, "orchestrator", wf.Tenant, core.ErrWorkflowInvalid, false)
		}
		byID[s.StepID] = s
	}
	for _, s := range wf.Steps {
		for dep := range s.DependsOn {
			if _, ok := byID[dep]; !ok {
				return core.NewError(core.KindValidation, "orchestrator", wf.Tenant, core.ErrWorkflowInvalid, false)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(wf.Steps))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for dep := range byID[id].DependsOn {
			switch color[dep] {
			case gray:
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}
	for _, s := range wf.Steps {
		if color[s.StepID] == white {
			if !visit(s.StepID) {
				return core.NewError(core.KindValidation, "orchestrator", wf.Tenant, core.ErrWorkflowInvalid, false)
			}
		}
	}
	return nil
}

// ExecuteWorkflow runs wf to completion per the §4.9 algorithm.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, wf core.Workflow) (WorkflowResult, error) {
	if err := Validate(wf); err != nil {
		return WorkflowResult{}, err
	}

	byID := make(map[string]core.WorkflowStep, len(wf.Steps))
	indegree := make(map[string]int, len(wf.Steps))
	successors := make(map[string][]string)
	for _, s := range wf.Steps {
		byID[s.StepID] = s
		indegree[s.StepID] = len(s.DependsOn)
		for dep := range s.DependsOn {
			successors[dep] = append(successors[dep], s.StepID)
		}
	}

	results := make(map[string]StepResult, len(wf.Steps))
	var mu sync.Mutex
	accumCtx := make(map[string]any, len(wf.Steps))

	runCtx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	failed := false
	var failedStep, failReason string

	ready := readySet(indegree)
	for len(ready) > 0 {
		sort.Strings(ready)

		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(max(1, o.cfg.MaxParallelSteps))

		for _, id := range ready {
			step := byID[id]
			g.Go(func() error {
				res := o.runStep(gctx, wf.Tenant, step, snapshot(&mu, accumCtx))
				mu.Lock()
				results[step.StepID] = res
				if res.Status == StepSuccess || res.Status == StepSkipped {
					accumCtx[step.StepID] = res.Result
				}
				if res.Status == StepFailed && !failed {
					failed = true
					failedStep = step.StepID
					if res.Err != nil {
						failReason = res.Err.Error()
					}
					if o.cfg.FailurePolicy != core.ContinueIndependent {
						cancelAll()
					}
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		if failed && o.cfg.FailurePolicy != core.ContinueIndependent {
			break
		}

		mu.Lock()
		var newlyReady []string
		for _, id := range ready {
			// Only a Success or Skipped step releases its successors; steps
			// downstream of a failure stay unreached.
			if st := results[id].Status; st != StepSuccess && st != StepSkipped {
				continue
			}
			for _, succ := range successors[id] {
				indegree[succ]--
				if indegree[succ] == 0 {
					newlyReady = append(newlyReady, succ)
				}
			}
		}
		mu.Unlock()
		ready = newlyReady
	}

	mu.Lock()
	defer mu.Unlock()
	markUnreached(wf.Steps, results, o.cfg.FailurePolicy == core.ContinueIndependent)

	status := WorkflowSuccess
	if failed {
		status = WorkflowFailed
	}
	return WorkflowResult{Status: status, FailedStep: failedStep, Reason: failReason, StepResults: results}, nil
}

func snapshot(mu *sync.Mutex, m map[string]any) map[string]any {
	mu.Lock()
	defer mu.Unlock()
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

func readySet(indegree map[string]int) []string {
	var out []string
	for id, d := range indegree {
		if d == 0 {
			out = append(out, id)
		}
	}
	return out
}

// markUnreached fills in Skipped (continue-independent) or Cancelled
// (fail-fast) for every step that never ran, per §4.9 step 3/8 scenario 6.
func markUnreached(steps []core.WorkflowStep, results map[string]StepResult, continueIndependent bool) {
	for _, s := range steps {
		if _, ok := results[s.StepID]; ok {
			continue
		}
		status := StepCancelled
		if continueIndependent {
			status = StepSkipped
		}
		results[s.StepID] = StepResult{StepID: s.StepID, Status: status}
	}
}

// runStep executes one step with its condition check, timeout, and retry
// policy (§4.9 step 3).
func (o *Orchestrator) runStep(ctx context.Context, tenant core.TenantID, step core.WorkflowStep, accumCtx map[string]any) StepResult {
	if step.Condition != nil && !step.Condition(accumCtx) {
		return StepResult{StepID: step.StepID, Status: StepSkipped}
	}

	timeout := step.Timeout
	if timeout <= 0 {
		timeout = o.cfg.DefaultTimeout
	}
	retries := step.RetryCount
	if retries < 0 {
		retries = 0
	}
	maxAttempts := retries + 1

	delay := 200 * time.Millisecond
	var lastResult core.Result
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return StepResult{StepID: step.StepID, Status: StepCancelled, Attempts: attempt - 1}
		default:
		}

		stepCtx, cancel := core.WithStepTimeout(ctx, timeout)
		result, err := o.dispatch(stepCtx, tenant, step)
		cancel()
		lastResult, lastErr = result, err

		if err == nil {
			return StepResult{StepID: step.StepID, Status: StepSuccess, Result: result, Attempts: attempt}
		}
		if attempt == maxAttempts {
			break
		}
		timer := o.clock.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return StepResult{StepID: step.StepID, Status: StepCancelled, Attempts: attempt}
		case <-timer.C():
		}
		delay = time.Duration(math.Min(float64(delay)*2, float64(5*time.Second)))
	}
	return StepResult{StepID: step.StepID, Status: StepFailed, Result: lastResult, Attempts: maxAttempts, Err: lastErr}
}

// dispatch submits the step's task to its assigned Agent via the Manager.
func (o *Orchestrator) dispatch(ctx context.Context, tenant core.TenantID, step core.WorkflowStep) (core.Result, error) {
	a, err := o.mgr.Get(step.AgentID)
	if err != nil {
		return core.Result{}, err
	}
	task := core.Task{Type: step.TaskType, Params: step.Params, Tenant: tenant, CreatedAt: o.clock.Now()}
	result := a.Execute(ctx, task, nil)
	if result.Status != core.TaskCompleted {
		if result.Err != nil {
			return result, result.Err
		}
		return result, core.NewError(core.KindInternal, "orchestrator", tenant, core.ErrInvariantBroken, false)
	}
	return result, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// --- Coordination patterns (§4.9): thin wrappers over ad-hoc dispatch. ---

// LeaderFollower runs leaderTask on leader first; its output is merged into
// every follower task's params under "leader_output", then followers run in
// parallel.
func (o *Orchestrator) LeaderFollower(ctx context.Context, tenant core.TenantID, leaderID string, leaderTask core.Task, followerIDs []string, followerTask core.Task) (map[string]core.Result, error) {
	leader, err := o.mgr.Get(leaderID)
	if err != nil {
		return nil, err
	}
	leaderTask.Tenant = tenant
	leaderResult := leader.Execute(ctx, leaderTask, nil)
	if leaderResult.Status != core.TaskCompleted {
		return nil, core.NewError(core.KindAvailability, "orchestrator", tenant, core.ErrProviderUnavailable, true)
	}

	out := make(map[string]core.Result, len(followerIDs))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range followerIDs {
		id := id
		g.Go(func() error {
			a, err := o.mgr.Get(id)
			if err != nil {
				return nil
			}
			params := copyParams(followerTask.Params)
			params["leader_output"] = leaderResult.Text
			task := core.Task{Type: followerTask.Type, Params: params, Tenant: tenant, CreatedAt: o.clock.Now()}
			r := a.Execute(gctx, task, nil)
			mu.Lock()
			out[id] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// PeerToPeer runs task on every agent in ids concurrently with the same
// input, returning each result keyed by agent id.
func (o *Orchestrator) PeerToPeer(ctx context.Context, tenant core.TenantID, ids []string, task core.Task) map[string]core.Result {
	out := make(map[string]core.Result, len(ids))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			a, err := o.mgr.Get(id)
			if err != nil {
				return nil
			}
			t := task
			t.Tenant = tenant
			r := a.Execute(gctx, t, nil)
			mu.Lock()
			out[id] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Transform maps one agent's output text into the next agent's input
// params for Pipeline.
type Transform func(prevOutput string) map[string]any

// Pipeline runs agents in ids as a linear chain: each receives the previous
// agent's output via transform (identity by default when transform is nil).
func (o *Orchestrator) Pipeline(ctx context.Context, tenant core.TenantID, ids []string, initial core.Task, transform Transform) ([]core.Result, error) {
	results := make([]core.Result, 0, len(ids))
	params := initial.Params
	for _, id := range ids {
		a, err := o.mgr.Get(id)
		if err != nil {
			return results, err
		}
		task := core.Task{Type: initial.Type, Params: params, Tenant: tenant, CreatedAt: o.clock.Now()}
		r := a.Execute(ctx, task, nil)
		results = append(results, r)
		if r.Status != core.TaskCompleted {
			return results, core.NewError(core.KindAvailability, "orchestrator", tenant, core.ErrProviderUnavailable, true)
		}
		if transform != nil {
			params = transform(r.Text)
		} else {
			params = map[string]any{"prompt": r.Text}
		}
	}
	return results, nil
}

// Broadcast publishes msg from sender to every other registered agent via
// the Manager; it does not wait for any reply (§4.9: "results are
// optionally collected" — collection is the caller's responsibility via the
// Manager's inbox draining).
func (o *Orchestrator) Broadcast(msg core.Message) {
	o.mgr.Broadcast(msg, msg.From)
}

func copyParams(p map[string]any) map[string]any {
	cp := make(map[string]any, len(p)+1)
	for k, v := range p {
		cp[k] = v
	}
	return cp
}
