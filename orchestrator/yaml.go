package orchestrator

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/agentcore/core"
)

// WorkflowSpec is the YAML-facing shape of a Workflow: every field is plain
// data (no Condition function, which only exists once control passes into
// Go code), grounded in the workflow engine's ParseWorkflowYAML pattern.
type WorkflowSpec struct {
	ID     string           `yaml:"id"`
	Tenant string           `yaml:"tenant"`
	Steps  []WorkflowStepSpec `yaml:"steps"`
}

// WorkflowStepSpec is one step as written in a workflow definition file.
type WorkflowStepSpec struct {
	StepID     string         `yaml:"step_id"`
	AgentID    string         `yaml:"agent_id"`
	TaskType   string         `yaml:"task_type"`
	Params     map[string]any `yaml:"params"`
	DependsOn  []string       `yaml:"depends_on"`
	RetryCount int            `yaml:"retry_count"`
	Timeout    string         `yaml:"timeout"`
}

// ParseWorkflowYAML decodes a workflow definition and converts it into the
// core.Workflow the Orchestrator executes, running Validate before returning
// so a malformed DAG is rejected at parse time rather than at dispatch time.
func ParseWorkflowYAML(data []byte) (core.Workflow, error) {
	var spec WorkflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return core.Workflow{}, workflowYAMLError(fmt.Sprintf("parsing workflow yaml: %v", err))
	}

	wf := core.Workflow{ID: spec.ID, Tenant: core.TenantID(spec.Tenant)}
	wf.Steps = make([]core.WorkflowStep, len(spec.Steps))
	for i, s := range spec.Steps {
		step := core.WorkflowStep{
			StepID:     s.StepID,
			AgentID:    s.AgentID,
			TaskType:   s.TaskType,
			Params:     s.Params,
			RetryCount: s.RetryCount,
		}
		if len(s.DependsOn) > 0 {
			step.DependsOn = make(map[string]struct{}, len(s.DependsOn))
			for _, dep := range s.DependsOn {
				step.DependsOn[dep] = struct{}{}
			}
		}
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return core.Workflow{}, workflowYAMLError(fmt.Sprintf("step %q: invalid timeout %q: %v", s.StepID, s.Timeout, err))
			}
			step.Timeout = d
		}
		wf.Steps[i] = step
	}

	if err := Validate(wf); err != nil {
		return core.Workflow{}, err
	}
	return wf, nil
}

// workflowYAMLError builds the structured error ParseWorkflowYAML returns,
// wrapping core.ErrWorkflowInvalid so callers can still branch with
// errors.Is rather than parsing the message.
func workflowYAMLError(detail string) *core.Error {
	return &core.Error{
		Kind:      core.KindValidation,
		Component: "orchestrator",
		Message:   detail,
		Err:       core.ErrWorkflowInvalid,
	}
}
