package orchestrator

import "testing"

func TestParseWorkflowYAMLBuildsValidDAG(t *testing.T) {
	doc := []byte(`
id: wf1
tenant: t1
steps:
  - step_id: A
    agent_id: agentA
    task_type: ask
    params:
      prompt: go
  - step_id: B
    agent_id: agentB
    task_type: ask
    depends_on: [A]
    retry_count: 2
    timeout: 5s
`)
	wf, err := ParseWorkflowYAML(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wf.ID != "wf1" || wf.Tenant != "t1" || len(wf.Steps) != 2 {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
	for _, s := range wf.Steps {
		if s.StepID == "B" {
			if _, ok := s.DependsOn["A"]; !ok {
				t.Fatalf("expected step B to depend on A")
			}
			if s.RetryCount != 2 || s.Timeout.Seconds() != 5 {
				t.Fatalf("unexpected step B fields: %+v", s)
			}
		}
	}
}

func TestParseWorkflowYAMLRejectsCycle(t *testing.T) {
	doc := []byte(`
id: wf1
tenant: t1
steps:
  - step_id: A
    agent_id: agentA
    depends_on: [B]
  - step_id: B
    agent_id: agentB
    depends_on: [A]
`)
	if _, err := ParseWorkflowYAML(doc); err == nil {
		t.Fatalf("expected cycle to be rejected")
	}
}
