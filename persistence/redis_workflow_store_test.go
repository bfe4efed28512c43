package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/itsneelabh/agentcore/orchestrator"
)

func newTestStore(t *testing.T) (*RedisWorkflowStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := NewRedisWorkflowStore(WithRedisURL(mr.Addr()))
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestAppendAndListRecentRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	wr := orchestrator.WorkflowResult{
		Status: orchestrator.WorkflowSuccess,
		StepResults: map[string]orchestrator.StepResult{
			"A": {StepID: "A", Status: orchestrator.StepSuccess, Attempts: 1},
		},
	}
	rec := ToRecord("wf1", "t1", wr, time.Unix(1000, 0))

	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("unexpected error appending: %v", err)
	}

	out, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error listing: %v", err)
	}
	if len(out) != 1 || out[0].WorkflowID != "wf1" || out[0].Status != string(orchestrator.WorkflowSuccess) {
		t.Fatalf("unexpected records: %+v", out)
	}
	if len(out[0].Steps) != 1 || out[0].Steps[0].StepID != "A" {
		t.Fatalf("unexpected step records: %+v", out[0].Steps)
	}
}

func TestListRecentOrdersNewestFirst(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	older := ToRecord("wf-old", "t1", orchestrator.WorkflowResult{Status: orchestrator.WorkflowSuccess}, time.Unix(100, 0))
	newer := ToRecord("wf-new", "t1", orchestrator.WorkflowResult{Status: orchestrator.WorkflowFailed}, time.Unix(200, 0))

	if err := store.Append(ctx, older); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Append(ctx, newer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0].WorkflowID != "wf-new" || out[1].WorkflowID != "wf-old" {
		t.Fatalf("expected newest-first ordering, got %+v", out)
	}
}

func TestListRecentSkipsUnknownSchemaVersion(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	rec := ToRecord("wf1", "t1", orchestrator.WorkflowResult{Status: orchestrator.WorkflowSuccess}, time.Unix(1, 0))
	rec.SchemaVersion = schemaVersion + 1
	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected unknown schema version record to be skipped, got %+v", out)
	}
}
