package scheduler

import (
	"context"
	"reflect"
	"strings"
	"testing"

	flowdomain "github.com/flowmium/flowmium/internal/domain/flow"
	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/flow/planner"
	"github.com/flowmium/flowmium/internal/realtime/bus"
)

func linearTasks() []model.Task {
	return []model.Task{
		{Name: "A", Image: "busybox", Cmd: []string{"echo", "a"}},
		{Name: "B", Image: "busybox", Cmd: []string{"echo", "b"}, Depends: []string{"A"}},
		{Name: "C", Image: "busybox", Cmd: []string{"echo", "c"}, Depends: []string{"B"}},
	}
}

func mustPlan(t *testing.T, tasks []model.Task) model.Plan {
	t.Helper()
	plan, err := planner.ConstructPlan(tasks)
	if err != nil {
		t.Fatalf("construct plan: %v", err)
	}
	return plan
}

// Testable property 8: create_flow -> get_flow round trip.
func TestMemStoreCreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(nil)
	tasks := linearTasks()
	plan := mustPlan(t, tasks)

	id, err := store.CreateFlow(ctx, "lin", plan, tasks)
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}

	detail, err := store.GetFlow(ctx, id)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if detail.FlowName != "lin" {
		t.Fatalf("flow name = %q, want lin", detail.FlowName)
	}
	if detail.Status != flowdomain.StatusPending {
		t.Fatalf("status = %s, want pending", detail.Status)
	}
	if !reflect.DeepEqual(detail.TaskDefinitions, tasks) {
		t.Fatalf("task definitions not preserved: got %+v want %+v", detail.TaskDefinitions, tasks)
	}
}

// Testable property 7: schedule_tasks is idempotent for a Pending flow with
// no intervening mark.
func TestScheduleTasksIdempotentReDrive(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(nil)
	tasks := linearTasks()
	plan := mustPlan(t, tasks)
	id, _ := store.CreateFlow(ctx, "lin", plan, tasks)

	first, err := store.ScheduleTasks(ctx, id)
	if err != nil {
		t.Fatalf("schedule tasks: %v", err)
	}
	second, err := store.ScheduleTasks(ctx, id)
	if err != nil {
		t.Fatalf("schedule tasks: %v", err)
	}

	if len(first) != 1 || len(second) != 1 || first[0].TaskID != second[0].TaskID {
		t.Fatalf("expected identical re-drive results, got %+v and %+v", first, second)
	}
}

// Testable property 9: a single-task flow reaches Success after exactly
// one mark_task_finished. This is the single-stage-plan fix: the original
// current_stage < len(plan)-1 guard (captured from
// original_source/flowmium/src/server/scheduler.rs) would make this flow
// unschedulable if applied to the Pending branch too.
func TestSingleTaskFlowReachesSuccess(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(nil)
	tasks := []model.Task{{Name: "only", Image: "busybox", Cmd: []string{"echo"}}}
	plan := mustPlan(t, tasks)
	id, _ := store.CreateFlow(ctx, "solo", plan, tasks)

	scheduled, err := store.ScheduleTasks(ctx, id)
	if err != nil {
		t.Fatalf("schedule tasks: %v", err)
	}
	if len(scheduled) != 1 {
		t.Fatalf("expected the single task to be scheduled, got %+v", scheduled)
	}

	if err := store.MarkTaskRunning(ctx, id, scheduled[0].TaskID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := store.MarkTaskFinished(ctx, id, scheduled[0].TaskID); err != nil {
		t.Fatalf("mark finished: %v", err)
	}

	detail, err := store.GetFlow(ctx, id)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if detail.Status != flowdomain.StatusSuccess {
		t.Fatalf("status = %s, want success", detail.Status)
	}
}

// Testable property 1/2: dedup of a double mark_task_finished call (SPEC_FULL
// §9 item 1 / spec.md §9 item 1) must not inflate finished_tasks or
// prematurely trip Success.
func TestMarkTaskFinishedDedup(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(nil)
	tasks := linearTasks()
	plan := mustPlan(t, tasks)
	id, _ := store.CreateFlow(ctx, "lin", plan, tasks)

	scheduled, _ := store.ScheduleTasks(ctx, id)
	taskID := scheduled[0].TaskID
	_ = store.MarkTaskRunning(ctx, id, taskID)

	if err := store.MarkTaskFinished(ctx, id, taskID); err != nil {
		t.Fatalf("mark finished: %v", err)
	}
	if err := store.MarkTaskFinished(ctx, id, taskID); err != nil {
		t.Fatalf("mark finished (dup): %v", err)
	}

	detail, _ := store.GetFlow(ctx, id)
	if len(detail.FinishedTasks) != 1 {
		t.Fatalf("finished_tasks inflated by duplicate call: %v", detail.FinishedTasks)
	}
	if detail.Status == flowdomain.StatusSuccess {
		t.Fatalf("duplicate finish of one of three tasks must not trigger success")
	}
}

// Testable property 11: mark_task_failed immediately sets status = Failed.
func TestMarkTaskFailedSetsFailedImmediately(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(nil)
	tasks := linearTasks()
	plan := mustPlan(t, tasks)
	id, _ := store.CreateFlow(ctx, "lin", plan, tasks)

	scheduled, _ := store.ScheduleTasks(ctx, id)
	_ = store.MarkTaskRunning(ctx, id, scheduled[0].TaskID)
	if err := store.MarkTaskFailed(ctx, id, scheduled[0].TaskID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	detail, _ := store.GetFlow(ctx, id)
	if detail.Status != flowdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", detail.Status)
	}
	if len(detail.FailedTasks) != 1 {
		t.Fatalf("failed_tasks = %v, want exactly one entry", detail.FailedTasks)
	}
}

// Testable property 12: schedule_tasks on a terminal flow returns nil.
func TestScheduleTasksOnTerminalFlowReturnsNil(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore(nil)
	tasks := linearTasks()
	plan := mustPlan(t, tasks)
	id, _ := store.CreateFlow(ctx, "lin", plan, tasks)

	scheduled, _ := store.ScheduleTasks(ctx, id)
	_ = store.MarkTaskRunning(ctx, id, scheduled[0].TaskID)
	_ = store.MarkTaskFailed(ctx, id, scheduled[0].TaskID)

	again, err := store.ScheduleTasks(ctx, id)
	if err != nil {
		t.Fatalf("schedule tasks: %v", err)
	}
	if again != nil {
		t.Fatalf("expected nil for a terminal flow, got %+v", again)
	}
}

// Scenario A — linear happy path event sequence.
func TestScenarioALinearHappyPath(t *testing.T) {
	ctx := context.Background()
	b := bus.NewBroadcastBus()
	sub := b.Subscribe()
	store := NewMemStore(b)

	tasks := linearTasks()
	plan := mustPlan(t, tasks)
	id, _ := store.CreateFlow(ctx, "lin", plan, tasks)

	for i := 0; i < 3; i++ {
		scheduled, err := store.ScheduleTasks(ctx, id)
		if err != nil {
			t.Fatalf("schedule tasks: %v", err)
		}
		if len(scheduled) != 1 {
			t.Fatalf("stage %d: expected exactly one task, got %+v", i, scheduled)
		}
		taskID := scheduled[0].TaskID
		if err := store.MarkTaskRunning(ctx, id, taskID); err != nil {
			t.Fatalf("mark running: %v", err)
		}
		if err := store.MarkTaskFinished(ctx, id, taskID); err != nil {
			t.Fatalf("mark finished: %v", err)
		}
	}

	detail, _ := store.GetFlow(ctx, id)
	if detail.Status != flowdomain.StatusSuccess {
		t.Fatalf("status = %s, want success", detail.Status)
	}

	wantKinds := []string{"flow_created_event", "running", "finished", "running", "finished", "running", "finished"}
	for i, want := range wantKinds {
		evt, _, ok, err := sub.Recv(ctx)
		if err != nil || !ok {
			t.Fatalf("recv %d: ok=%v err=%v", i, ok, err)
		}
		got := string(evt.Status)
		if got == "" {
			got = string(evt.Kind)
		}
		if !strings.Contains(want, got) && got != want {
			t.Fatalf("event %d: got %q, want %q", i, got, want)
		}
	}
}
