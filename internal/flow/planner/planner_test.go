package planner

import (
	"testing"

	"github.com/flowmium/flowmium/internal/flow/model"
)

func taskNamed(name string, depends ...string) model.Task {
	return model.Task{Name: name, Image: "busybox", Cmd: []string{"echo"}, Depends: depends}
}

func stageNames(tasks []model.Task, stage model.Stage) []string {
	names := make([]string, 0, len(stage))
	for _, id := range stage.TaskIDs() {
		names = append(names, tasks[id].Name)
	}
	return names
}

func TestConstructPlanLinear(t *testing.T) {
	tasks := []model.Task{
		taskNamed("A"),
		taskNamed("B", "A"),
		taskNamed("C", "B"),
	}

	plan, err := ConstructPlan(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 3 {
		t.Fatalf("expected 3 stages, got %d: %v", len(plan), plan)
	}
	for i, want := range []string{"A", "B", "C"} {
		got := stageNames(tasks, plan[i])
		if len(got) != 1 || got[0] != want {
			t.Fatalf("stage %d = %v, want [%s]", i, got, want)
		}
	}
}

// Scenario B — diamond with artifacts.
func TestConstructPlanDiamond(t *testing.T) {
	e := model.Task{Name: "E", Image: "busybox", Cmd: []string{"echo"}, Outputs: []model.Output{{Name: "X", Path: "/x"}}}
	d := model.Task{Name: "D", Image: "busybox", Cmd: []string{"echo"}, Depends: []string{"E"},
		Inputs: []model.Input{{From: "X", Path: "/x"}}, Outputs: []model.Output{{Name: "Y", Path: "/y"}}}
	b := model.Task{Name: "B", Image: "busybox", Cmd: []string{"echo"}, Depends: []string{"D"},
		Inputs: []model.Input{{From: "Y", Path: "/y"}}, Outputs: []model.Output{{Name: "YB", Path: "/yb"}}}
	c := model.Task{Name: "C", Image: "busybox", Cmd: []string{"echo"}, Depends: []string{"D"},
		Inputs: []model.Input{{From: "Y", Path: "/y"}}, Outputs: []model.Output{{Name: "YC", Path: "/yc"}}}
	a := model.Task{Name: "A", Image: "busybox", Cmd: []string{"echo"}, Depends: []string{"B", "C", "D", "E"},
		Inputs: []model.Input{{From: "X", Path: "/x"}, {From: "Y", Path: "/y"}, {From: "YB", Path: "/yb"}, {From: "YC", Path: "/yc"}}}

	tasks := []model.Task{e, d, b, c, a}

	plan, err := ConstructPlan(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan) != 4 {
		t.Fatalf("expected 4 stages, got %d: %v", len(plan), plan)
	}

	got0 := stageNames(tasks, plan[0])
	got1 := stageNames(tasks, plan[1])
	got2 := stageNames(tasks, plan[2])
	got3 := stageNames(tasks, plan[3])

	if len(got0) != 1 || got0[0] != "E" {
		t.Fatalf("stage 0 = %v, want [E]", got0)
	}
	if len(got1) != 1 || got1[0] != "D" {
		t.Fatalf("stage 1 = %v, want [D]", got1)
	}
	if len(got2) != 2 {
		t.Fatalf("stage 2 = %v, want two of [B C]", got2)
	}
	if len(got3) != 1 || got3[0] != "A" {
		t.Fatalf("stage 3 = %v, want [A]", got3)
	}
}

// Scenario D — cycle rejection.
func TestConstructPlanCyclic(t *testing.T) {
	tasks := []model.Task{
		taskNamed("A", "C"),
		taskNamed("B", "A"),
		taskNamed("C", "B"),
	}

	_, err := ConstructPlan(tasks)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != CyclicDependencies {
		t.Fatalf("expected CyclicDependencies, got %v", err)
	}
}

// Scenario E — dangling input.
func TestConstructPlanDanglingInput(t *testing.T) {
	tasks := []model.Task{
		taskNamed("A"),
		{Name: "B", Image: "busybox", Cmd: []string{"echo"}, Depends: []string{"A"},
			Inputs: []model.Input{{From: "DoesNotExist", Path: "/x"}}},
	}

	_, err := ConstructPlan(tasks)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != OutputDoesNotExist {
		t.Fatalf("expected OutputDoesNotExist, got %v", err)
	}
	if perr.Task != "B" || perr.Detail != "DoesNotExist" {
		t.Fatalf("unexpected error detail: %+v", perr)
	}
}

// Scenario F — input not from an ancestor.
func TestConstructPlanOutputNotFromParent(t *testing.T) {
	tasks := []model.Task{
		{Name: "A", Image: "busybox", Cmd: []string{"echo"}, Outputs: []model.Output{{Name: "foo", Path: "/foo"}}},
		taskNamed("B"),
		{Name: "C", Image: "busybox", Cmd: []string{"echo"}, Depends: []string{"B"},
			Inputs: []model.Input{{From: "foo", Path: "/foo"}}},
	}

	_, err := ConstructPlan(tasks)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != OutputNotFromParent {
		t.Fatalf("expected OutputNotFromParent, got %v", err)
	}
}

func TestConstructPlanDependentTaskDoesNotExist(t *testing.T) {
	tasks := []model.Task{taskNamed("A", "Missing")}

	_, err := ConstructPlan(tasks)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != DependentTaskDoesNotExist {
		t.Fatalf("expected DependentTaskDoesNotExist, got %v", err)
	}
}

func TestConstructPlanDuplicateTaskName(t *testing.T) {
	tasks := []model.Task{taskNamed("A"), taskNamed("A")}

	_, err := ConstructPlan(tasks)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != DuplicateTaskName {
		t.Fatalf("expected DuplicateTaskName, got %v", err)
	}
}

func TestConstructPlanOutputNotUnique(t *testing.T) {
	tasks := []model.Task{
		{Name: "A", Image: "busybox", Cmd: []string{"echo"}, Outputs: []model.Output{{Name: "dup", Path: "/a"}}},
		{Name: "B", Image: "busybox", Cmd: []string{"echo"}, Outputs: []model.Output{{Name: "dup", Path: "/b"}}},
	}

	_, err := ConstructPlan(tasks)
	perr, ok := err.(*Error)
	if !ok || perr.Kind != OutputNotUnique {
		t.Fatalf("expected OutputNotUnique, got %v", err)
	}
}

// Deterministic: equal input tasks yield equal plans (property 6).
func TestConstructPlanDeterministic(t *testing.T) {
	tasks := []model.Task{taskNamed("A"), taskNamed("B", "A")}

	p1, err := ConstructPlan(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := ConstructPlan(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p1) != len(p2) {
		t.Fatalf("plans differ in stage count: %v vs %v", p1, p2)
	}
	for i := range p1 {
		if len(stageNames(tasks, p1[i])) != len(stageNames(tasks, p2[i])) {
			t.Fatalf("stage %d differs between runs", i)
		}
	}
}
