package executor

import (
	"context"
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"

	flowdomain "github.com/flowmium/flowmium/internal/domain/flow"
	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/server/scheduler"
)

// fakeRuntime is an in-memory Runtime fake used in place of
// fake.NewSimpleClientset (DESIGN.md explains the choice); it directly
// tracks created jobs and lets the test drive pod phases without a real API
// server.
type fakeRuntime struct {
	jobs    map[string]*batchv1.Job
	phases  map[string]TaskStatus
	matched func(labelSet map[string]string) string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{jobs: map[string]*batchv1.Job{}, phases: map[string]TaskStatus{}}
}

func (f *fakeRuntime) CreateJob(ctx context.Context, job *batchv1.Job) error {
	if _, exists := f.jobs[job.Name]; exists {
		return apierrors.NewAlreadyExists(schema.GroupResource{Resource: "jobs"}, job.Name)
	}
	f.jobs[job.Name] = job
	return nil
}

func (f *fakeRuntime) ListPodsByLabels(ctx context.Context, namespace string, labelSet map[string]string) ([]corev1.Pod, error) {
	return nil, nil
}

func (f *fakeRuntime) ReadPodPhase(ctx context.Context, namespace string, labelSet map[string]string) (TaskStatus, error) {
	key := labelSet["flowmium.io/task-id"]
	if status, ok := f.phases[key]; ok {
		return status, nil
	}
	return TaskRunning, nil
}

func testConfig() JobConfig {
	return JobConfig{
		Namespace:        "default",
		InitContainerImg: "flowmium/flowmium:latest",
		FlowIDLabel:      "flowmium.io/flow-id",
		TaskIDLabel:      "flowmium.io/task-id",
		BucketName:       "flowmium",
		TaskStoreURL:     "http://localhost:9000",
	}
}

func TestInstantiateFlowRejectsLongName(t *testing.T) {
	ctx := context.Background()
	store := scheduler.NewMemStore(nil)
	rt := newFakeRuntime()
	ex := New(store, rt, nil, testConfig(), logger.NewNop())

	longName := ""
	for i := 0; i < model.MaxFlowNameLength+1; i++ {
		longName += "a"
	}

	_, err := ex.InstantiateFlow(ctx, longName, []model.Task{{Name: "a", Image: "busybox", Cmd: []string{"echo"}}})
	if err != ErrFlowNameTooLong {
		t.Fatalf("err = %v, want ErrFlowNameTooLong", err)
	}
}

func TestTickSpawnsAndAdvancesSingleTaskFlow(t *testing.T) {
	ctx := context.Background()
	store := scheduler.NewMemStore(nil)
	rt := newFakeRuntime()
	ex := New(store, rt, nil, testConfig(), logger.NewNop())

	id, err := ex.InstantiateFlow(ctx, "solo", []model.Task{{Name: "only", Image: "busybox", Cmd: []string{"echo"}}})
	if err != nil {
		t.Fatalf("instantiate flow: %v", err)
	}

	ex.tick(ctx)

	if len(rt.jobs) != 1 {
		t.Fatalf("expected one job created, got %d", len(rt.jobs))
	}

	detail, err := store.GetFlow(ctx, id)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if detail.Status != flowdomain.StatusRunning {
		t.Fatalf("status after spawn tick = %s, want running", detail.Status)
	}
	if len(detail.RunningTasks) != 1 {
		t.Fatalf("running tasks = %v, want exactly one", detail.RunningTasks)
	}

	rt.phases["0"] = TaskFinished
	ex.tick(ctx)

	detail, err = store.GetFlow(ctx, id)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if detail.Status != flowdomain.StatusSuccess {
		t.Fatalf("status after finish tick = %s, want success", detail.Status)
	}
}

func TestObserveUnknownPodFailsTask(t *testing.T) {
	ctx := context.Background()
	store := scheduler.NewMemStore(nil)
	rt := newFakeRuntime()
	ex := New(store, rt, nil, testConfig(), logger.NewNop())

	id, err := ex.InstantiateFlow(ctx, "solo", []model.Task{{Name: "only", Image: "busybox", Cmd: []string{"echo"}}})
	if err != nil {
		t.Fatalf("instantiate flow: %v", err)
	}

	ex.tick(ctx)
	rt.phases["0"] = TaskUnknown
	ex.tick(ctx)

	detail, err := store.GetFlow(ctx, id)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if detail.Status != flowdomain.StatusFailed {
		t.Fatalf("status = %s, want failed", detail.Status)
	}
}

func TestSpawnTreatsAlreadyExistsAsSuccess(t *testing.T) {
	ctx := context.Background()
	store := scheduler.NewMemStore(nil)
	rt := newFakeRuntime()
	ex := New(store, rt, nil, testConfig(), logger.NewNop())

	job, err := buildJob(testConfig(), 1, 0, model.Task{Name: "dup", Image: "busybox", Cmd: []string{"echo"}}, nil)
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	rt.jobs[job.Name] = job

	id, err := ex.InstantiateFlow(ctx, "dup", []model.Task{{Name: "dup", Image: "busybox", Cmd: []string{"echo"}}})
	if err != nil {
		t.Fatalf("instantiate flow: %v", err)
	}

	ex.tick(ctx)

	detail, err := store.GetFlow(ctx, id)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if detail.Status != flowdomain.StatusRunning {
		t.Fatalf("status = %s, want running (pre-existing job treated as successful spawn)", detail.Status)
	}
}
