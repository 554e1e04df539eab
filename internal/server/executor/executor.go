// Package executor drives flows to completion: each tick it asks the
// scheduler to advance every running-or-pending flow, spawns container
// jobs for newly-scheduled tasks, and observes already-running tasks
// against the pod runtime. Grounded on the teacher's internal/jobs/worker.go
// for the outer tick-loop idiom and
// original_source/flowmium/src/server/executor.rs for the per-tick
// algorithm and constants.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"

	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/flow/planner"
	"github.com/flowmium/flowmium/internal/pkg/logger"
	"github.com/flowmium/flowmium/internal/secrets"
	"github.com/flowmium/flowmium/internal/server/scheduler"
)

// ErrFlowNameTooLong mirrors the Rust original's name-length validation
// (spec.md §9 item 13 / SPEC_FULL §4.2), enforced by InstantiateFlow
// rather than inside the scheduler store.
var ErrFlowNameTooLong = errors.New("executor: flow name exceeds maximum length")

type Executor struct {
	store   scheduler.Store
	runtime Runtime
	secrets secrets.Store
	cfg     JobConfig
	log     *logger.Logger
}

func New(store scheduler.Store, runtime Runtime, secretStore secrets.Store, cfg JobConfig, log *logger.Logger) *Executor {
	return &Executor{
		store:   store,
		runtime: runtime,
		secrets: secretStore,
		cfg:     cfg,
		log:     log.With("component", "Executor"),
	}
}

// InstantiateFlow validates the flow name, constructs the execution plan,
// and creates the flow row. Mirrors executor.rs's instantiate_flow, which
// checks name length before calling construct_plan+create_flow.
func (e *Executor) InstantiateFlow(ctx context.Context, name string, tasks []model.Task) (int64, error) {
	if len(name) > model.MaxFlowNameLength {
		return 0, ErrFlowNameTooLong
	}
	plan, err := planner.ConstructPlan(tasks)
	if err != nil {
		return 0, err
	}
	return e.store.CreateFlow(ctx, name, plan, tasks)
}

// Start runs the tick loop in a background goroutine, per the teacher's
// internal/jobs/worker.go Start(ctx) pattern: a 1-second ticker inside a
// ctx-scoped select loop.
func (e *Executor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

func (e *Executor) tick(ctx context.Context) {
	flows, err := e.store.GetRunningOrPendingFlowIDs(ctx)
	if err != nil {
		e.log.Warn("get running or pending flow ids failed", "error", err)
		return
	}

	for _, flow := range flows {
		// REDESIGN: the Rust original's per-flow try/early-return then
		// loop-continue becomes an explicit per-flow func()+continue here
		// (SPEC_FULL §4.3) — a panic in one flow's processing must not
		// crash the tick for the remaining flows.
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("panic while processing flow", "flow_id", flow.ID, "panic", r)
				}
			}()
			e.processFlow(ctx, flow)
		}()
	}
}

func (e *Executor) processFlow(ctx context.Context, flow scheduler.FlowRunningTasks) {
	scheduled, err := e.store.ScheduleTasks(ctx, flow.ID)
	if err != nil {
		e.log.Warn("schedule tasks failed", "flow_id", flow.ID, "error", err)
		return
	}

	if len(scheduled) > 0 {
		for _, inst := range scheduled {
			if err := e.spawn(ctx, flow.ID, inst); err != nil {
				e.log.Error("spawn task failed", "flow_id", flow.ID, "task_id", inst.TaskID, "error", err)
				if failErr := e.store.MarkTaskFailed(ctx, flow.ID, inst.TaskID); failErr != nil {
					e.log.Error("mark task failed also failed", "flow_id", flow.ID, "task_id", inst.TaskID, "error", failErr)
				}
				// One spawn failure is enough to stop driving this flow
				// for this tick; the next tick observes terminal state.
				return
			}
			if err := e.store.MarkTaskRunning(ctx, flow.ID, inst.TaskID); err != nil {
				e.log.Error("mark task running failed", "flow_id", flow.ID, "task_id", inst.TaskID, "error", err)
				return
			}
		}
		return
	}

	// No advancement this tick: observe already-running tasks.
	for _, taskID := range flow.RunningTasks {
		e.observe(ctx, flow.ID, taskID)
	}
}

func (e *Executor) spawn(ctx context.Context, flowID int64, inst scheduler.TaskInstance) error {
	resolvedEnv, err := e.resolveEnv(ctx, inst.Task.Env)
	if err != nil {
		return fmt.Errorf("resolve env: %w", err)
	}

	job, err := buildJob(e.cfg, flowID, inst.TaskID, inst.Task, resolvedEnv)
	if err != nil {
		return fmt.Errorf("build job manifest: %w", err)
	}

	if err := e.runtime.CreateJob(ctx, job); err != nil {
		if IsAlreadyExists(err) {
			// §9 item 4: on restart the same job name may already exist
			// from a prior crash between spawn and mark_running; treat
			// it as a successful (idempotent) spawn.
			e.log.Info("job already exists, treating as successful spawn", "job", job.Name)
			return nil
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (e *Executor) resolveEnv(ctx context.Context, vars []model.EnvVar) ([]corev1.EnvVar, error) {
	out := make([]corev1.EnvVar, 0, len(vars))
	for _, v := range vars {
		value := v.Value
		if v.IsSecretRef() {
			resolved, err := e.secrets.Get(ctx, v.FromSecret)
			if err != nil {
				return nil, fmt.Errorf("secret %q: %w", v.FromSecret, err)
			}
			value = resolved
		}
		out = append(out, corev1.EnvVar{Name: v.Name, Value: value})
	}
	return out, nil
}

func (e *Executor) observe(ctx context.Context, flowID int64, taskID int) {
	labelSet := map[string]string{
		e.cfg.FlowIDLabel: fmt.Sprintf("%d", flowID),
		e.cfg.TaskIDLabel: fmt.Sprintf("%d", taskID),
	}

	status, err := e.runtime.ReadPodPhase(ctx, e.cfg.Namespace, labelSet)
	if err != nil {
		e.log.Warn("read pod phase failed, marking task failed", "flow_id", flowID, "task_id", taskID, "error", err)
		e.failTask(ctx, flowID, taskID)
		return
	}

	switch status {
	case TaskPending, TaskRunning:
		// no-op, re-observe next tick
	case TaskFinished:
		if err := e.store.MarkTaskFinished(ctx, flowID, taskID); err != nil {
			e.log.Error("mark task finished failed", "flow_id", flowID, "task_id", taskID, "error", err)
		}
	case TaskFailed, TaskUnknown:
		e.failTask(ctx, flowID, taskID)
	}
}

func (e *Executor) failTask(ctx context.Context, flowID int64, taskID int) {
	if err := e.store.MarkTaskFailed(ctx, flowID, taskID); err != nil {
		e.log.Error("mark task failed failed", "flow_id", flowID, "task_id", taskID, "error", err)
	}
}
