// Package scheduler owns durable flow state and advances flows stage by
// stage with crash-safe semantics (SPEC_FULL §4.2). It is the sole writer
// of the flows table; the executor loop is its only caller for mutating
// operations.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	flowdomain "github.com/flowmium/flowmium/internal/domain/flow"
	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/realtime/bus"
	"github.com/flowmium/flowmium/internal/realtime/events"
)

// ErrFlowDoesNotExist is returned by the mark-operations when the target
// row does not exist (SPEC_FULL §4.2).
var ErrFlowDoesNotExist = errors.New("scheduler: flow does not exist")

// TaskInstance pairs a task's index within its flow with its definition,
// as returned by ScheduleTasks for the newly-active stage.
type TaskInstance struct {
	TaskID int
	Task   model.Task
}

// FlowRunningTasks is the projection returned by GetRunningOrPendingFlowIDs.
type FlowRunningTasks struct {
	ID           int64
	RunningTasks []int
}

// FlowDetail is the full row projection returned by GetFlow.
type FlowDetail struct {
	ID              int64
	FlowName        string
	Plan            model.Plan
	CurrentStage    int
	RunningTasks    []int
	FinishedTasks   []int
	FailedTasks     []int
	TaskDefinitions []model.Task
	Status          flowdomain.Status
}

// Store is the scheduler's contract, consumed by the executor loop and the
// HTTP API handlers.
type Store interface {
	CreateFlow(ctx context.Context, name string, plan model.Plan, tasks []model.Task) (int64, error)
	MarkTaskRunning(ctx context.Context, flowID int64, taskID int) error
	MarkTaskFinished(ctx context.Context, flowID int64, taskID int) error
	MarkTaskFailed(ctx context.Context, flowID int64, taskID int) error
	GetRunningOrPendingFlowIDs(ctx context.Context) ([]FlowRunningTasks, error)
	// ScheduleTasks returns nil, nil when the flow did not advance (no
	// readiness, or a terminal/unknown flow).
	ScheduleTasks(ctx context.Context, flowID int64) ([]TaskInstance, error)
	ListFlows(ctx context.Context) ([]flowdomain.Brief, error)
	GetFlow(ctx context.Context, flowID int64) (*FlowDetail, error)
	ListTerminatedFlows(ctx context.Context, offset, limit int) ([]flowdomain.Brief, error)
}

const maxFlowIDsPerTick = 1000

// gormStore is the production Store backed by Postgres via GORM. Mutating
// operations use raw SQL (db.Raw/db.Exec) where GORM's chainable API
// cannot express the required atomic predicate — the same escape hatch the
// teacher reaches for in internal/data/repos/jobs/job_run.go's
// ClaimNextRunnable.
type gormStore struct {
	db  *gorm.DB
	bus bus.Bus
}

func NewStore(db *gorm.DB, eventBus bus.Bus) Store {
	return &gormStore{db: db, bus: eventBus}
}

func marshalPlan(plan model.Plan) (datatypes.JSON, error) {
	stages := make([][]int, len(plan))
	for i, stage := range plan {
		stages[i] = stage.TaskIDs()
	}
	b, err := json.Marshal(stages)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func marshalTasks(tasks []model.Task) (datatypes.JSON, error) {
	b, err := json.Marshal(tasks)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func (s *gormStore) CreateFlow(ctx context.Context, name string, plan model.Plan, tasks []model.Task) (int64, error) {
	planJSON, err := marshalPlan(plan)
	if err != nil {
		return 0, fmt.Errorf("serialize plan: %w", err)
	}
	tasksJSON, err := marshalTasks(tasks)
	if err != nil {
		return 0, fmt.Errorf("serialize task definitions: %w", err)
	}

	row := flowdomain.Row{
		FlowName:        name,
		Plan:            planJSON,
		CurrentStage:    0,
		RunningTasks:    nil,
		FinishedTasks:   nil,
		FailedTasks:     nil,
		TaskDefinitions: tasksJSON,
		Status:          flowdomain.StatusPending,
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("create flow: %w", err)
	}

	s.publish(ctx, events.FlowCreated(row.ID))
	return row.ID, nil
}

func (s *gormStore) publish(ctx context.Context, evt events.Event) {
	if s.bus == nil {
		return
	}
	_ = s.bus.Publish(ctx, evt)
}

// markTaskRunningSQL appends task_id to running_tasks (deduped) and moves
// status to running. Idempotent: calling it twice for the same task is a
// no-op the second time.
const markTaskRunningSQL = `
UPDATE flows
SET running_tasks = CASE WHEN running_tasks @> ARRAY[?::integer] THEN running_tasks ELSE array_append(running_tasks, ?::integer) END,
    status = 'running'
WHERE id = ?
`

func (s *gormStore) MarkTaskRunning(ctx context.Context, flowID int64, taskID int) error {
	res := s.db.WithContext(ctx).Exec(markTaskRunningSQL, taskID, taskID, flowID)
	if res.Error != nil {
		return fmt.Errorf("mark task running: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFlowDoesNotExist
	}
	s.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusRunning))
	return nil
}

// markTaskFinishedSQL is the dedup-fixed replacement for the original's
// unconditional array_append (SPEC_FULL §9 item 1 / spec.md §9 item 1): the
// dedup check and the success-transition count both read finished_tasks
// BEFORE this statement's own append, so a duplicate mark_task_finished
// call for the same task neither double-counts nor can prematurely flip
// status to success.
const markTaskFinishedSQL = `
UPDATE flows
SET running_tasks = array_remove(running_tasks, ?::integer),
    finished_tasks = CASE WHEN finished_tasks @> ARRAY[?::integer] THEN finished_tasks ELSE array_append(finished_tasks, ?::integer) END,
    status = CASE
        WHEN status IN ('success', 'failed') THEN status
        WHEN finished_tasks @> ARRAY[?::integer] THEN status
        WHEN jsonb_array_length(task_definitions::jsonb) = cardinality(finished_tasks) + 1 THEN 'success'
        ELSE status
    END
WHERE id = ?
`

func (s *gormStore) MarkTaskFinished(ctx context.Context, flowID int64, taskID int) error {
	res := s.db.WithContext(ctx).Exec(markTaskFinishedSQL, taskID, taskID, taskID, taskID, flowID)
	if res.Error != nil {
		return fmt.Errorf("mark task finished: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFlowDoesNotExist
	}
	s.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusFinished))
	return nil
}

const markTaskFailedSQL = `
UPDATE flows
SET running_tasks = array_remove(running_tasks, ?::integer),
    failed_tasks = CASE WHEN failed_tasks @> ARRAY[?::integer] THEN failed_tasks ELSE array_append(failed_tasks, ?::integer) END,
    status = 'failed'
WHERE id = ?
`

func (s *gormStore) MarkTaskFailed(ctx context.Context, flowID int64, taskID int) error {
	res := s.db.WithContext(ctx).Exec(markTaskFailedSQL, taskID, taskID, taskID, flowID)
	if res.Error != nil {
		return fmt.Errorf("mark task failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFlowDoesNotExist
	}
	s.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusFailed))
	return nil
}

func (s *gormStore) GetRunningOrPendingFlowIDs(ctx context.Context) ([]FlowRunningTasks, error) {
	var rows []flowdomain.Row
	err := s.db.WithContext(ctx).
		Select("id", "running_tasks").
		Where("status IN ?", []flowdomain.Status{flowdomain.StatusRunning, flowdomain.StatusPending}).
		Order("id ASC").
		Limit(maxFlowIDsPerTick).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("get running or pending flow ids: %w", err)
	}

	out := make([]FlowRunningTasks, len(rows))
	for i, r := range rows {
		out[i] = FlowRunningTasks{ID: r.ID, RunningTasks: int64SliceToInt(r.RunningTasks)}
	}
	return out, nil
}

// scheduleTasksSQL is the atomic advancement primitive (SPEC_FULL §4.2).
// Unlike the original (spec.md §9 item 5 / the captured Rust SQL), the
// current_stage < len(plan)-1 bound only gates the RUNNING-advance branch:
// gating it unconditionally (as the original does) makes single-stage
// flows unschedulable, which would violate testable property #9. The
// PENDING branch always matches regardless of plan length.
const scheduleTasksSQL = `
WITH stage_ids AS (
    SELECT id,
           COALESCE(
               (SELECT array_agg(elem::int) FROM jsonb_array_elements_text(plan::jsonb -> current_stage) AS elem),
               ARRAY[]::integer[]
           ) AS ids
    FROM flows
    WHERE id = ?
),
updated AS (
    UPDATE flows
    SET current_stage = CASE WHEN flows.status = 'running' THEN flows.current_stage + 1 ELSE flows.current_stage END
    FROM stage_ids
    WHERE flows.id = stage_ids.id
      AND flows.status IN ('running', 'pending')
      AND (
          flows.status = 'pending'
          OR (
              flows.current_stage < jsonb_array_length(flows.plan::jsonb) - 1
              AND flows.finished_tasks @> stage_ids.ids
          )
      )
    RETURNING flows.id, flows.current_stage, flows.plan, flows.task_definitions
)
SELECT current_stage, (plan::jsonb -> current_stage) AS task_id_list, task_definitions AS tasks
FROM updated
`

type scheduleTasksRow struct {
	CurrentStage int
	TaskIDList   datatypes.JSON
	Tasks        datatypes.JSON
}

func (s *gormStore) ScheduleTasks(ctx context.Context, flowID int64) ([]TaskInstance, error) {
	var row scheduleTasksRow
	res := s.db.WithContext(ctx).Raw(scheduleTasksSQL, flowID).Scan(&row)
	if res.Error != nil {
		return nil, fmt.Errorf("schedule tasks: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}

	var ids []int
	if err := json.Unmarshal(row.TaskIDList, &ids); err != nil {
		return nil, fmt.Errorf("schedule tasks: decode stage task ids: %w", err)
	}
	var tasks []model.Task
	if err := json.Unmarshal(row.Tasks, &tasks); err != nil {
		return nil, fmt.Errorf("schedule tasks: decode task definitions: %w", err)
	}

	out := make([]TaskInstance, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(tasks) {
			return nil, fmt.Errorf("schedule tasks: stage referenced out-of-range task id %d", id)
		}
		out = append(out, TaskInstance{TaskID: id, Task: tasks[id]})
	}
	return out, nil
}

func (s *gormStore) ListFlows(ctx context.Context) ([]flowdomain.Brief, error) {
	return s.briefQuery(ctx, nil, 0, maxFlowIDsPerTick)
}

func (s *gormStore) ListTerminatedFlows(ctx context.Context, offset, limit int) ([]flowdomain.Brief, error) {
	statuses := []flowdomain.Status{flowdomain.StatusSuccess, flowdomain.StatusFailed}
	return s.briefQuery(ctx, statuses, offset, limit)
}

func (s *gormStore) briefQuery(ctx context.Context, statuses []flowdomain.Status, offset, limit int) ([]flowdomain.Brief, error) {
	var rows []flowdomain.Row
	q := s.db.WithContext(ctx).Order("id ASC")
	if statuses != nil {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}

	briefs := make([]flowdomain.Brief, len(rows))
	for i, r := range rows {
		var tasks []model.Task
		_ = json.Unmarshal(r.TaskDefinitions, &tasks)
		briefs[i] = flowdomain.Brief{
			ID:          r.ID,
			FlowName:    r.FlowName,
			Status:      r.Status,
			NumRunning:  len(r.RunningTasks),
			NumFinished: len(r.FinishedTasks),
			NumFailed:   len(r.FailedTasks),
			NumTotal:    len(tasks),
		}
	}
	return briefs, nil
}

func (s *gormStore) GetFlow(ctx context.Context, flowID int64) (*FlowDetail, error) {
	var row flowdomain.Row
	err := s.db.WithContext(ctx).First(&row, "id = ?", flowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFlowDoesNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	var stages [][]int
	if err := json.Unmarshal(row.Plan, &stages); err != nil {
		return nil, fmt.Errorf("get flow: decode plan: %w", err)
	}
	plan := make(model.Plan, len(stages))
	for i, ids := range stages {
		stage := model.Stage{}
		for _, id := range ids {
			stage[id] = struct{}{}
		}
		plan[i] = stage
	}

	var tasks []model.Task
	if err := json.Unmarshal(row.TaskDefinitions, &tasks); err != nil {
		return nil, fmt.Errorf("get flow: decode task definitions: %w", err)
	}

	return &FlowDetail{
		ID:              row.ID,
		FlowName:        row.FlowName,
		Plan:            plan,
		CurrentStage:    row.CurrentStage,
		RunningTasks:    int64SliceToInt(row.RunningTasks),
		FinishedTasks:   int64SliceToInt(row.FinishedTasks),
		FailedTasks:     int64SliceToInt(row.FailedTasks),
		TaskDefinitions: tasks,
		Status:          row.Status,
	}, nil
}

func int64SliceToInt(a []int64) []int {
	out := make([]int, len(a))
	for i, v := range a {
		out[i] = int(v)
	}
	return out
}
