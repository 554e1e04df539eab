package scheduler

import (
	"context"
	"sort"
	"sync"

	flowdomain "github.com/flowmium/flowmium/internal/domain/flow"
	"github.com/flowmium/flowmium/internal/flow/model"
	"github.com/flowmium/flowmium/internal/realtime/bus"
	"github.com/flowmium/flowmium/internal/realtime/events"
)

// memRow is the in-memory mirror of flowdomain.Row, kept as typed Go
// values rather than JSON columns.
type memRow struct {
	id              int64
	flowName        string
	plan            model.Plan
	currentStage    int
	runningTasks    map[int]struct{}
	finishedTasks   map[int]struct{}
	failedTasks     map[int]struct{}
	taskDefinitions []model.Task
	status          flowdomain.Status
}

// MemStore is an in-memory Store implementing the same stage-advance and
// mark rules as gormStore's raw SQL (including the §9 dedup fix and the
// single-stage scheduling fix), with two differences: MarkTaskFinished on a
// success or failed flow leaves the row unchanged (gormStore still moves the
// task from running to finished), and GetRunningOrPendingFlowIDs has no
// per-tick row cap. It is used to exercise scenario-level tests
// (SPEC_FULL §8) without a Postgres instance — SPEC_FULL §8 calls for
// faking the store interface at the executor layer rather than running the
// Postgres-only CTE syntax against sqlite.
type MemStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*memRow
	bus    bus.Bus
}

func NewMemStore(eventBus bus.Bus) *MemStore {
	return &MemStore{rows: map[int64]*memRow{}, bus: eventBus}
}

func (m *MemStore) publish(ctx context.Context, evt events.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, evt)
}

func (m *MemStore) CreateFlow(ctx context.Context, name string, plan model.Plan, tasks []model.Task) (int64, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.rows[id] = &memRow{
		id:              id,
		flowName:        name,
		plan:            plan,
		currentStage:    0,
		runningTasks:    map[int]struct{}{},
		finishedTasks:   map[int]struct{}{},
		failedTasks:     map[int]struct{}{},
		taskDefinitions: tasks,
		status:          flowdomain.StatusPending,
	}
	m.mu.Unlock()

	m.publish(ctx, events.FlowCreated(id))
	return id, nil
}

func (m *MemStore) MarkTaskRunning(ctx context.Context, flowID int64, taskID int) error {
	m.mu.Lock()
	row, ok := m.rows[flowID]
	if !ok {
		m.mu.Unlock()
		return ErrFlowDoesNotExist
	}
	row.runningTasks[taskID] = struct{}{}
	row.status = flowdomain.StatusRunning
	m.mu.Unlock()

	m.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusRunning))
	return nil
}

func (m *MemStore) MarkTaskFinished(ctx context.Context, flowID int64, taskID int) error {
	m.mu.Lock()
	row, ok := m.rows[flowID]
	if !ok {
		m.mu.Unlock()
		return ErrFlowDoesNotExist
	}
	if row.status == flowdomain.StatusSuccess || row.status == flowdomain.StatusFailed {
		m.mu.Unlock()
		m.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusFinished))
		return nil
	}
	delete(row.runningTasks, taskID)
	if _, already := row.finishedTasks[taskID]; !already {
		row.finishedTasks[taskID] = struct{}{}
		if len(row.finishedTasks) == len(row.taskDefinitions) {
			row.status = flowdomain.StatusSuccess
		}
	}
	m.mu.Unlock()

	m.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusFinished))
	return nil
}

func (m *MemStore) MarkTaskFailed(ctx context.Context, flowID int64, taskID int) error {
	m.mu.Lock()
	row, ok := m.rows[flowID]
	if !ok {
		m.mu.Unlock()
		return ErrFlowDoesNotExist
	}
	delete(row.runningTasks, taskID)
	row.failedTasks[taskID] = struct{}{}
	row.status = flowdomain.StatusFailed
	m.mu.Unlock()

	m.publish(ctx, events.TaskStatusUpdate(flowID, taskID, events.StatusFailed))
	return nil
}

func (m *MemStore) GetRunningOrPendingFlowIDs(ctx context.Context) ([]FlowRunningTasks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, row := range m.rows {
		if row.status == flowdomain.StatusRunning || row.status == flowdomain.StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]FlowRunningTasks, 0, len(ids))
	for _, id := range ids {
		row := m.rows[id]
		out = append(out, FlowRunningTasks{ID: id, RunningTasks: sortedKeys(row.runningTasks)})
	}
	return out, nil
}

func (m *MemStore) ScheduleTasks(ctx context.Context, flowID int64) ([]TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[flowID]
	if !ok {
		return nil, nil
	}
	if row.status != flowdomain.StatusPending && row.status != flowdomain.StatusRunning {
		return nil, nil
	}

	if row.status == flowdomain.StatusPending {
		return taskInstancesForStage(row, row.currentStage), nil
	}

	// Running: advance only if the active stage is fully finished and
	// there is a next stage (single-stage-flow fix: the bound only gates
	// this branch, not the pending branch above).
	if row.currentStage >= len(row.plan)-1 {
		return nil, nil
	}
	for id := range row.plan[row.currentStage] {
		if _, done := row.finishedTasks[id]; !done {
			return nil, nil
		}
	}
	row.currentStage++
	return taskInstancesForStage(row, row.currentStage), nil
}

func taskInstancesForStage(row *memRow, stageIdx int) []TaskInstance {
	ids := row.plan[stageIdx].TaskIDs()
	out := make([]TaskInstance, 0, len(ids))
	for _, id := range ids {
		out = append(out, TaskInstance{TaskID: id, Task: row.taskDefinitions[id]})
	}
	return out
}

func (m *MemStore) ListFlows(ctx context.Context) ([]flowdomain.Brief, error) {
	return m.brief(nil)
}

func (m *MemStore) ListTerminatedFlows(ctx context.Context, offset, limit int) ([]flowdomain.Brief, error) {
	briefs, err := m.brief([]flowdomain.Status{flowdomain.StatusSuccess, flowdomain.StatusFailed})
	if err != nil {
		return nil, err
	}
	if offset >= len(briefs) {
		return nil, nil
	}
	end := offset + limit
	if end > len(briefs) || limit <= 0 {
		end = len(briefs)
	}
	return briefs[offset:end], nil
}

func (m *MemStore) brief(statuses []flowdomain.Status) ([]flowdomain.Brief, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]flowdomain.Brief, 0, len(ids))
	for _, id := range ids {
		row := m.rows[id]
		if statuses != nil && !statusIn(row.status, statuses) {
			continue
		}
		out = append(out, flowdomain.Brief{
			ID:          row.id,
			FlowName:    row.flowName,
			Status:      row.status,
			NumRunning:  len(row.runningTasks),
			NumFinished: len(row.finishedTasks),
			NumFailed:   len(row.failedTasks),
			NumTotal:    len(row.taskDefinitions),
		})
	}
	return out, nil
}

func (m *MemStore) GetFlow(ctx context.Context, flowID int64) (*FlowDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[flowID]
	if !ok {
		return nil, ErrFlowDoesNotExist
	}
	return &FlowDetail{
		ID:              row.id,
		FlowName:        row.flowName,
		Plan:            row.plan,
		CurrentStage:    row.currentStage,
		RunningTasks:    sortedKeys(row.runningTasks),
		FinishedTasks:   sortedKeys(row.finishedTasks),
		FailedTasks:     sortedKeys(row.failedTasks),
		TaskDefinitions: row.taskDefinitions,
		Status:          row.status,
	}, nil
}

func sortedKeys(m map[int]struct{}) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func statusIn(s flowdomain.Status, set []flowdomain.Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
