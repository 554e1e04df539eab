// Package planner validates a flow's task DAG and compiles it into an
// ordered sequence of parallelizable stages.
package planner

import (
	"fmt"

	"github.com/flowmium/flowmium/internal/flow/model"
)

// ErrorKind discriminates the validation failures ConstructPlan can return.
type ErrorKind int

const (
	CyclicDependencies ErrorKind = iota
	DependentTaskDoesNotExist
	OutputNotUnique
	OutputNotFromParent
	OutputDoesNotExist
	DuplicateTaskName
)

// Error is a validation error raised by ConstructPlan. All fields besides
// Kind are best-effort detail for the message and may be empty.
type Error struct {
	Kind      ErrorKind
	Task      string
	Detail    string
	NodeIndex int
}

func (e *Error) Error() string {
	switch e.Kind {
	case CyclicDependencies:
		return fmt.Sprintf("cyclic dependencies found at task %d", e.NodeIndex)
	case DependentTaskDoesNotExist:
		return fmt.Sprintf("dependent task %s does not exist", e.Detail)
	case OutputNotUnique:
		return fmt.Sprintf("output %s not unique", e.Detail)
	case OutputNotFromParent:
		return fmt.Sprintf("input ref %s for task %s not from a parent task", e.Detail, e.Task)
	case OutputDoesNotExist:
		return fmt.Sprintf("input ref %s for task %s does not exist", e.Detail, e.Task)
	case DuplicateTaskName:
		return fmt.Sprintf("duplicate task name %s", e.Detail)
	default:
		return "planner: unknown error"
	}
}

type node struct {
	children map[int]struct{}
}

func constructTaskIDMap(tasks []model.Task) (map[string]int, *Error) {
	ids := make(map[string]int, len(tasks))
	for index, task := range tasks {
		if _, exists := ids[task.Name]; exists {
			return nil, &Error{Kind: DuplicateTaskName, Detail: task.Name}
		}
		ids[task.Name] = index
	}
	return ids, nil
}

func constructNodes(tasks []model.Task) ([]node, *Error) {
	ids, err := constructTaskIDMap(tasks)
	if err != nil {
		return nil, err
	}

	nodes := make([]node, len(tasks))
	for i, task := range tasks {
		n := node{children: map[int]struct{}{}}
		for _, dep := range task.Depends {
			childID, ok := ids[dep]
			if !ok {
				return nil, &Error{Kind: DependentTaskDoesNotExist, Detail: dep}
			}
			n.children[childID] = struct{}{}
		}
		nodes[i] = n
	}
	return nodes, nil
}

// isCyclicVisit runs a three-color DFS (white: unvisited, gray: discovered,
// black: finished) from nodeID, returning the node id of a back-edge target
// if a cycle is found.
func isCyclicVisit(nodes []node, nodeID int, discovered, finished map[int]struct{}) (int, bool) {
	discovered[nodeID] = struct{}{}

	for v := range nodes[nodeID].children {
		if _, gray := discovered[v]; gray {
			return v, true
		}
		if _, black := finished[v]; black {
			continue
		}
		if cycleAt, found := isCyclicVisit(nodes, v, discovered, finished); found {
			return cycleAt, true
		}
	}

	delete(discovered, nodeID)
	finished[nodeID] = struct{}{}
	return 0, false
}

func isCyclic(nodes []node) (int, bool) {
	discovered := map[int]struct{}{}
	finished := map[int]struct{}{}

	for id := range nodes {
		if _, gray := discovered[id]; gray {
			continue
		}
		if _, black := finished[id]; black {
			continue
		}
		if cycleAt, found := isCyclicVisit(nodes, id, discovered, finished); found {
			return cycleAt, true
		}
	}
	return 0, false
}

func nodeDependsOnNode(nodes []node, dependent, dependeeID int) bool {
	if _, ok := nodes[dependent].children[dependeeID]; ok {
		return true
	}
	for childID := range nodes[dependent].children {
		if nodeDependsOnNode(nodes, childID, dependeeID) {
			return true
		}
	}
	return false
}

func nodeDependsOnStage(nodes []node, nodeID int, stage model.Stage) bool {
	for stageNodeID := range stage {
		if nodeDependsOnNode(nodes, nodeID, stageNodeID) {
			return true
		}
	}
	return false
}

func stageDependsOnNode(nodes []node, nodeID int, stage model.Stage) bool {
	for stageNodeID := range stage {
		if nodeDependsOnNode(nodes, stageNodeID, nodeID) {
			return true
		}
	}
	return false
}

func addNodeToPlan(nodeID int, plan model.Plan, nodes []node) model.Plan {
	for stageIndex, stage := range plan {
		if nodeDependsOnStage(nodes, nodeID, stage) {
			continue
		}
		if stageDependsOnNode(nodes, nodeID, stage) {
			newPlan := make(model.Plan, 0, len(plan)+1)
			newPlan = append(newPlan, plan[:stageIndex]...)
			newPlan = append(newPlan, model.Stage{nodeID: struct{}{}})
			newPlan = append(newPlan, plan[stageIndex:]...)
			return newPlan
		}
		stage[nodeID] = struct{}{}
		return plan
	}

	return append(plan, model.Stage{nodeID: struct{}{}})
}

func validInputOutputs(tasks []model.Task, nodes []node) *Error {
	outputTaskID := make(map[string]int)
	for taskID, task := range tasks {
		for _, output := range task.Outputs {
			if _, exists := outputTaskID[output.Name]; exists {
				return &Error{Kind: OutputNotUnique, Detail: output.Name}
			}
			outputTaskID[output.Name] = taskID
		}
	}

	for taskID, task := range tasks {
		for _, input := range task.Inputs {
			fromTaskID, ok := outputTaskID[input.From]
			if !ok {
				return &Error{Kind: OutputDoesNotExist, Task: task.Name, Detail: input.From}
			}
			if !nodeDependsOnNode(nodes, taskID, fromTaskID) {
				return &Error{Kind: OutputNotFromParent, Task: task.Name, Detail: input.From}
			}
		}
	}

	return nil
}

// ConstructPlan validates tasks' dependency graph and artifact wiring, then
// stratifies them into a Plan of mutually-independent stages.
func ConstructPlan(tasks []model.Task) (model.Plan, error) {
	nodes, err := constructNodes(tasks)
	if err != nil {
		return nil, err
	}

	if nodeID, cyclic := isCyclic(nodes); cyclic {
		return nil, &Error{Kind: CyclicDependencies, NodeIndex: nodeID}
	}

	if err := validInputOutputs(tasks, nodes); err != nil {
		return nil, err
	}

	plan := model.Plan{}
	for nodeID := range nodes {
		plan = addNodeToPlan(nodeID, plan, nodes)
	}

	return plan, nil
}
