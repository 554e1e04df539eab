// Package flow holds the persisted representation of a flow row and its
// status enum. These types cross the GORM boundary directly; the scheduler
// package converts to/from the strongly-typed model.Plan/[]model.Task at
// its edge.
package flow

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Row is the `flows` table row. Plan and TaskDefinitions are opaque JSON at
// rest (per SPEC_FULL §3) and decoded into model.Plan / []model.Task by the
// scheduler store.
type Row struct {
	ID              int64 `gorm:"primaryKey;autoIncrement"`
	FlowName        string
	Plan            datatypes.JSON
	CurrentStage    int
	RunningTasks    pq.Int64Array `gorm:"type:integer[]"`
	FinishedTasks   pq.Int64Array `gorm:"type:integer[]"`
	FailedTasks     pq.Int64Array `gorm:"type:integer[]"`
	TaskDefinitions datatypes.JSON
	Status          Status `gorm:"type:flow_status"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Row) TableName() string { return "flows" }

// Brief is the list projection returned by ListFlows / ListTerminatedFlows.
type Brief struct {
	ID          int64  `json:"id"`
	FlowName    string `json:"flow_name"`
	Status      Status `json:"status"`
	NumRunning  int    `json:"num_running"`
	NumFinished int    `json:"num_finished"`
	NumFailed   int    `json:"num_failed"`
	NumTotal    int    `json:"num_total"`
}

// Secret is the `secrets` table row.
type Secret struct {
	SecretKey   string `gorm:"primaryKey;column:secret_key"`
	SecretValue string `gorm:"column:secret_value"`
}

func (Secret) TableName() string { return "secrets" }
