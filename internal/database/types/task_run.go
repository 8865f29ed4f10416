package types

import "time"

// TaskRun records when a scheduled task last completed.
type TaskRun struct {
	TaskType  string    `bun:",pk"      json:"taskType"`
	LastRunAt time.Time `bun:",notnull" json:"lastRunAt"`
}
