package types

import (
	"encoding/json"
	"time"
)

// Category names a class of jobs sharing one executor and one store
type Category string

const (
	CategoryList     Category = "list"
	CategoryDownload Category = "download"
	CategoryMove     Category = "move"
	CategoryUpload   Category = "upload"
)

// Categories lists every job category in dispatch order
var Categories = []Category{CategoryList, CategoryDownload, CategoryMove, CategoryUpload}

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is a persisted unit of work
type Job struct {
	ID        string          `json:"id"`
	Category  Category        `json:"category"`
	Func      string          `json:"func"`
	Args      json.RawMessage `json:"args,omitempty"`
	Status    JobStatus       `json:"status"`
	Retries   int             `json:"retries"`
	NextRunAt time.Time       `json:"next_run_at"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a copy of the job that shares no mutable state
func (j *Job) Clone() *Job {
	c := *j
	if j.Args != nil {
		c.Args = append(json.RawMessage(nil), j.Args...)
	}
	return &c
}

// DecodeArgs unmarshals the job arguments into v
func (j *Job) DecodeArgs(v any) error {
	if len(j.Args) == 0 {
		return nil
	}
	return json.Unmarshal(j.Args, v)
}

// JobStats is a snapshot of one category executor
type JobStats struct {
	Category  Category `json:"category"`
	Workers   int      `json:"workers"`
	Running   int      `json:"running"`
	Queued    int      `json:"queued"`
	Spawned   int64    `json:"spawned"`
	Completed int64    `json:"completed"`
	Pending   int      `json:"pending"`
}
