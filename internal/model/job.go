package model

import "time"

// JobStage names the pipeline stage a job is currently executing.
type JobStage string

const (
	JobStageIngestion      JobStage = "ingestion"
	JobStageThreadBuilding JobStage = "thread_building"
	JobStageAIAnalysis     JobStage = "ai_analysis"
	JobStageTaskCreation   JobStage = "task_creation"
	JobStageNotification   JobStage = "notification"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job records one processing attempt for a Discussion. A Discussion may have
// multiple Jobs across retries.
type Job struct {
	ID           int64      `json:"id"`
	DiscussionID int64      `json:"discussion_id"`
	TeamID       int64      `json:"team_id"`
	Stage        JobStage   `json:"stage"`
	Status       JobStatus  `json:"status"`
	Attempts     int32      `json:"attempts"`
	Error        *string    `json:"error,omitempty"`
	ErrorStack   *string    `json:"error_stack,omitempty"`
	TaskIDs      []int64    `json:"task_ids,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMs   *int64     `json:"duration_ms,omitempty"`
}
