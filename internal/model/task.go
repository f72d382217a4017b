package model

import "time"

// Task is a created destination-side task record.
type Task struct {
	ID               int64     `json:"id"`
	DiscussionID     int64     `json:"discussion_id"`
	SyncJobID        int64     `json:"sync_job_id"`
	TeamID           int64     `json:"team_id"`
	OutputID         int64     `json:"output_id"`
	ExternalID       string    `json:"external_id"`
	ExternalURL      string    `json:"external_url"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Priority         string    `json:"priority,omitempty"`
	Assignee         *string   `json:"assignee,omitempty"`
	Domain           string    `json:"domain,omitempty"`
	IsMultiTaskChild bool      `json:"is_multi_task_child"`
	TaskIndex        int32     `json:"task_index"`
	CreatedAt        time.Time `json:"created_at"`
}
