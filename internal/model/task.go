package model

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of an async transformation task.
type TaskStatus string

const (
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents an async media transformation job and its outcome.
type Task struct {
	ID           uuid.UUID  `json:"task_id"`
	Status       TaskStatus `json:"status"`
	TaskType     string     `json:"task_type,omitempty"` // media namespace: image / audio / video / document
	SourceBucket string     `json:"source_bucket,omitempty"`
	SourceKey    string     `json:"source_key,omitempty"`
	TargetBucket string     `json:"target_bucket,omitempty"`
	TargetKey    string     `json:"target_key,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at,omitzero"`
	UpdatedAt    time.Time  `json:"updated_at,omitzero"`
}
