package model

import "github.com/google/uuid"

// TaskMessage is the queue payload for an accepted async task. Operations is
// carried verbatim so the worker parses and validates against the same
// string the client submitted.
type TaskMessage struct {
	TaskID       uuid.UUID `json:"task_id"`
	MediaType    string    `json:"media_type"`
	SourceKey    string    `json:"source_key"`
	TargetBucket string    `json:"target_bucket"`
	TargetKey    string    `json:"target_key"`
	Operations   string    `json:"operations"`
}

// TaskNotification is published after dead-letter convergence so downstream
// consumers learn about tasks that exhausted their processing window.
type TaskNotification struct {
	TaskID       uuid.UUID  `json:"task_id"`
	Status       TaskStatus `json:"status"`
	TargetKey    string     `json:"target_key"`
	ErrorMessage string     `json:"error_message,omitempty"`
}
