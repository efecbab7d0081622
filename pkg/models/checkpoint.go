package models

import "time"

// CheckpointStatus represents where a user's automation run currently is.
type CheckpointStatus string

const (
	CheckpointIdle     CheckpointStatus = "idle"
	CheckpointRunning  CheckpointStatus = "running"
	CheckpointRequired CheckpointStatus = "checkpoint_required"
	CheckpointDone     CheckpointStatus = "done"
	CheckpointFailed   CheckpointStatus = "failed"
)

// CheckpointState is the per-user checkpoint record served by the status endpoint.
type CheckpointState struct {
	State         CheckpointStatus `json:"state"`
	Message       string           `json:"message,omitempty"`
	Step          string           `json:"step,omitempty"`
	CheckpointURL string           `json:"checkpointUrl,omitempty"`
	SessionID     string           `json:"sessionId,omitempty"`
	UpdatedAt     time.Time        `json:"updatedAt,omitempty"`
}

// ActionType enumerates the inputs a client may inject into a paused page.
type ActionType string

const (
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionPress    ActionType = "press"
	ActionWait     ActionType = "wait"
)

// ActionRequest is the body for POST /v1/checkpoint/{userId}/action.
type ActionRequest struct {
	Type     ActionType `json:"type"`
	Selector string     `json:"selector,omitempty"`
	Text     string     `json:"text,omitempty"`
	X        float64    `json:"x,omitempty"`
	Y        float64    `json:"y,omitempty"`
	Key      string     `json:"key,omitempty"`
}

// ActionResponse is returned after an action executed successfully.
type ActionResponse struct {
	OK         bool   `json:"ok"`
	CurrentURL string `json:"currentUrl"`
}
