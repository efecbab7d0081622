package models

import "time"

// SessionStatus is the snapshot of a user's automation session returned by
// GET /v1/sessions/status.
type SessionStatus struct {
	SessionID            string    `json:"sessionId"`
	IsActive             bool      `json:"isActive"`
	IsBrowserRunning     bool      `json:"isBrowserRunning"`
	IsLoggedIn           bool      `json:"isLoggedIn"`
	ApplicationProgress  int       `json:"applicationProgress"`
	CurrentQuestion      string    `json:"currentQuestion,omitempty"`
	TotalQuestions       int       `json:"totalQuestions"`
	CurrentQuestionIndex int       `json:"currentQuestionIndex"`
	LastActivity         time.Time `json:"lastActivity"`
}

// Job is one scraped job posting.
type Job struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Company   string `json:"company"`
	Location  string `json:"location,omitempty"`
	URL       string `json:"url"`
	EasyApply bool   `json:"easyApply"`
}

// FetchJobsRequest is the body for POST /v1/jobs/fetch.
type FetchJobsRequest struct {
	Keywords string `json:"keywords"`
	Location string `json:"location,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// AnswerRequest is the body for POST /v1/jobs/answer.
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// Event is a coarse status transition pushed over the realtime channel.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	Message   string    `json:"message,omitempty"`
	Step      string    `json:"step,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
