package models

import "time"

const (
	JobStatusPending   = "pending"
	JobStatusCompleted = "completed"
	JobStatusError     = "error"
)

// IsTerminalStatus reports whether status is one a job never leaves.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusError
}

// Job tracks one upload-to-stylization lifecycle. The API returns the id on
// POST /api/images/upload; the client polls GET /api/images/{id} until the
// status is completed or error.
type Job struct {
	ID               int64      `db:"id"                 json:"id"`
	OriginalFileName string     `db:"original_file_name" json:"original_file_name"`
	OriginalPath     string     `db:"original_path"      json:"original_path"`
	ResultPath       *string    `db:"processed_path"     json:"processed_path,omitempty"`
	Status           string     `db:"status"             json:"status"`
	ErrorMessage     *string    `db:"error_message"      json:"error_message,omitempty"`
	CreatedAt        time.Time  `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"         json:"updated_at"`
	CompletedAt      *time.Time `db:"completed_at"       json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has reached completed or error.
func (j *Job) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// Clone returns a deep copy so callers never share pointer fields with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.ResultPath != nil {
		p := *j.ResultPath
		c.ResultPath = &p
	}
	if j.ErrorMessage != nil {
		m := *j.ErrorMessage
		c.ErrorMessage = &m
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
