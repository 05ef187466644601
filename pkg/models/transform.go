// Package models contains shared data models used across the stylizer codebase.
package models

import (
	"context"
	"errors"
)

// Sentinel errors shared by every Transformer implementation.
var (
	ErrProviderRejected    = errors.New("transformation provider rejected the request")
	ErrProviderUnavailable = errors.New("transformation provider unavailable")
	ErrInvalidResponse     = errors.New("transformation provider returned invalid response")
	ErrUnknownHandle       = errors.New("unknown transformation handle")
)

// Handle correlates Submit, Poll and Fetch calls for one external job.
// It is owned by the provider and never stored on a Job.
type Handle string

const (
	PollPending   = "pending"
	PollCompleted = "completed"
	PollFailed    = "failed"
)

// PollResult is the outcome of a single, non-blocking status check.
type PollResult struct {
	State string
	// Progress is an optional hint in [0, 1] while State is pending.
	Progress *float64
	// ResultRef locates the produced artifact once State is completed.
	ResultRef string
	// Reason carries the provider's explanation when State is failed.
	Reason string
}

// Transformer is the core interface every stylization backend implements.
// Never call a specific backend directly; inject this interface.
//
// Submit, Poll and Fetch model an asynchronous external job. Backends that
// finish synchronously return a handle whose first Poll is already terminal.
type Transformer interface {
	// Submit starts a transformation of the artifact at inputPath. The
	// directive must be forwarded to the backend verbatim.
	Submit(ctx context.Context, inputPath, directive string) (Handle, error)
	// Poll checks the state of a submitted transformation once.
	Poll(ctx context.Context, h Handle) (PollResult, error)
	// Fetch materializes a completed result at outputPath and returns it.
	Fetch(ctx context.Context, resultRef, outputPath string) (string, error)
	// Analyze describes a produced artifact. Callers must tolerate errors.
	Analyze(ctx context.Context, resultPath string) (Analysis, error)
	// Name returns the provider identifier (e.g., "simulated", "replicate").
	Name() string
}

// Analysis is human-readable commentary on a stylized image.
type Analysis struct {
	Description string   `json:"description"`
	StyleNotes  []string `json:"styleNotes"`
}

// IsComplete reports whether both the description and at least one style note are present.
func (a Analysis) IsComplete() bool {
	return a.Description != "" && len(a.StyleNotes) > 0
}

// PresetAnalysis is the fixed commentary used by backends that do not
// inspect their output.
func PresetAnalysis() Analysis {
	return Analysis{
		Description: "Transformed with Studio Ghibli's magical aesthetic",
		StyleNotes: []string{
			"Vibrant, hand-painted color palette characteristic of Ghibli films",
			"Soft, dreamlike lighting and atmosphere",
			"Delicate linework and attention to natural details",
			"Whimsical elements added to enhance the magical feel",
		},
	}
}
