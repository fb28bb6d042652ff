// Package job tracks asynchronous tool work from creation to a terminal
// state.
package job

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrExists            = errors.New("job already exists")
	ErrTerminal          = errors.New("job is in a terminal state")
	ErrActive            = errors.New("job is still active")
	ErrInvalidTransition = errors.New("invalid job transition")
)

// Status is a job lifecycle state.
type Status string

const (
	StatusCreated    Status = "created"
	StatusRunning    Status = "running"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{StatusCreated, StatusRunning, StatusProcessing, StatusCompleted, StatusFailed}

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Terminal reports completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusRunning:
		return 1
	case StatusProcessing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	}
	return -1
}

// ActiveStatuses are the non-terminal states.
func ActiveStatuses() []Status {
	return []Status{StatusCreated, StatusRunning, StatusProcessing}
}

// TerminalStatuses are the final states.
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusFailed}
}

// Predecessors returns the states a job may move to next from. Ranks only
// increase, so this is every non-terminal state of lower rank.
func Predecessors(next Status) []Status {
	var out []Status
	for _, s := range ActiveStatuses() {
		if s.rank() < next.rank() {
			out = append(out, s)
		}
	}
	return out
}

// Change classifies a requested transition.
type Change int

const (
	// Apply means the transition must be written.
	Apply Change = iota
	// Noop means the job is already in the requested state.
	Noop
)

// CheckTransition decides what moving from current to next means. Leaving a
// terminal state yields ErrTerminal and moving backwards yields
// ErrInvalidTransition. Repeating the current state, terminal or not, is a
// no-op.
func CheckTransition(current, next Status) (Change, error) {
	if next.rank() < 0 {
		return Noop, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}
	if current == next {
		return Noop, nil
	}
	if current.Terminal() {
		return Noop, fmt.Errorf("%w: cannot move from %s to %s", ErrTerminal, current, next)
	}
	if next.rank() < current.rank() {
		return Noop, fmt.Errorf("%w: cannot move from %s back to %s", ErrInvalidTransition, current, next)
	}
	return Apply, nil
}

// Job is a tracked unit of asynchronous work.
type Job struct {
	ID           string         `json:"job_id"`
	TenantID     string         `json:"tenant_id"`
	RequestType  string         `json:"request_type"`
	Status       Status         `json:"status"`
	Input        map[string]any `json:"input,omitempty"`
	Result       any            `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Update describes a transition.
type Update struct {
	Status Status
	// Result replaces the stored result when non-nil.
	Result any
	// Error replaces the stored error message when non-empty.
	Error string
	At    time.Time
}

// Filter selects jobs. Zero fields match everything.
type Filter struct {
	TenantID    string
	Status      Status
	RequestType string
	// Query is a case-insensitive substring of input, result or error.
	Query string
	// Active restricts to non-terminal jobs.
	Active bool
	Limit  int
	Offset int
}

// Page is one page of search results.
type Page struct {
	Jobs   []*Job `json:"jobs"`
	Total  int    `json:"total"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// Stats are raw aggregates computed by a store.
type Stats struct {
	Total                int64
	Recent               int64
	ByStatus             map[Status]int64
	ByRequestType        map[string]int64
	AvgTerminalLatencyMS float64
}

// Store persists jobs. Transition and Delete must be atomic per job id.
type Store interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Transition(ctx context.Context, id string, u Update) (*Job, Change, error)
	Search(ctx context.Context, f Filter) (*Page, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context, since time.Time) (*Stats, error)
	Close() error
}
