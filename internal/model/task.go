package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidPriority = errors.New("model: invalid task priority")

type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

func (p Priority) IsValid() bool {
	return p >= PriorityNone && p <= PriorityHigh
}

func (p Priority) String() string {
	switch p {
	case PriorityNone:
		return "none"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

func ParsePriority(raw string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return PriorityNone, nil
	case "low":
		return PriorityLow, nil
	case "medium", "med":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNone, fmt.Errorf("%w: %q", ErrInvalidPriority, raw)
	}
}

type Subtask struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

type Task struct {
	ID            string
	Title         string
	Notes         string
	DueAt         *time.Time
	StartAt       *time.Time
	Priority      Priority
	CompletedAt   *time.Time
	DeletedAt     *time.Time
	Recurrence    Recurrence
	RecurrenceEnd *time.Time
	Subtasks      []Subtask
	Tags          []string
	DeviceID      string
	SyncVersion   int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (t Task) IsOpen() bool {
	return t.CompletedAt == nil && t.DeletedAt == nil
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("model: task id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return errors.New("model: task title is required")
	}
	if !t.Priority.IsValid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(t.Priority))
	}
	if err := t.Recurrence.Validate(); err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		return errors.New("model: task created_at is required")
	}
	if t.StartAt != nil && t.DueAt != nil && t.DueAt.Before(*t.StartAt) {
		return errors.New("model: task due_at must not precede start_at")
	}
	return nil
}
