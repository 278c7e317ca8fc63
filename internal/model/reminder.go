package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidReminderType = errors.New("model: invalid reminder type")

type ReminderType string

const (
	ReminderTypeDue      ReminderType = "due"
	ReminderTypeReminder ReminderType = "reminder"
	ReminderTypeFollowup ReminderType = "followup"
)

func (r ReminderType) IsValid() bool {
	switch r {
	case ReminderTypeDue, ReminderTypeReminder, ReminderTypeFollowup:
		return true
	default:
		return false
	}
}

type Reminder struct {
	ID                   string
	TaskID               string
	FireAt               time.Time
	Type                 ReminderType
	MinutesBefore        *int
	LastNotifiedAt       *time.Time
	LastNotifiedDeviceID string
	SnoozedUntil         *time.Time
	SnoozeCount          int
	Recurrence           Recurrence
	RecurrenceEnd        *time.Time
	Dismissed            bool
	FiredAt              *time.Time
	DeletedAt            *time.Time
	DeviceID             string
	SyncVersion          int64
	LockedUntil          *time.Time
	LockedByDevice       string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsDue reports whether the reminder belongs to the due set at now.
func (r Reminder) IsDue(now time.Time) bool {
	if r.Dismissed || r.DeletedAt != nil {
		return false
	}
	if r.FireAt.After(now) {
		return false
	}
	if r.SnoozedUntil != nil && r.SnoozedUntil.After(now) {
		return false
	}
	if r.LockedUntil != nil && r.LockedUntil.After(now) {
		return false
	}
	return true
}

func (r Reminder) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("model: reminder id is required")
	}
	if strings.TrimSpace(r.TaskID) == "" {
		return errors.New("model: reminder task_id is required")
	}
	if r.FireAt.IsZero() {
		return errors.New("model: reminder fire_at is required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidReminderType, r.Type)
	}
	if r.MinutesBefore != nil && *r.MinutesBefore < 0 {
		return errors.New("model: reminder minutes_before must not be negative")
	}
	if err := r.Recurrence.Validate(); err != nil {
		return err
	}
	return nil
}
