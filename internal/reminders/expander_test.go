package reminders

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agendapro/agenda/internal/logging"
	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/storage"
)

func TestExpandUsesConfiguredLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	repo, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "expand.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	// 08:00 local on the day before the spring-forward switch.
	fire := time.Date(2025, 3, 29, 8, 0, 0, 0, berlin).UTC()
	task := model.Task{ID: "t", Title: "standup", Recurrence: model.RecurrenceDaily, CreatedAt: fire}
	if err := repo.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	minutes := 15
	rem := model.Reminder{ID: "r", TaskID: "t", FireAt: fire, Type: model.ReminderTypeReminder, MinutesBefore: &minutes}

	ex := NewExpander(repo, berlin, "dev-a", logging.Discard())
	ex.newID = func() string { return "next" }
	exp, err := ex.Expand(context.Background(), task, rem, false, fire)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	want := time.Date(2025, 3, 30, 8, 0, 0, 0, berlin)
	if !exp.Reminder.FireAt.Equal(want) {
		t.Fatalf("fire = %s, want %s", exp.Reminder.FireAt, want)
	}
	if exp.Reminder.MinutesBefore == nil || *exp.Reminder.MinutesBefore != 15 {
		t.Fatalf("offset not inherited: %#v", exp.Reminder.MinutesBefore)
	}
	stored, err := repo.GetReminder(context.Background(), "next")
	if err != nil {
		t.Fatalf("get next: %v", err)
	}
	if stored.Type != model.ReminderTypeReminder {
		t.Fatalf("stored type = %q", stored.Type)
	}
}

func TestExpandNonRecurringIsNoop(t *testing.T) {
	ex := NewExpander(nil, nil, "dev-a", nil)
	exp, err := ex.Expand(context.Background(), model.Task{ID: "t"}, model.Reminder{ID: "r"}, true, time.Now())
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !exp.Empty() {
		t.Fatalf("expected empty expansion, got %#v", exp)
	}
}
