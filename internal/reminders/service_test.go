package reminders

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agendapro/agenda/internal/logging"
	"github.com/agendapro/agenda/internal/model"
	"github.com/agendapro/agenda/internal/storage"
)

type fixture struct {
	repo    *storage.SQLRepository
	service *Service
	now     time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	repo, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "reminders.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	f := &fixture{repo: repo, now: now}
	expander := NewExpander(repo, time.UTC, "dev-a", logging.Discard())
	f.service = NewService(repo, expander, "dev-a", logging.Discard(), WithClock(func() time.Time { return f.now }))
	return f
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	out, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return out
}

func (f *fixture) seed(t *testing.T, rule model.Recurrence, due time.Time, end *time.Time) (model.Task, model.Reminder) {
	t.Helper()
	ctx := context.Background()
	task := model.Task{
		ID:            "task-1",
		Title:         "Water the plants",
		Notes:         "balcony first",
		DueAt:         &due,
		Priority:      model.PriorityMedium,
		Recurrence:    rule,
		RecurrenceEnd: end,
		Subtasks:      []model.Subtask{{ID: "s1", Title: "fill can", Done: true}},
		Tags:          []string{"home"},
		DeviceID:      "dev-a",
		CreatedAt:     due.Add(-24 * time.Hour),
	}
	if err := f.repo.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	rem := model.Reminder{
		ID:            "rem-1",
		TaskID:        task.ID,
		FireAt:        due,
		Type:          model.ReminderTypeDue,
		Recurrence:    rule,
		RecurrenceEnd: end,
		DeviceID:      "dev-a",
		CreatedAt:     task.CreatedAt,
	}
	if err := f.repo.CreateReminder(ctx, rem); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	return task, rem
}

func dueIDs(t *testing.T, repo *storage.SQLRepository, at time.Time) map[string]bool {
	t.Helper()
	items, err := repo.FindDueReminders(context.Background(), at)
	if err != nil {
		t.Fatalf("find due: %v", err)
	}
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[item.ID] = true
	}
	return out
}

func TestSnoozePostponesUntilWindowEnds(t *testing.T) {
	fire := mustTime(t, "2025-03-01T09:00:00Z")
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	f.seed(t, model.RecurrenceNone, fire, nil)
	ctx := context.Background()

	if !dueIDs(t, f.repo, f.now)["rem-1"] {
		t.Fatal("expected reminder due at 09:05")
	}
	if ok, err := f.repo.TryAcquire(ctx, "rem-1", "dev-a", f.now, 5*time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	got, err := f.service.Snooze(ctx, "rem-1", 10)
	if err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if got.Dismissed {
		t.Fatal("snooze must not dismiss")
	}
	if got.SnoozeCount != 1 || got.SnoozedUntil == nil || !got.SnoozedUntil.Equal(mustTime(t, "2025-03-01T09:15:00Z")) {
		t.Fatalf("unexpected snooze state: %#v", got)
	}
	if got.LockedUntil != nil || got.LockedByDevice != "" {
		t.Fatalf("expected lease cleared, got until=%v by=%q", got.LockedUntil, got.LockedByDevice)
	}

	if dueIDs(t, f.repo, mustTime(t, "2025-03-01T09:10:00Z"))["rem-1"] {
		t.Fatal("reminder must stay hidden while snoozed")
	}
	if !dueIDs(t, f.repo, mustTime(t, "2025-03-01T09:15:00Z"))["rem-1"] {
		t.Fatal("reminder must be due once the snooze ends")
	}
	if !dueIDs(t, f.repo, mustTime(t, "2025-03-01T09:16:00Z"))["rem-1"] {
		t.Fatal("reminder must be due after the snooze window")
	}

	f.now = mustTime(t, "2025-03-01T09:16:00Z")
	again, err := f.service.Snooze(ctx, "rem-1", 5)
	if err != nil {
		t.Fatalf("second snooze: %v", err)
	}
	if again.SnoozeCount != 2 {
		t.Fatalf("expected snooze count 2, got %d", again.SnoozeCount)
	}
}

func TestSnoozeRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	f.seed(t, model.RecurrenceNone, mustTime(t, "2025-03-01T09:00:00Z"), nil)
	ctx := context.Background()

	for _, minutes := range []int{0, -5} {
		if _, err := f.service.Snooze(ctx, "rem-1", minutes); !errors.Is(err, ErrInvalidSnooze) {
			t.Fatalf("minutes=%d: expected ErrInvalidSnooze, got %v", minutes, err)
		}
	}
	if _, err := f.service.Snooze(ctx, "missing", 5); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.service.Dismiss(ctx, "rem-1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, err := f.service.Snooze(ctx, "rem-1", 5); !errors.Is(err, ErrResolved) {
		t.Fatalf("expected ErrResolved, got %v", err)
	}
}

func TestDismissAndCompleteAreTerminal(t *testing.T) {
	fire := mustTime(t, "2025-03-01T09:00:00Z")
	far := mustTime(t, "2030-01-01T00:00:00Z")
	ctx := context.Background()

	t.Run("dismiss", func(t *testing.T) {
		f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
		f.seed(t, model.RecurrenceNone, fire, nil)
		exp, err := f.service.Dismiss(ctx, "rem-1")
		if err != nil {
			t.Fatalf("dismiss: %v", err)
		}
		if !exp.Empty() {
			t.Fatalf("non-recurring dismiss must not expand: %#v", exp)
		}
		rem, err := f.repo.GetReminder(ctx, "rem-1")
		if err != nil {
			t.Fatalf("get reminder: %v", err)
		}
		if !rem.Dismissed || rem.FiredAt == nil || !rem.FiredAt.Equal(f.now) {
			t.Fatalf("unexpected dismissed reminder: %#v", rem)
		}
		task, err := f.repo.GetTask(ctx, "task-1")
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.CompletedAt != nil {
			t.Fatal("dismiss must not complete the task")
		}
		if len(dueIDs(t, f.repo, far)) != 0 {
			t.Fatal("dismissed reminder reappeared in due set")
		}
		if _, err := f.service.Dismiss(ctx, "rem-1"); err != nil {
			t.Fatalf("repeated dismiss: %v", err)
		}
	})

	t.Run("complete", func(t *testing.T) {
		f := newFixture(t, mustTime(t, "2025-03-01T09:10:00Z"))
		f.seed(t, model.RecurrenceNone, fire, nil)
		if _, err := f.service.Complete(ctx, "task-1", "rem-1"); err != nil {
			t.Fatalf("complete: %v", err)
		}
		task, err := f.repo.GetTask(ctx, "task-1")
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.CompletedAt == nil || !task.CompletedAt.Equal(f.now) {
			t.Fatalf("expected task completed at %s, got %v", f.now, task.CompletedAt)
		}
		if len(dueIDs(t, f.repo, far)) != 0 {
			t.Fatal("completed reminder reappeared in due set")
		}
	})
}

func TestCompleteRejectsForeignReminder(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:10:00Z"))
	f.seed(t, model.RecurrenceNone, mustTime(t, "2025-03-01T09:00:00Z"), nil)
	if _, err := f.service.Complete(context.Background(), "other-task", "rem-1"); !errors.Is(err, ErrTaskMismatch) {
		t.Fatalf("expected ErrTaskMismatch, got %v", err)
	}
}

func TestCompleteWeeklyCreatesOneSuccessor(t *testing.T) {
	fire := mustTime(t, "2025-03-03T09:00:00Z")
	f := newFixture(t, mustTime(t, "2025-03-03T09:10:00Z"))
	f.seed(t, model.RecurrenceWeekly, fire, nil)
	ctx := context.Background()

	exp, err := f.service.Complete(ctx, "task-1", "rem-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if exp.Task == nil || exp.Reminder == nil {
		t.Fatalf("expected successor task and reminder, got %#v", exp)
	}
	if exp.Task.ID == "task-1" || exp.Reminder.TaskID != exp.Task.ID {
		t.Fatalf("successor wiring wrong: task=%s reminder.task=%s", exp.Task.ID, exp.Reminder.TaskID)
	}
	wantFire := fire.AddDate(0, 0, 7)
	if !exp.Reminder.FireAt.Equal(wantFire) {
		t.Fatalf("next fire = %s, want %s", exp.Reminder.FireAt, wantFire)
	}

	successor, err := f.repo.GetTask(ctx, exp.Task.ID)
	if err != nil {
		t.Fatalf("get successor: %v", err)
	}
	if successor.CompletedAt != nil || successor.Recurrence != model.RecurrenceWeekly {
		t.Fatalf("successor must be open and weekly: %#v", successor)
	}
	if successor.DueAt == nil || !successor.DueAt.Equal(wantFire) {
		t.Fatalf("successor due = %v, want %s", successor.DueAt, wantFire)
	}
	if len(successor.Subtasks) != 1 || successor.Subtasks[0].Done {
		t.Fatalf("successor subtasks must be reset: %#v", successor.Subtasks)
	}

	all, err := f.repo.ListReminders(ctx, storage.ReminderListFilter{IncludeDismissed: true})
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected exactly one new reminder, got %d rows", len(all))
	}
	if _, err := f.service.Complete(ctx, "task-1", "rem-1"); err != nil {
		t.Fatalf("repeated complete: %v", err)
	}
	all, _ = f.repo.ListReminders(ctx, storage.ReminderListFilter{IncludeDismissed: true})
	if len(all) != 2 {
		t.Fatalf("repeated complete must not expand again, got %d rows", len(all))
	}
}

func TestCompleteAfterRecurrenceEndStopsSeries(t *testing.T) {
	fire := mustTime(t, "2025-03-03T09:00:00Z")
	end := mustTime(t, "2025-03-05T00:00:00Z")
	ctx := context.Background()

	t.Run("end already passed", func(t *testing.T) {
		f := newFixture(t, mustTime(t, "2025-03-06T09:00:00Z"))
		f.seed(t, model.RecurrenceWeekly, fire, &end)
		exp, err := f.service.Complete(ctx, "task-1", "rem-1")
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if !exp.Empty() || exp.Task != nil {
			t.Fatalf("expected no expansion, got %#v", exp)
		}
	})

	t.Run("next occurrence beyond end", func(t *testing.T) {
		f := newFixture(t, mustTime(t, "2025-03-03T09:10:00Z"))
		f.seed(t, model.RecurrenceWeekly, fire, &end)
		exp, err := f.service.Complete(ctx, "task-1", "rem-1")
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		if !exp.Empty() {
			t.Fatalf("expected no expansion, got %#v", exp)
		}
		all, _ := f.repo.ListReminders(ctx, storage.ReminderListFilter{IncludeDismissed: true})
		if len(all) != 1 {
			t.Fatalf("expected no new reminder rows, got %d", len(all))
		}
	})
}

func TestCompleteDailySuccessor(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:10:00Z"))
	f.seed(t, model.RecurrenceDaily, mustTime(t, "2025-03-01T09:00:00Z"), nil)

	exp, err := f.service.Complete(context.Background(), "task-1", "rem-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if exp.Reminder == nil || !exp.Reminder.FireAt.Equal(mustTime(t, "2025-03-02T09:00:00Z")) {
		t.Fatalf("unexpected successor reminder: %#v", exp.Reminder)
	}
}

func TestCompleteMonthlyClampsToMonthEnd(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-01-31T10:00:00Z"))
	f.seed(t, model.RecurrenceMonthly, mustTime(t, "2025-01-31T09:00:00Z"), nil)

	exp, err := f.service.Complete(context.Background(), "task-1", "rem-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	want := mustTime(t, "2025-02-28T09:00:00Z")
	if exp.Task == nil || exp.Task.DueAt == nil || !exp.Task.DueAt.Equal(want) {
		t.Fatalf("successor due = %#v, want %s", exp.Task, want)
	}
	if !exp.Reminder.FireAt.Equal(want) {
		t.Fatalf("successor fire = %s, want %s", exp.Reminder.FireAt, want)
	}
}

func TestDismissRecurringContinuesOnSameTask(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-07T09:05:00Z"))
	f.seed(t, model.RecurrenceWeekdays, mustTime(t, "2025-03-07T09:00:00Z"), nil)

	exp, err := f.service.Dismiss(context.Background(), "rem-1")
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if exp.Task != nil {
		t.Fatalf("dismiss must not create a task: %#v", exp.Task)
	}
	if exp.Reminder == nil || exp.Reminder.TaskID != "task-1" {
		t.Fatalf("expected next reminder on task-1, got %#v", exp.Reminder)
	}
	// Friday -> Monday
	if !exp.Reminder.FireAt.Equal(mustTime(t, "2025-03-10T09:00:00Z")) {
		t.Fatalf("next fire = %s", exp.Reminder.FireAt)
	}
	if exp.Reminder.Type != model.ReminderTypeDue || exp.Reminder.Recurrence != model.RecurrenceWeekdays {
		t.Fatalf("next reminder must inherit type and rule: %#v", exp.Reminder)
	}
}

type releaseRecorder struct {
	released []string
}

func (r *releaseRecorder) Release(_ context.Context, reminderID, device string) error {
	r.released = append(r.released, reminderID+"@"+device)
	return nil
}

func TestActionsReleaseExternalLease(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	f.seed(t, model.RecurrenceNone, mustTime(t, "2025-03-01T09:00:00Z"), nil)
	rec := &releaseRecorder{}
	WithLeaser(rec)(f.service)

	if _, err := f.service.Snooze(context.Background(), "rem-1", 10); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	if _, err := f.service.Dismiss(context.Background(), "rem-1"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if len(rec.released) != 2 || rec.released[0] != "rem-1@dev-a" {
		t.Fatalf("unexpected releases: %v", rec.released)
	}
}

func openTasks(t *testing.T, repo *storage.SQLRepository) []model.Task {
	t.Helper()
	items, err := repo.ListTasks(context.Background(), storage.TaskListFilter{OpenOnly: true})
	if err != nil {
		t.Fatalf("list open tasks: %v", err)
	}
	return items
}

func TestDismissThenCompleteKeepsSeriesAligned(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	f.seed(t, model.RecurrenceDaily, mustTime(t, "2025-03-01T09:00:00Z"), nil)
	ctx := context.Background()

	dismissed, err := f.service.Dismiss(ctx, "rem-1")
	if err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if dismissed.Reminder == nil || !dismissed.Reminder.FireAt.Equal(mustTime(t, "2025-03-02T09:00:00Z")) {
		t.Fatalf("unexpected next reminder: %#v", dismissed.Reminder)
	}
	task, err := f.repo.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.DueAt == nil || !task.DueAt.Equal(mustTime(t, "2025-03-02T09:00:00Z")) {
		t.Fatalf("dismiss must move the task to the next occurrence, due=%v", task.DueAt)
	}

	f.now = mustTime(t, "2025-03-02T09:05:00Z")
	exp, err := f.service.Complete(ctx, "task-1", dismissed.Reminder.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	want := mustTime(t, "2025-03-03T09:00:00Z")
	if exp.Task == nil || exp.Task.DueAt == nil || !exp.Task.DueAt.Equal(want) {
		t.Fatalf("successor due = %#v, want %s", exp.Task, want)
	}
	if exp.Reminder == nil || !exp.Reminder.FireAt.Equal(want) {
		t.Fatalf("successor fire = %#v, want %s", exp.Reminder, want)
	}
	if open := openTasks(t, f.repo); len(open) != 1 || open[0].ID != exp.Task.ID {
		t.Fatalf("expected only the successor open, got %d tasks", len(open))
	}
}

func TestDismissStaleOccurrenceDoesNotMoveTaskTwice(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	due := mustTime(t, "2025-03-01T09:00:00Z")
	f.seed(t, model.RecurrenceDaily, due, nil)
	ctx := context.Background()
	minutes := 10
	if err := f.repo.CreateReminder(ctx, model.Reminder{
		ID:            "rem-early",
		TaskID:        "task-1",
		FireAt:        due.Add(-10 * time.Minute),
		Type:          model.ReminderTypeReminder,
		MinutesBefore: &minutes,
		Recurrence:    model.RecurrenceDaily,
		CreatedAt:     due.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	for _, id := range []string{"rem-early", "rem-1"} {
		if _, err := f.service.Dismiss(ctx, id); err != nil {
			t.Fatalf("dismiss %s: %v", id, err)
		}
	}
	task, err := f.repo.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if task.DueAt == nil || !task.DueAt.Equal(mustTime(t, "2025-03-02T09:00:00Z")) {
		t.Fatalf("task due = %v, want one day later", task.DueAt)
	}
	next := dueIDs(t, f.repo, mustTime(t, "2025-03-02T09:00:00Z"))
	if len(next) != 2 {
		t.Fatalf("expected both reminders to continue, got %v", next)
	}
}

func TestCompleteTaskWithTwoRemindersCreatesOneSuccessor(t *testing.T) {
	// 2025-03-01 is a Saturday.
	due := mustTime(t, "2025-03-01T09:00:00Z")
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	f.seed(t, model.RecurrenceWeekly, due, nil)
	ctx := context.Background()
	minutes := 10
	if err := f.repo.CreateReminder(ctx, model.Reminder{
		ID:            "rem-early",
		TaskID:        "task-1",
		FireAt:        due.Add(-10 * time.Minute),
		Type:          model.ReminderTypeReminder,
		MinutesBefore: &minutes,
		Recurrence:    model.RecurrenceWeekly,
		CreatedAt:     due.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	exp, err := f.service.Complete(ctx, "task-1", "rem-early")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if exp.Task == nil || exp.Reminder == nil {
		t.Fatalf("expected a successor, got %#v", exp)
	}
	nextDue := mustTime(t, "2025-03-08T09:00:00Z")
	if exp.Task.DueAt == nil || !exp.Task.DueAt.Equal(nextDue) {
		t.Fatalf("successor due = %v, want %s", exp.Task.DueAt, nextDue)
	}
	if !exp.Reminder.FireAt.Equal(nextDue.Add(-10 * time.Minute)) {
		t.Fatalf("successor fire = %s", exp.Reminder.FireAt)
	}
	if len(exp.Carried) != 1 || exp.Carried[0].TaskID != exp.Task.ID || !exp.Carried[0].FireAt.Equal(nextDue) {
		t.Fatalf("sibling not carried onto successor: %#v", exp.Carried)
	}

	if left := dueIDs(t, f.repo, f.now); len(left) != 0 {
		t.Fatalf("completed task still has due reminders: %v", left)
	}
	sibling, err := f.repo.GetReminder(ctx, "rem-1")
	if err != nil {
		t.Fatalf("get sibling: %v", err)
	}
	if !sibling.Dismissed {
		t.Fatal("sibling reminder must be resolved with its task")
	}

	again, err := f.service.Complete(ctx, "task-1", "rem-1")
	if err != nil {
		t.Fatalf("complete sibling: %v", err)
	}
	if !again.Empty() {
		t.Fatalf("completing a resolved sibling must not expand: %#v", again)
	}
	if open := openTasks(t, f.repo); len(open) != 1 || open[0].ID != exp.Task.ID {
		t.Fatalf("expected exactly one open successor, got %d", len(open))
	}
}

func TestCompleteOnClosedTaskDoesNotExpand(t *testing.T) {
	f := newFixture(t, mustTime(t, "2025-03-01T09:05:00Z"))
	f.seed(t, model.RecurrenceWeekly, mustTime(t, "2025-03-01T09:00:00Z"), nil)
	ctx := context.Background()
	if _, err := f.repo.UpdateTask(ctx, "task-1", storage.TaskPatch{CompletedAt: storage.SetTime(f.now)}); err != nil {
		t.Fatalf("close task: %v", err)
	}

	exp, err := f.service.Complete(ctx, "task-1", "rem-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !exp.Empty() {
		t.Fatalf("closed task must not get a successor: %#v", exp)
	}
	if open := openTasks(t, f.repo); len(open) != 0 {
		t.Fatalf("expected no open tasks, got %d", len(open))
	}
}
