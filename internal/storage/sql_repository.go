package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agendapro/agenda/internal/model"
)

// Fixed width so that text comparison in SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const taskColumns = `id, title, notes, due_at, start_at, priority, completed_at, deleted_at, recurrence, recurrence_end,
	subtasks, tags, device_id, sync_version, created_at, updated_at`

const reminderColumns = `id, task_id, fire_at, type, minutes_before, last_notified_at, last_notified_device_id,
	snoozed_until, snooze_count, recurrence, recurrence_end, dismissed, fired_at, deleted_at, device_id,
	sync_version, locked_until, locked_by_device, created_at, updated_at`

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLRepository implements Store on database/sql. The SQL is shared between
// SQLite and Postgres; only placeholders differ.
type SQLRepository struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

var _ Store = (*SQLRepository)(nil)

func newSQLRepository(db *sql.DB, d dialect) (*SQLRepository, error) {
	if db == nil {
		return nil, errors.New("storage: nil db")
	}
	return &SQLRepository{db: db, dialect: d, now: time.Now}, nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// DB exposes the handle for migrations.
func (r *SQLRepository) DB() *sql.DB {
	return r.db
}

func (r *SQLRepository) rebind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.ExecContext(ctx, r.rebind(query), args...)
}

func (r *SQLRepository) CreateTask(ctx context.Context, in model.Task) error {
	if err := in.Validate(); err != nil {
		return err
	}
	subtasks, tags, err := encodeLists(in.Subtasks, in.Tags)
	if err != nil {
		return err
	}
	updated := in.UpdatedAt
	if updated.IsZero() {
		updated = in.CreatedAt
	}
	version := in.SyncVersion
	if version <= 0 {
		version = 1
	}
	_, err = r.exec(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Title, in.Notes, nullTime(in.DueAt), nullTime(in.StartAt), int(in.Priority),
		nullTime(in.CompletedAt), nullTime(in.DeletedAt), string(in.Recurrence), nullTime(in.RecurrenceEnd),
		subtasks, tags, in.DeviceID, version, mustTime(in.CreatedAt), mustTime(updated),
	)
	if err != nil {
		return fmt.Errorf("insert task %s: %w", in.ID, err)
	}
	return nil
}

func (r *SQLRepository) GetTask(ctx context.Context, id string) (model.Task, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Task{}, ErrNotFound
		}
		return model.Task{}, err
	}
	return task, nil
}

func (r *SQLRepository) UpdateTask(ctx context.Context, id string, patch TaskPatch) (model.Task, error) {
	s := r.newSetter()
	if patch.Title.Valid {
		s.add("title", patch.Title.Value)
	}
	if patch.Notes.Valid {
		s.add("notes", patch.Notes.Value)
	}
	if patch.DueAt.Valid {
		s.add("due_at", nullTime(patch.DueAt.Value))
	}
	if patch.StartAt.Valid {
		s.add("start_at", nullTime(patch.StartAt.Value))
	}
	if patch.Priority.Valid {
		s.add("priority", int(patch.Priority.Value))
	}
	if patch.CompletedAt.Valid {
		s.add("completed_at", nullTime(patch.CompletedAt.Value))
	}
	if patch.Recurrence.Valid {
		s.add("recurrence", string(patch.Recurrence.Value))
	}
	if patch.DeviceID.Valid {
		s.add("device_id", patch.DeviceID.Value)
	}
	res, err := r.exec(ctx, `UPDATE tasks SET `+s.clause()+` WHERE id = ? AND deleted_at IS NULL`, append(s.args, id)...)
	if err != nil {
		return model.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	if err := checkRowsAffected(res); err != nil {
		return model.Task{}, err
	}
	return r.GetTask(ctx, id)
}

func (r *SQLRepository) SoftDeleteTask(ctx context.Context, id string) error {
	now := mustTime(r.now())
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE tasks SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1
		WHERE id = ? AND deleted_at IS NULL`), now, now, id)
	if err != nil {
		return err
	}
	if err := checkRowsAffected(res); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, r.rebind(`
		UPDATE reminders SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1
		WHERE task_id = ? AND deleted_at IS NULL`), now, now, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) ListTasks(ctx context.Context, filter TaskListFilter) ([]model.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE deleted_at IS NULL`
	args := make([]any, 0, 2)
	if filter.OpenOnly {
		query += ` AND completed_at IS NULL`
	}
	query += ` ORDER BY CASE WHEN due_at IS NULL THEN 1 ELSE 0 END, due_at ASC, created_at ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Task, 0)
	for rows.Next() {
		task, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (r *SQLRepository) CreateReminder(ctx context.Context, in model.Reminder) error {
	if err := in.Validate(); err != nil {
		return err
	}
	var before any
	if in.MinutesBefore != nil {
		before = *in.MinutesBefore
	}
	created := in.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	updated := in.UpdatedAt
	if updated.IsZero() {
		updated = created
	}
	version := in.SyncVersion
	if version <= 0 {
		version = 1
	}
	_, err := r.exec(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.TaskID, mustTime(in.FireAt), string(in.Type), before, nullTime(in.LastNotifiedAt), in.LastNotifiedDeviceID,
		nullTime(in.SnoozedUntil), in.SnoozeCount, string(in.Recurrence), nullTime(in.RecurrenceEnd), boolInt(in.Dismissed),
		nullTime(in.FiredAt), nullTime(in.DeletedAt), in.DeviceID, version, nullTime(in.LockedUntil), in.LockedByDevice,
		mustTime(created), mustTime(updated),
	)
	if err != nil {
		return fmt.Errorf("insert reminder %s: %w", in.ID, err)
	}
	return nil
}

func (r *SQLRepository) GetReminder(ctx context.Context, id string) (model.Reminder, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+reminderColumns+` FROM reminders WHERE id = ?`), id)
	item, err := scanReminder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Reminder{}, ErrNotFound
		}
		return model.Reminder{}, err
	}
	return item, nil
}

func (r *SQLRepository) UpdateReminder(ctx context.Context, id string, patch ReminderPatch) (model.Reminder, error) {
	s := r.newSetter()
	if patch.FireAt.Valid {
		s.add("fire_at", mustTime(patch.FireAt.Value))
	}
	if patch.SnoozedUntil.Valid {
		s.add("snoozed_until", nullTime(patch.SnoozedUntil.Value))
	}
	if patch.SnoozeCountDelta != 0 {
		s.expr("snooze_count = snooze_count + ?", patch.SnoozeCountDelta)
	}
	if patch.Dismissed.Valid {
		s.add("dismissed", boolInt(patch.Dismissed.Value))
	}
	if patch.FiredAt.Valid {
		s.add("fired_at", nullTime(patch.FiredAt.Value))
	}
	if patch.LastNotifiedAt.Valid {
		s.add("last_notified_at", nullTime(patch.LastNotifiedAt.Value))
	}
	if patch.LastNotifiedDeviceID.Valid {
		s.add("last_notified_device_id", patch.LastNotifiedDeviceID.Value)
	}
	if patch.LockedUntil.Valid {
		s.add("locked_until", nullTime(patch.LockedUntil.Value))
	}
	if patch.LockedByDevice.Valid {
		s.add("locked_by_device", patch.LockedByDevice.Value)
	}
	if patch.DeviceID.Valid {
		s.add("device_id", patch.DeviceID.Value)
	}
	res, err := r.exec(ctx, `UPDATE reminders SET `+s.clause()+` WHERE id = ? AND deleted_at IS NULL`, append(s.args, id)...)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("update reminder %s: %w", id, err)
	}
	if err := checkRowsAffected(res); err != nil {
		return model.Reminder{}, err
	}
	return r.GetReminder(ctx, id)
}

func (r *SQLRepository) SoftDeleteReminder(ctx context.Context, id string) error {
	now := mustTime(r.now())
	res, err := r.exec(ctx, `
		UPDATE reminders SET deleted_at = ?, updated_at = ?, sync_version = sync_version + 1
		WHERE id = ? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (r *SQLRepository) ListReminders(ctx context.Context, filter ReminderListFilter) ([]model.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders`
	clauses := []string{"deleted_at IS NULL"}
	args := make([]any, 0, 3)
	if filter.TaskID != "" {
		clauses = append(clauses, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if !filter.IncludeDismissed {
		clauses = append(clauses, "dismissed = 0")
	}
	query += " WHERE " + strings.Join(clauses, " AND ")
	query += ` ORDER BY fire_at ASC, id ASC`
	query += applyPagination(&args, filter.Limit, filter.Offset)
	return r.queryReminders(ctx, query, args...)
}

// FindDueReminders returns the due set at now: past fire time, not dismissed,
// not deleted, not snoozed and not leased, earliest first.
func (r *SQLRepository) FindDueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	at := mustTime(now)
	items, err := r.queryReminders(ctx, `
		SELECT `+reminderColumns+` FROM reminders
		WHERE dismissed = 0
			AND deleted_at IS NULL
			AND fire_at <= ?
			AND (snoozed_until IS NULL OR snoozed_until <= ?)
			AND (locked_until IS NULL OR locked_until <= ?)
		ORDER BY fire_at ASC, id ASC`, at, at, at)
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	return items, nil
}

// TryAcquire takes the delivery lease with a single conditional write. It
// reports false when another holder's lease is still live.
func (r *SQLRepository) TryAcquire(ctx context.Context, reminderID, device string, now time.Time, lease time.Duration) (bool, error) {
	at := mustTime(now)
	res, err := r.exec(ctx, `
		UPDATE reminders
		SET locked_until = ?, locked_by_device = ?
		WHERE id = ?
			AND dismissed = 0
			AND deleted_at IS NULL
			AND (locked_until IS NULL OR locked_until <= ?)`,
		mustTime(now.Add(lease)), device, reminderID, at)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", reminderID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release drops the lease only if device still holds it.
func (r *SQLRepository) Release(ctx context.Context, reminderID, device string) error {
	_, err := r.exec(ctx, `
		UPDATE reminders SET locked_until = NULL, locked_by_device = ''
		WHERE id = ? AND locked_by_device = ?`, reminderID, device)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", reminderID, err)
	}
	return nil
}

func (r *SQLRepository) queryReminders(ctx context.Context, query string, args ...any) ([]model.Reminder, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Reminder, 0)
	for rows.Next() {
		item, scanErr := scanReminder(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

type setter struct {
	cols []string
	args []any
}

// newSetter seeds every patch with the sync bookkeeping columns.
func (r *SQLRepository) newSetter() *setter {
	s := &setter{}
	s.expr("sync_version = sync_version + 1")
	s.add("updated_at", mustTime(r.now()))
	return s
}

func (s *setter) add(col string, v any) {
	s.cols = append(s.cols, col+" = ?")
	s.args = append(s.args, v)
}

func (s *setter) expr(fragment string, args ...any) {
	s.cols = append(s.cols, fragment)
	s.args = append(s.args, args...)
}

func (s *setter) clause() string {
	return strings.Join(s.cols, ", ")
}

func encodeLists(subtasks []model.Subtask, tags []string) (string, string, error) {
	if subtasks == nil {
		subtasks = []model.Subtask{}
	}
	if tags == nil {
		tags = []string{}
	}
	s, err := json.Marshal(subtasks)
	if err != nil {
		return "", "", fmt.Errorf("encode subtasks: %w", err)
	}
	t, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("encode tags: %w", err)
	}
	return string(s), string(t), nil
}

func nullTime(v *time.Time) any {
	if v == nil {
		return nil
	}
	return v.UTC().Format(timeLayout)
}

func mustTime(v time.Time) string {
	return v.UTC().Format(timeLayout)
}

func parseNullableTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	tm, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &tm, nil
}

func parseRequiredTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func applyPagination(args *[]any, limit, offset int) string {
	sql := ""
	if limit > 0 {
		sql += " LIMIT ?"
		*args = append(*args, limit)
	}
	if offset > 0 {
		sql += " OFFSET ?"
		*args = append(*args, offset)
	}
	return sql
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (model.Task, error) {
	var out model.Task
	var due, start, completed, deleted, recurrenceEnd sql.NullString
	var priority int
	var recurrence, subtasks, tags, created, updated string
	if err := s.Scan(&out.ID, &out.Title, &out.Notes, &due, &start, &priority, &completed, &deleted, &recurrence,
		&recurrenceEnd, &subtasks, &tags, &out.DeviceID, &out.SyncVersion, &created, &updated); err != nil {
		return model.Task{}, err
	}
	var err error
	if out.DueAt, err = parseNullableTime(due); err != nil {
		return model.Task{}, err
	}
	if out.StartAt, err = parseNullableTime(start); err != nil {
		return model.Task{}, err
	}
	if out.CompletedAt, err = parseNullableTime(completed); err != nil {
		return model.Task{}, err
	}
	if out.DeletedAt, err = parseNullableTime(deleted); err != nil {
		return model.Task{}, err
	}
	if out.RecurrenceEnd, err = parseNullableTime(recurrenceEnd); err != nil {
		return model.Task{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(created); err != nil {
		return model.Task{}, err
	}
	if out.UpdatedAt, err = parseRequiredTime(updated); err != nil {
		return model.Task{}, err
	}
	if err := json.Unmarshal([]byte(subtasks), &out.Subtasks); err != nil {
		return model.Task{}, fmt.Errorf("decode subtasks of %s: %w", out.ID, err)
	}
	if err := json.Unmarshal([]byte(tags), &out.Tags); err != nil {
		return model.Task{}, fmt.Errorf("decode tags of %s: %w", out.ID, err)
	}
	out.Priority = model.Priority(priority)
	// Stored verbatim; callers validate before acting on it.
	out.Recurrence = model.Recurrence(recurrence)
	return out, nil
}

func scanReminder(s scanner) (model.Reminder, error) {
	var out model.Reminder
	var fire, created, updated, typ, recurrence string
	var before sql.NullInt64
	var notified, snoozed, recurrenceEnd, fired, deleted, locked sql.NullString
	var dismissed int
	if err := s.Scan(&out.ID, &out.TaskID, &fire, &typ, &before, &notified, &out.LastNotifiedDeviceID,
		&snoozed, &out.SnoozeCount, &recurrence, &recurrenceEnd, &dismissed, &fired, &deleted, &out.DeviceID,
		&out.SyncVersion, &locked, &out.LockedByDevice, &created, &updated); err != nil {
		return model.Reminder{}, err
	}
	var err error
	if out.FireAt, err = parseRequiredTime(fire); err != nil {
		return model.Reminder{}, err
	}
	if out.LastNotifiedAt, err = parseNullableTime(notified); err != nil {
		return model.Reminder{}, err
	}
	if out.SnoozedUntil, err = parseNullableTime(snoozed); err != nil {
		return model.Reminder{}, err
	}
	if out.RecurrenceEnd, err = parseNullableTime(recurrenceEnd); err != nil {
		return model.Reminder{}, err
	}
	if out.FiredAt, err = parseNullableTime(fired); err != nil {
		return model.Reminder{}, err
	}
	if out.DeletedAt, err = parseNullableTime(deleted); err != nil {
		return model.Reminder{}, err
	}
	if out.LockedUntil, err = parseNullableTime(locked); err != nil {
		return model.Reminder{}, err
	}
	if out.CreatedAt, err = parseRequiredTime(created); err != nil {
		return model.Reminder{}, err
	}
	if out.UpdatedAt, err = parseRequiredTime(updated); err != nil {
		return model.Reminder{}, err
	}
	if before.Valid {
		v := int(before.Int64)
		out.MinutesBefore = &v
	}
	out.Type = model.ReminderType(typ)
	out.Recurrence = model.Recurrence(recurrence)
	out.Dismissed = dismissed == 1
	return out, nil
}

func checkRowsAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
