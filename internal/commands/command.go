package commands

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agendapro/agenda/internal/model"
)

type Type string

const (
	TypeRun     Type = "run"
	TypeTick    Type = "tick"
	TypeAdd     Type = "add"
	TypeList    Type = "list"
	TypeSnooze  Type = "snooze"
	TypeDismiss Type = "dismiss"
	TypeDone    Type = "done"
)

type ErrorCode string

const (
	ErrCodeEmptyInput      ErrorCode = "empty_input"
	ErrCodeUnknownCommand  ErrorCode = "unknown_command"
	ErrCodeInvalidArgument ErrorCode = "invalid_argument"
	ErrCodeHandlerMissing  ErrorCode = "handler_missing"
)

type CommandError struct {
	Code    ErrorCode
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func invalid(format string, args ...any) error {
	return &CommandError{Code: ErrCodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

type AddArgs struct {
	Title         string
	Notes         string
	Due           *time.Time
	MinutesBefore *int
	Repeat        model.Recurrence
	Until         *time.Time
	Priority      model.Priority
	Tags          []string
}

type ListArgs struct {
	All bool
}

type SnoozeArgs struct {
	ReminderID string
	Minutes    int
}

type DismissArgs struct {
	ReminderID string
}

type DoneArgs struct {
	TaskID     string
	ReminderID string
}

type Command struct {
	Type    Type
	Raw     string
	Add     *AddArgs
	List    *ListArgs
	Snooze  *SnoozeArgs
	Dismiss *DismissArgs
	Done    *DoneArgs
}

// Parse splits input on whitespace and parses it in the local zone.
func Parse(input string) (Command, error) {
	raw := strings.TrimSpace(input)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "/"))
	return ParseArgs(strings.Fields(raw), time.Local)
}

// ParseArgs parses already split arguments, as the shell hands them over.
// Times without an explicit offset are read in loc.
func ParseArgs(args []string, loc *time.Location) (Command, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return Command{}, &CommandError{Code: ErrCodeEmptyInput, Message: "command is empty"}
	}
	if loc == nil {
		loc = time.Local
	}
	raw := strings.Join(args, " ")
	head := strings.ToLower(strings.TrimSpace(args[0]))
	rest := args[1:]

	switch Type(head) {
	case TypeRun, TypeTick:
		if len(rest) > 0 {
			return Command{}, invalid("%s takes no arguments", head)
		}
		return Command{Type: Type(head), Raw: raw}, nil
	case TypeAdd:
		return parseAdd(raw, rest, loc)
	case TypeList:
		return parseList(raw, rest)
	case TypeSnooze:
		return parseSnooze(raw, rest)
	case TypeDismiss:
		if len(rest) != 1 {
			return Command{}, invalid("dismiss requires a reminder id")
		}
		return Command{Type: TypeDismiss, Raw: raw, Dismiss: &DismissArgs{ReminderID: rest[0]}}, nil
	case TypeDone:
		if len(rest) != 2 {
			return Command{}, invalid("done requires a task id and a reminder id")
		}
		return Command{Type: TypeDone, Raw: raw, Done: &DoneArgs{TaskID: rest[0], ReminderID: rest[1]}}, nil
	default:
		return Command{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unsupported command: %s", head)}
	}
}

func parseAdd(raw string, args []string, loc *time.Location) (Command, error) {
	out := &AddArgs{}
	var title []string
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, ":")
		if !ok || value == "" {
			title = append(title, arg)
			continue
		}
		switch strings.ToLower(name) {
		case "due":
			due, err := parseWhen(value, loc, false)
			if err != nil {
				return Command{}, invalid("due: %v", err)
			}
			out.Due = &due
		case "before":
			minutes, err := strconv.Atoi(value)
			if err != nil || minutes < 0 {
				return Command{}, invalid("before must be a non-negative number of minutes, got %q", value)
			}
			out.MinutesBefore = &minutes
		case "repeat":
			rule, err := model.ParseRecurrence(value)
			if err != nil {
				return Command{}, invalid("%v", err)
			}
			out.Repeat = rule
		case "until":
			until, err := parseWhen(value, loc, true)
			if err != nil {
				return Command{}, invalid("until: %v", err)
			}
			out.Until = &until
		case "priority":
			p, err := model.ParsePriority(value)
			if err != nil {
				return Command{}, invalid("%v", err)
			}
			out.Priority = p
		case "tag":
			out.Tags = append(out.Tags, strings.ToLower(value))
		case "notes":
			out.Notes = strings.ReplaceAll(value, "_", " ")
		default:
			title = append(title, arg)
		}
	}
	out.Title = strings.TrimSpace(strings.Join(title, " "))
	if out.Title == "" {
		return Command{}, invalid("add requires a title")
	}
	if out.Due == nil && (out.MinutesBefore != nil || out.Repeat.IsRecurring() || out.Until != nil) {
		return Command{}, invalid("before, repeat and until need a due time")
	}
	if out.Until != nil && !out.Repeat.IsRecurring() {
		return Command{}, invalid("until needs repeat")
	}
	return Command{Type: TypeAdd, Raw: raw, Add: out}, nil
}

func parseList(raw string, args []string) (Command, error) {
	out := &ListArgs{}
	for _, arg := range args {
		switch strings.ToLower(arg) {
		case "all", "--all", "-a":
			out.All = true
		default:
			return Command{}, invalid("unknown list option %q", arg)
		}
	}
	return Command{Type: TypeList, Raw: raw, List: out}, nil
}

func parseSnooze(raw string, args []string) (Command, error) {
	if len(args) != 2 {
		return Command{}, invalid("snooze requires a reminder id and minutes")
	}
	minutes, err := parseMinutes(args[1])
	if err != nil {
		return Command{}, err
	}
	return Command{Type: TypeSnooze, Raw: raw, Snooze: &SnoozeArgs{ReminderID: args[0], Minutes: minutes}}, nil
}

// parseMinutes accepts "10", "10m" or Go durations such as "1h30m".
func parseMinutes(value string) (int, error) {
	if n, err := strconv.Atoi(value); err == nil {
		if n <= 0 {
			return 0, invalid("snooze minutes must be positive, got %d", n)
		}
		return n, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < time.Minute {
		return 0, invalid("invalid snooze duration %q", value)
	}
	return int(d / time.Minute), nil
}

var whenLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseWhen reads RFC 3339 or a local date/time. A bare date means the start
// of that day, or its last instant when endOfDay is set.
func parseWhen(value string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range whenLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" && endOfDay {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", value)
}
