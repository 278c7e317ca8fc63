package commands

import "fmt"

type Result struct {
	Message string
}

type Handlers struct {
	Run     func() (Result, error)
	Tick    func() (Result, error)
	Add     func(AddArgs) (Result, error)
	List    func(ListArgs) (Result, error)
	Snooze  func(SnoozeArgs) (Result, error)
	Dismiss func(DismissArgs) (Result, error)
	Done    func(DoneArgs) (Result, error)
}

func Execute(cmd Command, handlers Handlers) (Result, error) {
	switch cmd.Type {
	case TypeRun:
		if handlers.Run == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Run()
	case TypeTick:
		if handlers.Tick == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Tick()
	case TypeAdd:
		if handlers.Add == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Add(*cmd.Add)
	case TypeList:
		if handlers.List == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.List(*cmd.List)
	case TypeSnooze:
		if handlers.Snooze == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Snooze(*cmd.Snooze)
	case TypeDismiss:
		if handlers.Dismiss == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Dismiss(*cmd.Dismiss)
	case TypeDone:
		if handlers.Done == nil {
			return Result{}, missing(cmd.Type)
		}
		return handlers.Done(*cmd.Done)
	default:
		return Result{}, &CommandError{Code: ErrCodeUnknownCommand, Message: fmt.Sprintf("unknown command type: %s", cmd.Type)}
	}
}

func missing(t Type) error {
	return &CommandError{Code: ErrCodeHandlerMissing, Message: fmt.Sprintf("%s handler not configured", t)}
}
