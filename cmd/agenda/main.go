package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/agendapro/agenda/internal/commands"
	"github.com/agendapro/agenda/internal/config"
	"github.com/agendapro/agenda/internal/device"
	"github.com/agendapro/agenda/internal/lease"
	"github.com/agendapro/agenda/internal/logging"
	"github.com/agendapro/agenda/internal/storage"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "agenda: %v\n", err)
		var ce *commands.CommandError
		if errors.As(err, &ce) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		args = []string{string(commands.TypeRun)}
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	cmd, err := commands.ParseArgs(args, loc)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deviceID, err := device.Load(cfg.DevicePath())
	if err != nil {
		return fmt.Errorf("device identity: %w", err)
	}
	logger = logger.With("device_id", deviceID)

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	a := &app{
		cfg:    cfg,
		loc:    loc,
		device: deviceID,
		store:  store,
		logger: logger,
		out:    out,
		ctx:    ctx,
	}
	if cfg.Scheduler.RedisURL != "" {
		rl, err := lease.Dial(ctx, cfg.Scheduler.RedisURL)
		if err != nil {
			return fmt.Errorf("redis lease: %w", err)
		}
		defer rl.Close()
		a.redis = rl
	}

	logger.Debug("command starting", "command", string(cmd.Type), "db_driver", cfg.DB.Driver)
	res, err := commands.Execute(cmd, a.handlers())
	if err != nil {
		return err
	}
	if res.Message != "" {
		fmt.Fprintln(out, res.Message)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (*storage.SQLRepository, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return storage.OpenPostgres(ctx, cfg.DB.DSN)
	default:
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, err
		}
		return storage.OpenSQLite(cfg.DB.DSN)
	}
}
