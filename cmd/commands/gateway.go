package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"time"

	einocallbacks "github.com/cloudwego/eino/callbacks"
	"github.com/urfave/cli/v3"

	"github.com/pmorel/tasktalk/internal/callbacks"
	"github.com/pmorel/tasktalk/internal/config"
	"github.com/pmorel/tasktalk/internal/dispatch"
	"github.com/pmorel/tasktalk/internal/events"
	"github.com/pmorel/tasktalk/internal/gateway"
	"github.com/pmorel/tasktalk/internal/mentions"
	"github.com/pmorel/tasktalk/internal/models"
	"github.com/pmorel/tasktalk/internal/ops"
	"github.com/pmorel/tasktalk/internal/reasoning"
	"github.com/pmorel/tasktalk/internal/storage"
	"github.com/pmorel/tasktalk/internal/taskstore"
	"github.com/pmorel/tasktalk/internal/threads"
)

// NewGatewayCommand returns the gateway subcommand.
func NewGatewayCommand() *cli.Command {
	return &cli.Command{
		Name:  "gateway",
		Usage: "Start the tasktalk gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runGateway,
	}
}

func runGateway(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Event bus + persistent per-thread event log
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	eventLog := storage.NewEventLogger(config.EventLogPath(), bus)
	defer eventLog.Close()

	// Model calls report usage through Eino callbacks onto the bus.
	einocallbacks.AppendGlobalHandlers(callbacks.NewEventBusHandler(bus))

	// Task store: external REST service when configured, embedded
	// SQLite otherwise.
	var tasks taskstore.Adapter
	if cfg.TaskStore.URL != "" {
		tasks = taskstore.NewHTTPStore(cfg.TaskStore.URL, cfg.TaskStore.Timeout.Duration())
		slog.Info("task store", "backend", "http", "url", cfg.TaskStore.URL)
	} else {
		store, err := taskstore.OpenSQLite(cfg.TaskStore.Path)
		if err != nil {
			return err
		}
		tasks = store
		slog.Info("task store", "backend", "sqlite", "path", cfg.TaskStore.Path)
	}

	// Reasoner over the configured chat model
	registry := ops.NewBuiltinRegistry()
	modelRegistry := models.NewRegistry(cfg.Models)
	reasoner := reasoning.NewChatReasoner(modelRegistry, registry, cfg.Dispatch.DecideTimeout.Duration())

	// Threads + dispatch
	store := threads.NewFileStore(config.ThreadsPath())

	usage := storage.NewUsageTracker(bus, store)
	defer usage.Close()

	tracker := mentions.NewTracker(cfg.Context.WindowSize)
	engine := dispatch.New(cfg.Dispatch, store, tasks, registry, reasoner, tracker, bus)

	server := gateway.NewServer(engine, store, bus, eventLog, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
