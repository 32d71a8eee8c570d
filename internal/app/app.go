package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"datastack/internal/config"
	"datastack/internal/containerizer"
	"datastack/internal/dependency"
	"datastack/internal/orchestrator"
	"datastack/internal/reconciler"
	"datastack/internal/services"
	"datastack/internal/state"
	"datastack/pkg/logging"
)

// Options configures application bootstrap.
type Options struct {
	// ConfigPath is the configuration directory. Empty means the default
	// under the user's home directory.
	ConfigPath string

	// Debug enables debug logging.
	Debug bool

	// Silent suppresses all log output.
	Silent bool
}

// Application wires configuration, dependency graph, container runtime,
// and orchestrator together for the CLI commands.
//
// Bootstrap happens in two phases: NewApplication loads and validates
// configuration without touching the container engine, so commands like
// status can degrade gracefully; ConnectRuntime establishes the engine
// connection for commands that need it.
type Application struct {
	Config config.PlatformConfig
	Graph  *dependency.Graph
	Table  *services.StateTable
	Store  *state.Store

	runtime      containerizer.ContainerRuntime
	orchestrator *orchestrator.Orchestrator
	observer     *reconciler.Observer
	configPath   string
}

// NewApplication loads configuration and builds the dependency graph.
func NewApplication(opts Options) (*Application, error) {
	var logOutput io.Writer = os.Stderr
	if opts.Silent {
		logOutput = io.Discard
	}
	logging.InitForCLI(resolveLogLevel(opts.Debug), logOutput)

	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	graph, err := dependency.Build(cfg.Services.Enabled())
	if err != nil {
		return nil, err
	}

	logging.Debug("app", "Loaded platform %s with %d enabled service(s)",
		cfg.Platform.Name, graph.Len())

	return &Application{
		Config:     cfg,
		Graph:      graph,
		Table:      services.NewStateTable(),
		Store:      state.NewStore(configPath),
		configPath: configPath,
	}, nil
}

// resolveLogLevel picks the log level: the --debug flag wins, then the
// DATASTACK_LOG_LEVEL environment variable, then info.
func resolveLogLevel(debug bool) logging.LogLevel {
	if debug {
		return logging.LevelDebug
	}
	if value := os.Getenv("DATASTACK_LOG_LEVEL"); value != "" {
		return logging.ParseLevel(value)
	}
	return logging.LevelInfo
}

// ConnectRuntime creates the container runtime for the configured engine
// and verifies the daemon is reachable. A failed ping is fatal for the
// calling command; nothing can be orchestrated without the engine.
func (a *Application) ConnectRuntime(ctx context.Context) error {
	if a.runtime != nil {
		return nil
	}

	runtime, err := containerizer.NewContainerRuntime(a.Config.Runtime.Engine)
	if err != nil {
		return err
	}
	if err := runtime.Ping(ctx); err != nil {
		return err
	}

	a.runtime = runtime
	a.orchestrator = orchestrator.New(runtime, a.Table, orchestrator.Config{
		Platform:    a.Config.Platform.Name,
		Network:     a.Config.Runtime.Network,
		Workers:     a.Config.Runtime.Workers,
		RunTimeout:  a.Config.Runtime.RunTimeout,
		StopTimeout: a.Config.Runtime.StopTimeout,
	})
	a.observer = reconciler.NewObserver(runtime, a.Table, a.Config.Platform.Name)
	return nil
}

// Orchestrator returns the orchestrator. It is nil before ConnectRuntime.
func (a *Application) Orchestrator() *orchestrator.Orchestrator {
	return a.orchestrator
}

// ConfigPath returns the configuration directory in use.
func (a *Application) ConfigPath() string {
	return a.configPath
}

// WatchedFiles returns the configuration files watch mode monitors.
func (a *Application) WatchedFiles() []string {
	return []string{
		filepath.Join(a.configPath, "datastack.yaml"),
		filepath.Join(a.configPath, ".env"),
	}
}

// Reload re-reads configuration from disk and rebuilds the dependency
// graph, keeping the runtime connection and state table.
func (a *Application) Reload() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("reload configuration: %w", err)
	}

	graph, err := dependency.Build(cfg.Services.Enabled())
	if err != nil {
		return err
	}

	a.Config = cfg
	a.Graph = graph

	if a.runtime != nil {
		// Orchestrator settings may have changed with the config.
		a.orchestrator = orchestrator.New(a.runtime, a.Table, orchestrator.Config{
			Platform:    cfg.Platform.Name,
			Network:     cfg.Runtime.Network,
			Workers:     cfg.Runtime.Workers,
			RunTimeout:  cfg.Runtime.RunTimeout,
			StopTimeout: cfg.Runtime.StopTimeout,
		})
		a.observer = reconciler.NewObserver(a.runtime, a.Table, cfg.Platform.Name)
	}

	logging.Info("app", "Configuration reloaded: %d enabled service(s)", graph.Len())
	return nil
}
