// Package logging provides a structured logging system for datastack with
// unified log handling and colorized CLI output.
//
// The package is built on Go's standard slog package with a tint handler for
// terminal output. All log entries carry a subsystem identifier so that output
// from the orchestrator, reconciler, prober and runtime layers can be told
// apart at a glance.
//
// # Usage
//
//	import "datastack/pkg/logging"
//
//	// Initialize with Info level logging to stderr
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Bootstrap", "Application starting up")
//	logging.Debug("Config", "Loaded configuration from %s", configPath)
//	logging.Warn("Orchestrator", "Service dependency not available")
//	logging.Error("Runtime", err, "Failed to connect to Docker")
package logging
