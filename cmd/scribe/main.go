// Package main is the entry point for the Scribe MCP server binary.
// Scribe mediates structured progress logging for autonomous agents working
// inside a repository.
//
// The server defaults to the stdio transport. With --listen it also serves:
//   - SSE (Server-Sent Events) at /sse for Claude Desktop, Cursor
//   - Streamable HTTP at /mcp for Codex
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scribe-dev/scribe/internal/agentctx"
	"github.com/scribe-dev/scribe/internal/common/config"
	"github.com/scribe-dev/scribe/internal/common/logger"
	"github.com/scribe-dev/scribe/internal/docs"
	"github.com/scribe-dev/scribe/internal/execctx"
	"github.com/scribe-dev/scribe/internal/logbook"
	"github.com/scribe-dev/scribe/internal/mcpserver"
	"github.com/scribe-dev/scribe/internal/plugin"
	"github.com/scribe-dev/scribe/internal/reminder"
	"github.com/scribe-dev/scribe/internal/sandbox"
	"github.com/scribe-dev/scribe/internal/sentinel"
	"github.com/scribe-dev/scribe/internal/state"
	"github.com/scribe-dev/scribe/internal/storage"
	"github.com/scribe-dev/scribe/internal/telemetry"
)

// Command-line flags
var (
	repoRootFlag  = flag.String("repo-root", "", "Repository root (defaults to SCRIBE_REPO_ROOT or the working directory)")
	listenFlag    = flag.String("listen", "", "Serve SSE and Streamable HTTP on host:port instead of stdio")
	logLevelFlag  = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormatFlag = flag.String("log-format", "", "Log format (console, json)")
)

func main() {
	flag.Parse()

	repoRoot := *repoRootFlag
	if repoRoot == "" {
		repoRoot = config.EnvRepoRoot()
	}
	if repoRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to determine working directory: %v\n", err)
			os.Exit(1)
		}
		repoRoot = wd
	}
	repoRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve repository root: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(repoRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *listenFlag != "" {
		cfg.Server.Listen = *listenFlag
	}
	if *logLevelFlag != "" {
		cfg.Logging.Level = *logLevelFlag
	}
	if *logFormatFlag != "" {
		cfg.Logging.Format = *logFormatFlag
	}

	// stdout carries JSON-RPC frames on the stdio transport, so logs go to
	// stderr unless configured otherwise.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("starting scribe",
		zap.String("repo_root", repoRoot),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("listen", cfg.Server.Listen))

	if err := run(cfg, log, repoRoot); err != nil {
		log.Error("scribe exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// run wires the services and serves until shutdown.
func run(cfg *config.Config, log *logger.Logger, repoRoot string) error {
	if err := os.MkdirAll(filepath.Join(repoRoot, ".scribe"), 0o755); err != nil {
		return fmt.Errorf("create .scribe directory: %w", err)
	}

	store, err := storage.Open(cfg.Storage, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	sb, err := sandbox.New(repoRoot, sandbox.Options{
		PluginsDir:   cfg.Repo.PluginsDir,
		TemplatesDir: cfg.Repo.CustomTemplatesDir,
		DatabasePath: cfg.Storage.DBPath,
	})
	if err != nil {
		return fmt.Errorf("initialize sandbox: %w", err)
	}
	files := &sandbox.Checker{
		Sandbox: sb,
		Permissions: sandbox.Permissions{
			AllowRotate:       cfg.Permissions.AllowRotate,
			AllowGenerateDocs: cfg.Permissions.AllowGenerateDocs,
			AllowBulkEntries:  cfg.Permissions.AllowBulkEntries,
			RequireProject:    cfg.Permissions.RequireProject,
		},
	}

	plugins := plugin.NewRegistry(log, 5*time.Second)

	appender := logbook.NewAppender(logbook.AppenderConfig{
		Store:           store,
		Files:           files,
		Logger:          log,
		Plugins:         plugins,
		RepoSlug:        cfg.Repo.Slug,
		ProgressLogName: cfg.Repo.ProgressLogName,
		DefaultEmoji:    cfg.Repo.DefaultEmoji,
		DefaultAgent:    cfg.Repo.DefaultAgent,
	})

	docEngine := docs.NewEngine(docs.EngineConfig{
		Files:           files,
		Store:           store,
		Plugins:         plugins,
		Logger:          log,
		ProgressLogName: cfg.Repo.ProgressLogName,
	})

	cache := reminder.NewCache(cfg.Reminders.CachePath, log)
	cache.Hydrate()
	reminders := reminder.NewEngine(reminder.EngineConfig{
		Store:              store,
		Cache:              cache,
		Logger:             log,
		MaxPerResponse:     cfg.Reminders.MaxPerResponse,
		TeachingSessionCap: cfg.Reminders.TeachingSessionCap,
		SessionAwareHashes: cfg.Reminders.SessionAwareHashes,
	})

	agents := agentctx.NewService(agentctx.Config{
		Store:           store,
		Logger:          log,
		IdleTTLMinutes:  cfg.Sessions.IdleTTLMinutes,
		RepoRoot:        repoRoot,
		DevPlansDir:     cfg.Repo.DevPlansDir,
		ProgressLogName: cfg.Repo.ProgressLogName,
	})

	sentinelSvc := sentinel.NewService(sentinel.Config{
		Files:  files,
		Logger: log,
		Dir:    filepath.Join(repoRoot, ".scribe", "sentinel"),
	})

	statePath := config.EnvStatePath()
	if statePath == "" {
		statePath = filepath.Join(repoRoot, ".scribe", "state.json")
	}
	stateFile := state.Open(statePath, log)

	srv := mcpserver.New(mcpserver.Deps{
		Cfg:       cfg,
		Log:       log,
		Store:     store,
		Files:     files,
		Appender:  appender,
		Docs:      docEngine,
		Reminders: reminders,
		Agents:    agents,
		Sessions:  execctx.NewManager(store, log),
		Sentinel:  sentinelSvc,
		State:     stateFile,
		RepoRoot:  sb.RepoRoot(),
	})

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go agents.RunCleanupLoop(janitorCtx, 5*time.Minute)

	defer func() {
		stopJanitor()
		reminders.Persist()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	if cfg.Server.Listen == "" {
		return srv.ServeStdio()
	}

	ctx := context.Background()
	if err := srv.StartHTTP(ctx, cfg.Server.Listen); err != nil {
		return fmt.Errorf("start MCP server: %w", err)
	}
	waitForShutdown(log, func(ctx context.Context) {
		if err := srv.Stop(ctx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	})
	return nil
}

// waitForShutdown waits for a termination signal and calls cleanup.
func waitForShutdown(log *logger.Logger, cleanup func(ctx context.Context)) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down scribe...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cleanup(ctx)

	log.Info("scribe stopped")
}
