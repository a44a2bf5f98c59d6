// Package daemonrun wires the daemon process: config, logging, the job
// store, the synthesis stack, and the background dispatcher, under a
// file lock that enforces single-instance execution.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"

	"podforge/internal/blob"
	"podforge/internal/config"
	"podforge/internal/engine"
	"podforge/internal/jobstore"
	"podforge/internal/logging"
	"podforge/internal/ratelimit"
	"podforge/internal/synth"
	"podforge/internal/synth/openai"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the podforge daemon runtime loop and blocks until the context
// is canceled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if opts.LogLevel != "" {
		logger, err = logging.New(logging.Options{
			Level:       opts.LogLevel,
			Format:      cfg.Logging.Format,
			OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "podforge.log")},
		})
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "podforged.lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another podforged instance holds %s", lockPath)
	}
	defer func() { _ = lock.Unlock() }()

	pidPath := filepath.Join(cfg.Paths.DataDir, "podforged.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := jobstore.Open(cfg)
	if err != nil {
		logger.Error("open job store", logging.Error(err))
		return err
	}
	defer store.Close()

	blobs, err := blob.NewFSStore(cfg.Paths.AudioDir)
	if err != nil {
		logger.Error("open blob store", logging.Error(err))
		return err
	}

	provider, err := openai.New(cfg.Synthesis)
	if err != nil {
		logger.Error("init synthesis provider", logging.Error(err))
		return err
	}
	limiter := ratelimit.New(cfg.Synthesis.RequestsPerMinute)
	synthesizer := synth.New(provider, limiter, logger)

	eng := engine.New(cfg, store, blobs, synthesizer, logger)
	dispatcher := engine.NewDispatcher(cfg, eng, store, logger)
	if err := dispatcher.Start(signalCtx); err != nil {
		logger.Error("start dispatcher", logging.Error(err))
		return err
	}
	defer dispatcher.Stop()

	logger.Info("podforged running",
		logging.String("db_path", store.Path()),
		logging.String("audio_dir", cfg.Paths.AudioDir),
		logging.String(logging.FieldEventType, "daemon_started"),
	)

	<-signalCtx.Done()
	logger.Info("podforged shutting down",
		logging.String(logging.FieldEventType, "daemon_stopped"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
