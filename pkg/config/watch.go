package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/liftoff-labs/gymcore/pkg/observability"
)

// Watch reloads path whenever it changes and hands the result to apply.
// The parent directory is watched so editors that replace the file by
// rename are still noticed. Parse failures are logged and skipped.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *observability.Logger, apply func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	log := logger.WithField("config_file", target)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadFile(target)
			if err != nil {
				log.WithError(err).Warn("Ignoring invalid config file change")
				continue
			}
			log.Info("Config file reloaded")
			apply(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Config watcher error")
		}
	}
}

// LogLevelReloader returns an apply func for Watch that updates logger's level.
func LogLevelReloader(logger *observability.Logger) func(*Config) {
	return func(cfg *Config) {
		level, err := observability.ParseLogLevel(cfg.Observability.LogLevel)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid log level")
			return
		}
		logger.SetLevel(level)
		logger.WithField("level", level.String()).Info("Log level updated")
	}
}
