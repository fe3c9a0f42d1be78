package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run continuously, syncing when the source database changes",
	Long: `watch keeps running and repeats the synchronization pass. With a
sqlite source the database file is watched for writes (debounced); a
jittered interval timer covers the postgres backend and any watcher
failure.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		logger, closeLogger := newLogger(cfg)
		defer closeLogger()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		runner, cleanup, err := newRunner(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		doRun := func() {
			summary, err := runner.Run(ctx)
			if err != nil {
				logger.Printf("sync run failed: %v", err)
				return
			}
			logger.Printf("sync run complete: %d found, %d synced, %d failed (%s)",
				summary.Found, summary.Synced, summary.Failed, summary.Duration.Round(time.Millisecond))
		}
		doRun()

		watcher := newSourceWatcher(cfg, logger)
		if watcher != nil {
			defer watcher.Close()
		}

		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		interval := cfg.WatchInterval
		if interval <= 0 {
			interval = 5 * time.Minute
		}
		timer := time.NewTimer(jitteredInterval(interval, cfg.WatchJitter, rng.Float64()))
		defer timer.Stop()

		var watchEvents chan fsnotify.Event
		var watchErrors chan error
		if watcher != nil {
			watchEvents = watcher.Events
			watchErrors = watcher.Errors
		}
		var debounce <-chan time.Time
		var debounceTimer *time.Timer

		for {
			select {
			case <-ctx.Done():
				logger.Printf("watch stopping: %v", ctx.Err())
				return nil
			case event := <-watchEvents:
				if !isSourceDBEvent(event.Name, cfg.SourcePath) {
					continue
				}
				if debounceTimer == nil {
					debounceTimer = time.NewTimer(cfg.WatchDebounce)
					debounce = debounceTimer.C
				} else {
					debounceTimer.Reset(cfg.WatchDebounce)
				}
			case err := <-watchErrors:
				logger.Printf("warning: database watcher error: %v", err)
			case <-debounce:
				debounceTimer = nil
				debounce = nil
				doRun()
				timer.Reset(jitteredInterval(interval, cfg.WatchJitter, rng.Float64()))
			case <-timer.C:
				doRun()
				timer.Reset(jitteredInterval(interval, cfg.WatchJitter, rng.Float64()))
			}
		}
	},
}

// newSourceWatcher watches the directory holding the sqlite database, since
// sqlite writes land in the -wal/-journal siblings as often as the file
// itself. Returns nil (interval polling only) for postgres sources or when
// the watcher cannot be established.
func newSourceWatcher(cfg Config, logger *log.Logger) *fsnotify.Watcher {
	backend := strings.ToLower(strings.TrimSpace(cfg.SourceBackend))
	if backend != "" && backend != "sqlite" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Printf("warning: could not create database watcher (%v); falling back to interval polling", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(cfg.SourcePath)); err != nil {
		logger.Printf("warning: could not watch %s (%v); falling back to interval polling", filepath.Dir(cfg.SourcePath), err)
		_ = watcher.Close()
		return nil
	}
	return watcher
}

// isSourceDBEvent reports whether an fsnotify event concerns the database
// file or one of its sqlite write-ahead siblings.
func isSourceDBEvent(eventPath, dbPath string) bool {
	name := filepath.Base(eventPath)
	base := filepath.Base(dbPath)
	return name == base || name == base+"-wal" || name == base+"-journal" || name == base+"-shm"
}

func clampJitterRatio(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

// jitteredInterval spreads repeated runs by up to ±jitterRatio of base so
// several instances pointed at one Karakeep server do not fall into step.
func jitteredInterval(base time.Duration, jitterRatio, sample float64) time.Duration {
	if base <= 0 {
		return 0
	}
	jitterRatio = clampJitterRatio(jitterRatio)
	if jitterRatio == 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample > 1 {
		sample = 1
	}
	factor := 1 + ((sample*2)-1)*jitterRatio
	if factor < 0 {
		factor = 0
	}
	delay := time.Duration(float64(base) * factor)
	if delay < time.Millisecond {
		return time.Millisecond
	}
	return delay
}
