package main

import (
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns the run logger and a close func. With log.file set the
// log goes to a size-rotated file instead of stderr, which keeps long-lived
// watch runs from growing unbounded.
func newLogger(cfg Config) (*log.Logger, func()) {
	if cfg.LogFile == "" {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}
	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}
	return log.New(rotator, "", log.LstdFlags), func() { _ = rotator.Close() }
}
