package scheduler

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/amirphl/warmup-orchestrator/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewSchedulerLogger returns a logger that writes to stdout and/or a rotating file.
// The returned closer releases the file handle and is never nil.
func NewSchedulerLogger(cfg config.LoggingConfig) (*log.Logger, io.Closer) {
	var (
		writers []io.Writer
		closer  io.Closer = io.NopCloser(nil)
	)

	if cfg.Output != "file" {
		writers = append(writers, os.Stdout)
	}

	if cfg.Output != "stdout" && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			// Fallback to stdout only
			fmt.Fprintf(os.Stderr, "scheduler: failed to create log directory: %v\n", err)
		} else {
			rotator := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			writers = append(writers, rotator)
			closer = rotator
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	// log.Logger is goroutine-safe; include timestamps with microseconds and UTC
	return log.New(io.MultiWriter(writers...), "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC), closer
}
