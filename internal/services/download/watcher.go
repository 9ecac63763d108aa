// Package download waits for browser downloads to land on disk and moves
// them to their per-record destination.
//
// Completion is detected by polling the directory. Chrome's download
// progress events are not reliable enough to depend on.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultTimeout      = 180 * time.Second
	DefaultExtension    = ".pdf"
)

// Config holds the polling parameters
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Extension    string
}

// Watcher implements interfaces.DownloadWatcher
type Watcher struct {
	config Config
	logger arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.DownloadWatcher = (*Watcher)(nil)

// NewWatcher creates a watcher, filling zero config values with defaults
func NewWatcher(config Config, logger arbor.ILogger) *Watcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Extension == "" {
		config.Extension = DefaultExtension
	}
	if !strings.HasPrefix(config.Extension, ".") {
		config.Extension = "." + config.Extension
	}

	return &Watcher{
		config: config,
		logger: logger,
	}
}

// Await polls task.WatchDir until an artifact appears, then moves it to
// task.Destination(). Elapsed time is accumulated per tick; once it reaches
// the timeout the call fails with a download-timeout error and nothing is moved.
func (w *Watcher) Await(ctx context.Context, task models.DownloadTask) (string, error) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		elapsed += w.config.PollInterval

		artifact, err := w.findArtifact(task.WatchDir)
		if err != nil {
			w.logger.Warn().Err(err).Str("dir", task.WatchDir).Msg("Failed to list download directory")
		}

		if artifact != "" {
			dest, err := w.relocate(artifact, task)
			if err != nil {
				return "", err
			}
			w.logger.Info().
				Str("artifact", filepath.Base(artifact)).
				Str("destination", dest).
				Dur("waited", elapsed).
				Msg("Document downloaded")
			return dest, nil
		}

		w.logger.Debug().
			Str("dir", task.WatchDir).
			Dur("elapsed", elapsed).
			Msg("Waiting for download")

		if elapsed >= w.config.Timeout {
			return "", models.NewWorkflowError(models.KindDownloadTimeout, "await download",
				fmt.Errorf("no %s file in %s after %v", w.config.Extension, task.WatchDir, elapsed))
		}
	}
}

// findArtifact returns the first regular file in dir with the expected extension
func (w *Watcher) findArtifact(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), w.config.Extension) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", nil
}

func (w *Watcher) relocate(artifact string, task models.DownloadTask) (string, error) {
	dest := task.Destination()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.Rename(artifact, dest); err != nil {
		// A separate download directory may sit on another filesystem
		var linkErr *os.LinkError
		if !errors.As(err, &linkErr) {
			return "", fmt.Errorf("failed to move %s to %s: %w", artifact, dest, err)
		}
		if err := moveByCopy(artifact, dest); err != nil {
			return "", fmt.Errorf("failed to move %s to %s: %w", artifact, dest, err)
		}
	}
	return dest, nil
}

// moveByCopy copies src to dest and removes src once the copy is synced
func moveByCopy(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
