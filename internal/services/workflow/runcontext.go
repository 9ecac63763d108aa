// Package workflow runs the retrieval loop over the dataset and keeps it
// running across portal failures.
package workflow

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/certflow/internal/common"
)

// RunContext is the per-process output location. It is created once and
// shared by every supervised attempt, so restarts keep writing into the
// same Result Folder.
type RunContext struct {
	ID          string
	StartedAt   time.Time
	FolderName  string
	Folder      string
	DownloadDir string
}

// FolderName formats the Result Folder name, for example
// RESULT_JPEREZ_07D_03M_2025_09H_05M_02S
func FolderName(prefix, userName string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%02dD_%02dM_%04d_%02dH_%02dM_%02dS",
		prefix, userName,
		t.Day(), int(t.Month()), t.Year(),
		t.Hour(), t.Minute(), t.Second())
}

// hostUser returns the upper-cased OS user name without any domain part
func hostUser() string {
	name := ""
	if u, err := user.Current(); err == nil {
		name = u.Username
	}
	if name == "" {
		name = os.Getenv("USER")
	}
	if name == "" {
		name = os.Getenv("USERNAME")
	}
	if i := strings.LastIndexAny(name, `\/`); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "UNKNOWN"
	}
	return strings.ToUpper(name)
}

// NewRunContext creates the Result Folder under baseDir. An empty
// downloadDir sends browser downloads straight into the Result Folder.
func NewRunContext(baseDir, prefix, downloadDir string, now time.Time) (*RunContext, error) {
	if baseDir == "" {
		baseDir = "."
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}

	name := FolderName(prefix, hostUser(), now)
	folder := filepath.Join(absBase, name)
	if err := os.MkdirAll(folder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create result folder: %w", err)
	}

	if downloadDir == "" {
		downloadDir = folder
	} else if err := os.MkdirAll(downloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	return &RunContext{
		ID:          common.NewRunID(),
		StartedAt:   now,
		FolderName:  name,
		Folder:      folder,
		DownloadDir: downloadDir,
	}, nil
}

// SnapshotPath is where the dataset copy is kept current
func (r *RunContext) SnapshotPath() string {
	return filepath.Join(r.Folder, r.FolderName+".xlsx")
}
