package models

import (
	"fmt"
	"path/filepath"
)

// DownloadTask describes one artifact the browser is expected to drop into
// WatchDir and where it must end up. DestDir is the Result Folder; it may
// differ from WatchDir when downloads land in a separate directory.
type DownloadTask struct {
	WatchDir  string
	DestDir   string
	Subfolder string
	Filename  string
}

// NewDownloadTask builds the task for a record. The destination is
// <seq>_<identifier>_<documentNumber>/<documentNumber>.pdf under destDir.
func NewDownloadTask(watchDir, destDir string, rec Record) DownloadTask {
	return DownloadTask{
		WatchDir:  watchDir,
		DestDir:   destDir,
		Subfolder: fmt.Sprintf("%d_%s_%s", rec.Sequence(), rec.Identifier, rec.DocumentNumber),
		Filename:  rec.DocumentNumber + ".pdf",
	}
}

// Destination is the final path of the relocated artifact.
func (t DownloadTask) Destination() string {
	return filepath.Join(t.DestDir, t.Subfolder, t.Filename)
}
