package interfaces

import (
	"context"

	"github.com/ternarybob/certflow/internal/common"
	"github.com/ternarybob/certflow/internal/models"
)

// SessionState is the lifecycle of a portal session
type SessionState string

const (
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
	SessionDead            SessionState = "dead"
)

// PortalSession is one authenticated connection to the registry portal.
// A session is owned by a single workflow run and cannot be revived once Dead.
type PortalSession interface {
	Login(ctx context.Context, creds common.Credentials) error
	OpenQueryForm(ctx context.Context) error
	SubmitQuery(ctx context.Context, record models.Record) (models.QueryOutcome, error)
	CompleteRetrieval(ctx context.Context, outcome models.QueryOutcome) error
	ReturnToQuery(ctx context.Context) error
	State() SessionState
	Close() error
}

// SessionFactory creates a fresh session whose browser downloads land in downloadDir
type SessionFactory interface {
	NewSession(ctx context.Context, downloadDir string) (PortalSession, error)
}

// DownloadWatcher waits for the browser to drop the artifact and relocates it
type DownloadWatcher interface {
	Await(ctx context.Context, task models.DownloadTask) (string, error)
}

// ArtifactInspector reports the page count of a retrieved document
type ArtifactInspector interface {
	PageCount(path string) (int, error)
}
