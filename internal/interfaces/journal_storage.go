package interfaces

import (
	"context"

	"github.com/ternarybob/certflow/internal/models"
)

// JournalStorage keeps diagnostics about supervised runs and row attempts.
// It never decides eligibility; the dataset status does.
type JournalStorage interface {
	SaveRun(ctx context.Context, run *models.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error)
	SaveAttempt(ctx context.Context, attempt *models.AttemptRecord) error
	ListAttempts(ctx context.Context, row int) ([]models.AttemptRecord, error)
	CountAttemptsByRow(ctx context.Context) (map[int]int, error)
	Close() error
}

// OrderStorage is the append/list store behind the record-append service
type OrderStorage interface {
	Append(ctx context.Context, order models.Order) error
	List(ctx context.Context) ([]models.Order, error)
}
