package interfaces

import (
	"context"

	"github.com/ternarybob/certflow/internal/models"
)

// Column names a dataset field. Sheet letters stay inside the store.
type Column int

const (
	ColumnIdentifier Column = iota
	ColumnRegistryOffice
	ColumnDocumentNumber
	ColumnStatus
)

// RecordStore is the file-backed dataset: task queue and progress ledger.
// Row 1 is the header; data starts at row 2.
type RecordStore interface {
	// TotalRows counts rows with any populated value, header included
	TotalRows(ctx context.Context) (int, error)

	// ReadField returns the raw cell value, empty when the cell is absent
	ReadField(ctx context.Context, row int, column Column) (string, error)

	// WriteField overwrites one cell and rewrites the whole file
	WriteField(ctx context.Context, row int, column Column, value string) error

	ReadRecord(ctx context.Context, row int) (models.Record, error)
	WriteStatus(ctx context.Context, row int, status models.RecordStatus) error
	Records(ctx context.Context) ([]models.Record, error)

	// Snapshot copies the current dataset file to destPath, overwriting it
	Snapshot(ctx context.Context, destPath string) error

	Path() string
}
