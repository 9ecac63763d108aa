package badger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

// JournalStorage implements interfaces.JournalStorage for Badger
type JournalStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJournalStorage creates a new JournalStorage instance
func NewJournalStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JournalStorage {
	return &JournalStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRun inserts or replaces a run record, assigning an ID when empty
func (s *JournalStorage) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first
func (s *JournalStorage) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	var runs []models.RunRecord
	query := (&badgerhold.Query{}).SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// SaveAttempt inserts or replaces an attempt record, assigning an ID when empty
func (s *JournalStorage) SaveAttempt(ctx context.Context, attempt *models.AttemptRecord) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if err := s.db.Store().Upsert(attempt.ID, attempt); err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

// ListAttempts returns every attempt at row, oldest first
func (s *JournalStorage) ListAttempts(ctx context.Context, row int) ([]models.AttemptRecord, error) {
	var attempts []models.AttemptRecord
	query := badgerhold.Where("Row").Eq(row).SortBy("StartedAt")

	if err := s.db.Store().Find(&attempts, query); err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	return attempts, nil
}

// CountAttemptsByRow returns the number of attempts per row
func (s *JournalStorage) CountAttemptsByRow(ctx context.Context) (map[int]int, error) {
	var attempts []models.AttemptRecord
	if err := s.db.Store().Find(&attempts, nil); err != nil {
		return nil, fmt.Errorf("failed to count attempts: %w", err)
	}

	counts := make(map[int]int)
	for _, attempt := range attempts {
		counts[attempt.Row]++
	}
	return counts, nil
}

// Close closes the underlying database
func (s *JournalStorage) Close() error {
	return s.db.Close()
}
