// Package dataset implements the xlsx-backed record store.
//
// Every read opens the workbook from disk and every write rewrites the whole
// file, so the file on disk is always the single source of truth for
// resumption after a crash.
package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

// HeaderRow is the 1-based row holding column titles
const HeaderRow = 1

// FirstDataRow is the 1-based row of the first record
const FirstDataRow = 2

var columnLetters = map[interfaces.Column]string{
	interfaces.ColumnIdentifier:     "A",
	interfaces.ColumnRegistryOffice: "B",
	interfaces.ColumnDocumentNumber: "C",
	interfaces.ColumnStatus:         "D",
}

// Store implements interfaces.RecordStore over one worksheet of an xlsx file
type Store struct {
	path   string
	sheet  string
	logger arbor.ILogger
	mu     sync.Mutex
}

// Compile-time interface assertion
var _ interfaces.RecordStore = (*Store)(nil)

// NewStore creates a store for path. An empty sheet selects the first worksheet.
// The file is not opened until the first operation.
func NewStore(path, sheet string, logger arbor.ILogger) *Store {
	return &Store{
		path:   path,
		sheet:  sheet,
		logger: logger,
	}
}

// Path returns the dataset file location
func (s *Store) Path() string {
	return s.path
}

func ioError(op string, err error) error {
	return models.NewWorkflowError(models.KindDatasetIO, op, err)
}

// open reads the workbook and resolves the worksheet name
func (s *Store) open(ctx context.Context) (*excelize.File, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return nil, "", ioError("open dataset", fmt.Errorf("%s: %w", s.path, err))
	}

	sheet := s.sheet
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		f.Close()
		return nil, "", ioError("open dataset", fmt.Errorf("worksheet %q not found in %s", sheet, s.path))
	}

	return f, sheet, nil
}

func cellName(row int, column interfaces.Column) (string, error) {
	letter, ok := columnLetters[column]
	if !ok {
		return "", fmt.Errorf("unknown column %d", column)
	}
	if row < 1 {
		return "", fmt.Errorf("row %d out of range", row)
	}
	return fmt.Sprintf("%s%d", letter, row), nil
}

// TotalRows counts rows with at least one non-blank cell, header included
func (s *Store) TotalRows(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, ioError("read rows", err)
	}

	count := 0
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				count++
				break
			}
		}
	}
	return count, nil
}

// ReadField returns the raw cell value; absent cells read as ""
func (s *Store) ReadField(ctx context.Context, row int, column interfaces.Column) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open(ctx)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return readCell(f, sheet, row, column)
}

func readCell(f *excelize.File, sheet string, row int, column interfaces.Column) (string, error) {
	cell, err := cellName(row, column)
	if err != nil {
		return "", ioError("read field", err)
	}
	value, err := f.GetCellValue(sheet, cell)
	if err != nil {
		return "", ioError("read field", fmt.Errorf("%s: %w", cell, err))
	}
	return value, nil
}

// WriteField sets one cell and rewrites the file
func (s *Store) WriteField(ctx context.Context, row int, column interfaces.Column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	cell, err := cellName(row, column)
	if err != nil {
		return ioError("write field", err)
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return ioError("write field", fmt.Errorf("%s: %w", cell, err))
	}

	if err := s.replaceFile(f); err != nil {
		return err
	}

	s.logger.Debug().
		Str("cell", cell).
		Str("value", value).
		Msg("Dataset cell written")
	return nil
}

// replaceFile writes the workbook next to the original and renames it into
// place, so readers see either the old file or the new one.
func (s *Store) replaceFile(f *excelize.File) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".certflow-*.xlsx")
	if err != nil {
		return ioError("write dataset", err)
	}
	tmpPath := tmp.Name()

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ioError("write dataset", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return ioError("write dataset", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return ioError("write dataset", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return ioError("write dataset", err)
	}
	return nil
}

// ReadRecord reads the four fields of one data row in a single open
func (s *Store) ReadRecord(ctx context.Context, row int) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open(ctx)
	if err != nil {
		return models.Record{}, err
	}
	defer f.Close()

	return readRecord(f, sheet, row)
}

func readRecord(f *excelize.File, sheet string, row int) (models.Record, error) {
	values := make(map[interfaces.Column]string, len(columnLetters))
	for column := range columnLetters {
		v, err := readCell(f, sheet, row, column)
		if err != nil {
			return models.Record{}, err
		}
		values[column] = strings.TrimSpace(v)
	}

	return models.Record{
		Row:            row,
		Identifier:     values[interfaces.ColumnIdentifier],
		RegistryOffice: values[interfaces.ColumnRegistryOffice],
		DocumentNumber: values[interfaces.ColumnDocumentNumber],
		Status:         models.ParseStatus(values[interfaces.ColumnStatus]),
	}, nil
}

// WriteStatus persists the normalized label of status for row
func (s *Store) WriteStatus(ctx context.Context, row int, status models.RecordStatus) error {
	return s.WriteField(ctx, row, interfaces.ColumnStatus, status.Label())
}

// Records returns every data row in sheet order
func (s *Store) Records(ctx context.Context) ([]models.Record, error) {
	total, err := s.TotalRows(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := make([]models.Record, 0, total)
	for row := FirstDataRow; row <= total; row++ {
		rec, err := readRecord(f, sheet, row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Snapshot copies the dataset file to destPath
func (s *Store) Snapshot(ctx context.Context, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	src, err := os.Open(s.path)
	if err != nil {
		return ioError("snapshot dataset", err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return ioError("snapshot dataset", err)
	}

	dst, err := os.Create(destPath)
	if err != nil {
		return ioError("snapshot dataset", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return ioError("snapshot dataset", err)
	}
	if err := dst.Close(); err != nil {
		return ioError("snapshot dataset", err)
	}
	return nil
}
