// Package orders implements the record-append service: orders are appended
// to a flat JSON file and optional attachments are kept in an uploads
// directory.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/certflow/internal/interfaces"
	"github.com/ternarybob/certflow/internal/models"
)

// FileStorage keeps every order in one JSON array on disk
type FileStorage struct {
	path   string
	logger arbor.ILogger
	mu     sync.Mutex
}

// Compile-time interface assertion
var _ interfaces.OrderStorage = (*FileStorage)(nil)

// NewFileStorage creates a storage backed by path. The file is created on
// the first append.
func NewFileStorage(path string, logger arbor.ILogger) *FileStorage {
	return &FileStorage{path: path, logger: logger}
}

// List returns all orders; a missing file is an empty list
func (s *FileStorage) List(ctx context.Context) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Append adds order to the end of the file
func (s *FileStorage) Append(ctx context.Context, order models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orders, err := s.load()
	if err != nil {
		return err
	}
	orders = append(orders, order)

	data, err := json.MarshalIndent(orders, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode orders: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create orders directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write orders: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace orders file: %w", err)
	}
	return nil
}

func (s *FileStorage) load() ([]models.Order, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Order{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}

	orders := []models.Order{}
	if len(data) == 0 {
		return orders, nil
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("failed to parse orders file %s: %w", s.path, err)
	}
	return orders, nil
}

// Attachment is an uploaded file accompanying an order
type Attachment struct {
	Filename string
	Content  io.Reader
}

// Service creates orders and stores their attachments
type Service struct {
	storage    interfaces.OrderStorage
	uploadsDir string
	logger     arbor.ILogger
	now        func() time.Time
}

// NewService creates the order service
func NewService(storage interfaces.OrderStorage, uploadsDir string, logger arbor.ILogger) *Service {
	return &Service{
		storage:    storage,
		uploadsDir: uploadsDir,
		logger:     logger,
		now:        time.Now,
	}
}

// Create stamps order with an ID and registration time, saves the optional
// attachment, and appends the order. Fields are stored as received.
func (s *Service) Create(ctx context.Context, order models.Order, attachment *Attachment) (models.Order, error) {
	order.ID = uuid.New().String()
	order.FechaRegistro = s.now()
	order.ArchivoNombre = nil

	if attachment != nil {
		if err := s.saveUpload(order.ID, attachment); err != nil {
			return order, err
		}
		name := filepath.Base(attachment.Filename)
		order.ArchivoNombre = &name
	}

	if err := s.storage.Append(ctx, order); err != nil {
		return order, err
	}

	s.logger.Info().
		Str("order_id", order.ID).
		Str("dependencia", order.Dependencia).
		Bool("attachment", attachment != nil).
		Msg("Order registered")
	return order, nil
}

// List returns every registered order
func (s *Service) List(ctx context.Context) ([]models.Order, error) {
	return s.storage.List(ctx)
}

// saveUpload stores the attachment under an opaque name so uploads never
// collide or escape the uploads directory
func (s *Service) saveUpload(id string, attachment *Attachment) error {
	if err := os.MkdirAll(s.uploadsDir, 0755); err != nil {
		return fmt.Errorf("failed to create uploads directory: %w", err)
	}

	dst, err := os.Create(filepath.Join(s.uploadsDir, id))
	if err != nil {
		return fmt.Errorf("failed to create upload: %w", err)
	}
	if _, err := io.Copy(dst, attachment.Content); err != nil {
		dst.Close()
		return fmt.Errorf("failed to store upload: %w", err)
	}
	return dst.Close()
}
