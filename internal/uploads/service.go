package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/soundledger/royaltystream/internal/domain"
	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PipelineStarter launches background processing of a pending upload.
type PipelineStarter interface {
	Start(upload domain.Upload)
}

// Service owns the upload record surface: creating a job and handing it to
// the pipeline, plus the read/delete operations used by polling clients.
type Service struct {
	uploads      repository.UploadRepository
	transactions repository.TransactionRepository
	pipeline     PipelineStarter
	storageDir   string
	logger       *zap.Logger
}

// NewService creates a new upload service.
func NewService(
	uploads repository.UploadRepository,
	transactions repository.TransactionRepository,
	pipeline PipelineStarter,
	storageDir string,
	logger *zap.Logger,
) *Service {
	return &Service{
		uploads:      uploads,
		transactions: transactions,
		pipeline:     pipeline,
		storageDir:   storageDir,
		logger:       logger,
	}
}

// CreateRequest describes one incoming file.
type CreateRequest struct {
	OriginalName string
	MimeType     string
	UserID       uuid.UUID
	Data         io.Reader
}

// Create stores the file, inserts a pending upload record, and starts
// processing in the background. It returns as soon as the record exists;
// the caller polls the record for progress.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Upload, error) {
	if strings.TrimSpace(req.OriginalName) == "" {
		return domain.Upload{}, errors.New("file name is required")
	}
	if req.UserID == uuid.Nil {
		return domain.Upload{}, errors.New("user id is required")
	}
	if req.Data == nil {
		return domain.Upload{}, errors.New("file data is required")
	}

	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return domain.Upload{}, fmt.Errorf("failed to create storage directory: %w", err)
	}

	storedName := uuid.New().String() + strings.ToLower(filepath.Ext(req.OriginalName))
	storagePath := filepath.Join(s.storageDir, storedName)

	size, err := s.storeFile(storagePath, req.Data)
	if err != nil {
		return domain.Upload{}, err
	}

	upload := domain.NewUpload(storedName, req.OriginalName, storagePath, size, req.MimeType, req.UserID)
	created, err := s.uploads.Create(ctx, upload)
	if err != nil {
		if rmErr := os.Remove(storagePath); rmErr != nil {
			s.logger.Warn("failed to remove orphaned upload file",
				zap.String("path", storagePath), zap.Error(rmErr))
		}
		return domain.Upload{}, err
	}

	s.pipeline.Start(created)
	return created, nil
}

// Get returns one upload record.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Upload, error) {
	return s.uploads.GetByID(ctx, id)
}

// List returns uploads newest-first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status *domain.UploadStatus, limit int, offset int) ([]domain.Upload, int, error) {
	return s.uploads.List(ctx, status, limit, offset)
}

// Delete removes the upload record, its transactions, and the backing file.
// The pipeline never deletes records itself and never writes to a terminal
// record, so a delete cannot race a live write into resurrecting the row.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	upload, err := s.uploads.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.transactions.DeleteByUpload(ctx, id); err != nil {
		return err
	}
	if err := s.uploads.Delete(ctx, id); err != nil {
		return err
	}

	if err := os.Remove(upload.StoragePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove upload file",
			zap.String("path", upload.StoragePath), zap.Error(err))
	}
	return nil
}

func (s *Service) storeFile(path string, data io.Reader) (int64, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create upload file: %w", err)
	}

	size, err := io.Copy(out, data)
	if err != nil {
		out.Close()
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to store upload file: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("failed to flush upload file: %w", err)
	}
	return size, nil
}
