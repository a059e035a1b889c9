package repository

import (
	"context"
	"errors"
	"time"

	"github.com/soundledger/royaltystream/internal/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrTerminalUpload is returned when a pipeline write targets an upload that
// already reached a terminal state (or is not owned by a live run).
var ErrTerminalUpload = errors.New("upload is not in a writable state")

// UploadRepository defines the interface for upload record operations.
// The status/progress mutators carry the state machine guards: they only
// touch records in the expected source state, so a terminal record can
// never be resurrected by a late write.
type UploadRepository interface {
	Create(ctx context.Context, upload domain.Upload) (domain.Upload, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Upload, error)
	// List returns uploads newest-first, optionally filtered by status,
	// along with the total count for the filter.
	List(ctx context.Context, status *domain.UploadStatus, limit int, offset int) ([]domain.Upload, int, error)
	// MarkProcessing transitions pending -> processing.
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	// SetTotalRows records the count pass result on a processing upload.
	SetTotalRows(ctx context.Context, id uuid.UUID, totalRows int) error
	// RecordProgress writes a progress checkpoint on a processing upload.
	RecordProgress(ctx context.Context, id uuid.UUID, processedRows int, progress int) error
	// Finalize moves a processing upload to a terminal status, forcing
	// progress to 100 and stamping completed_at.
	Finalize(ctx context.Context, id uuid.UUID, status domain.UploadStatus, processedRows int, errorMessage string) error
	Delete(ctx context.Context, id uuid.UUID) error
	// MarkStaleFailed fails processing uploads whose last write is older
	// than cutoff, returning how many were swept.
	MarkStaleFailed(ctx context.Context, cutoff time.Time, message string) (int64, error)
}

// TransactionFilter narrows transaction queries for downstream reporting.
type TransactionFilter struct {
	UploadID  *uuid.UUID
	Artist    string
	Title     string
	Service   string
	Territory string
	From      *time.Time
	To        *time.Time
}

// TransactionRepository defines the interface for canonical transaction operations.
type TransactionRepository interface {
	Create(ctx context.Context, txn domain.Transaction) (domain.Transaction, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)
	List(ctx context.Context, filter TransactionFilter, limit int, offset int) ([]domain.Transaction, int, error)
	CountByUpload(ctx context.Context, uploadID uuid.UUID) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByUpload(ctx context.Context, uploadID uuid.UUID) (int64, error)
}
