package domain

import (
	"time"

	"github.com/google/uuid"
)

// UploadStatus tracks the lifecycle of one ingestion job.
type UploadStatus string

const (
	UploadStatusPending             UploadStatus = "pending"
	UploadStatusProcessing          UploadStatus = "processing"
	UploadStatusCompleted           UploadStatus = "completed"
	UploadStatusCompletedWithErrors UploadStatus = "completed_with_errors"
	UploadStatusFailed              UploadStatus = "failed"
)

// Terminal reports whether the status is final. A terminal upload is never
// written again by the pipeline.
func (s UploadStatus) Terminal() bool {
	switch s {
	case UploadStatusCompleted, UploadStatusCompletedWithErrors, UploadStatusFailed:
		return true
	}
	return false
}

// UploadStatusFrom normalizes a raw string to a known status, defaulting to pending.
func UploadStatusFrom(raw string) UploadStatus {
	switch UploadStatus(raw) {
	case UploadStatusProcessing:
		return UploadStatusProcessing
	case UploadStatusCompleted:
		return UploadStatusCompleted
	case UploadStatusCompletedWithErrors:
		return UploadStatusCompletedWithErrors
	case UploadStatusFailed:
		return UploadStatusFailed
	}
	return UploadStatusPending
}

// Upload is the persisted descriptor of one ingestion job: file metadata,
// the status state machine, and progress counters mutated only by the
// pipeline that owns the record.
type Upload struct {
	ID            uuid.UUID    `json:"id"`
	FileName      string       `json:"file_name"`
	OriginalName  string       `json:"original_name"`
	StoragePath   string       `json:"storage_path"`
	FileSize      int64        `json:"file_size"`
	MimeType      string       `json:"mime_type"`
	UserID        uuid.UUID    `json:"user_id"`
	Status        UploadStatus `json:"status"`
	TotalRows     int          `json:"total_rows"`
	ProcessedRows int          `json:"processed_rows"`
	Progress      int          `json:"progress"`
	ErrorMessage  string       `json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// NewUpload creates a pending upload record for a stored file.
func NewUpload(fileName, originalName, storagePath string, fileSize int64, mimeType string, userID uuid.UUID) Upload {
	now := time.Now()
	return Upload{
		ID:           uuid.New(),
		FileName:     fileName,
		OriginalName: originalName,
		StoragePath:  storagePath,
		FileSize:     fileSize,
		MimeType:     mimeType,
		UserID:       userID,
		Status:       UploadStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ProgressPercent derives the integer percentage shown to polling clients.
// A zero total maps to 0 so that a mid-run snapshot of an empty or not yet
// counted file never reports a phantom percentage; terminal transitions
// force 100 regardless.
func ProgressPercent(processed, total int) int {
	if total <= 0 {
		return 0
	}
	pct := processed * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}
