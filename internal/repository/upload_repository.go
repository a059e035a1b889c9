package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundledger/royaltystream/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type uploadRepository struct {
	pool *pgxpool.Pool
}

// NewUploadRepository wires a repository backed by pgxpool.
func NewUploadRepository(pool *pgxpool.Pool) UploadRepository {
	return &uploadRepository{pool: pool}
}

const uploadColumns = `id, file_name, original_name, storage_path, file_size, mime_type, user_id,
	status, total_rows, processed_rows, progress, error_message, created_at, updated_at, completed_at`

func (r *uploadRepository) Create(ctx context.Context, upload domain.Upload) (domain.Upload, error) {
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO uploads (id, file_name, original_name, storage_path, file_size, mime_type, user_id,
			status, total_rows, processed_rows, progress, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		upload.ID,
		upload.FileName,
		upload.OriginalName,
		upload.StoragePath,
		upload.FileSize,
		upload.MimeType,
		upload.UserID,
		string(upload.Status),
		upload.TotalRows,
		upload.ProcessedRows,
		upload.Progress,
		upload.ErrorMessage,
		upload.CreatedAt,
		upload.UpdatedAt,
	)
	if err != nil {
		return domain.Upload{}, fmt.Errorf("failed to create upload: %w", err)
	}
	return upload, nil
}

func (r *uploadRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Upload, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+uploadColumns+` FROM uploads WHERE id = $1`,
		id,
	)

	upload, err := scanUpload(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Upload{}, ErrNotFound
		}
		return domain.Upload{}, fmt.Errorf("failed to get upload: %w", err)
	}
	return upload, nil
}

func (r *uploadRepository) List(ctx context.Context, status *domain.UploadStatus, limit int, offset int) ([]domain.Upload, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + uploadColumns + `, COUNT(*) OVER() AS total_count FROM uploads`
	args := []any{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer rows.Close()

	uploads := []domain.Upload{}
	totalCount := 0
	for rows.Next() {
		upload, count, err := scanUploadWithCount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan upload: %w", err)
		}
		totalCount = count
		uploads = append(uploads, upload)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate uploads: %w", rowsErr)
	}

	return uploads, totalCount, nil
}

func (r *uploadRepository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(domain.UploadStatusProcessing),
		id,
		string(domain.UploadStatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark upload processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminalUpload
	}
	return nil
}

func (r *uploadRepository) SetTotalRows(ctx context.Context, id uuid.UUID, totalRows int) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads SET total_rows = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		totalRows,
		id,
		string(domain.UploadStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to set total rows: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminalUpload
	}
	return nil
}

func (r *uploadRepository) RecordProgress(ctx context.Context, id uuid.UUID, processedRows int, progress int) error {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads SET processed_rows = $1, progress = $2, updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		processedRows,
		progress,
		id,
		string(domain.UploadStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminalUpload
	}
	return nil
}

func (r *uploadRepository) Finalize(ctx context.Context, id uuid.UUID, status domain.UploadStatus, processedRows int, errorMessage string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finalize upload to non-terminal status %q", status)
	}

	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads SET status = $1, processed_rows = $2, progress = 100, error_message = $3,
			updated_at = NOW(), completed_at = NOW()
		 WHERE id = $4 AND status = $5`,
		string(status),
		processedRows,
		errorMessage,
		id,
		string(domain.UploadStatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to finalize upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTerminalUpload
	}
	return nil
}

func (r *uploadRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM uploads WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete upload: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *uploadRepository) MarkStaleFailed(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	tag, err := r.pool.Exec(
		ctx,
		`UPDATE uploads SET status = $1, error_message = $2, progress = 100,
			updated_at = NOW(), completed_at = NOW()
		 WHERE status = $3 AND updated_at < $4`,
		string(domain.UploadStatusFailed),
		message,
		string(domain.UploadStatusProcessing),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale uploads: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanUpload(row pgx.Row) (domain.Upload, error) {
	var (
		upload      domain.Upload
		status      string
		completedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&upload.ID,
		&upload.FileName,
		&upload.OriginalName,
		&upload.StoragePath,
		&upload.FileSize,
		&upload.MimeType,
		&upload.UserID,
		&status,
		&upload.TotalRows,
		&upload.ProcessedRows,
		&upload.Progress,
		&upload.ErrorMessage,
		&upload.CreatedAt,
		&upload.UpdatedAt,
		&completedAt,
	); err != nil {
		return domain.Upload{}, err
	}

	upload.Status = domain.UploadStatusFrom(status)
	if completedAt.Valid {
		value := completedAt.Time
		upload.CompletedAt = &value
	}
	return upload, nil
}

func scanUploadWithCount(rows pgx.Rows) (domain.Upload, int, error) {
	var (
		upload      domain.Upload
		status      string
		completedAt pgtype.Timestamptz
		totalCount  int
	)
	if err := rows.Scan(
		&upload.ID,
		&upload.FileName,
		&upload.OriginalName,
		&upload.StoragePath,
		&upload.FileSize,
		&upload.MimeType,
		&upload.UserID,
		&status,
		&upload.TotalRows,
		&upload.ProcessedRows,
		&upload.Progress,
		&upload.ErrorMessage,
		&upload.CreatedAt,
		&upload.UpdatedAt,
		&completedAt,
		&totalCount,
	); err != nil {
		return domain.Upload{}, 0, err
	}

	upload.Status = domain.UploadStatusFrom(status)
	if completedAt.Valid {
		value := completedAt.Time
		upload.CompletedAt = &value
	}
	return upload, totalCount, nil
}
