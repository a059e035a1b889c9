package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soundledger/royaltystream/internal/domain"
	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options tunes one pipeline instance.
type Options struct {
	// RunTimeout bounds a single upload's run; zero means no deadline.
	RunTimeout time.Duration
	// CheckpointEvery is the number of successfully processed rows between
	// progress writes. Defaults to 5.
	CheckpointEvery int
	// MaxErrorMessages caps the error summary. Defaults to 10.
	MaxErrorMessages int
}

func (o Options) withDefaults() Options {
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 5
	}
	if o.MaxErrorMessages <= 0 {
		o.MaxErrorMessages = 10
	}
	return o
}

// Pipeline drives one upload through counting, loading, sequential per-row
// mapping and persistence, progress checkpoints, and terminal status
// resolution. It holds exclusive write authority over the upload record from
// acceptance until a terminal state.
type Pipeline struct {
	uploads      repository.UploadRepository
	transactions repository.TransactionRepository
	loader       *Loader
	mapper       *Mapper
	logger       *zap.Logger
	opts         Options
}

// NewPipeline creates a pipeline driver.
func NewPipeline(
	uploads repository.UploadRepository,
	transactions repository.TransactionRepository,
	loader *Loader,
	mapper *Mapper,
	logger *zap.Logger,
	opts Options,
) *Pipeline {
	return &Pipeline{
		uploads:      uploads,
		transactions: transactions,
		loader:       loader,
		mapper:       mapper,
		logger:       logger,
		opts:         opts.withDefaults(),
	}
}

// Start launches processing of an upload as an independent background task.
// The caller returns immediately; outcome is observable only through the
// upload record.
func (p *Pipeline) Start(upload domain.Upload) {
	go func() {
		ctx := context.Background()
		if p.opts.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
			defer cancel()
		}
		if err := p.Run(ctx, upload.ID, upload.StoragePath); err != nil {
			p.logger.Error("ingestion run failed",
				zap.String("upload_id", upload.ID.String()),
				zap.Error(err))
		}
	}()
}

// Run processes one upload synchronously. Rows are handled strictly
// sequentially: parallel persistence would need ordering reconciliation and
// synchronized progress counters, and throughput is not worth either.
func (p *Pipeline) Run(ctx context.Context, uploadID uuid.UUID, storagePath string) error {
	log := p.logger.With(zap.String("upload_id", uploadID.String()))

	if err := p.uploads.MarkProcessing(ctx, uploadID); err != nil {
		return fmt.Errorf("failed to take ownership of upload: %w", err)
	}
	log.Info("ingestion started", zap.String("path", storagePath))

	totalRows, err := p.loader.CountRows(storagePath)
	if err != nil {
		return p.fail(ctx, uploadID, 0, err)
	}
	if err := p.uploads.SetTotalRows(ctx, uploadID, totalRows); err != nil {
		return p.fail(ctx, uploadID, 0, err)
	}

	rows, err := p.loader.LoadRows(storagePath)
	if err != nil {
		return p.fail(ctx, uploadID, 0, err)
	}

	processed := 0
	rowErrors := []string{}

	for i, row := range rows {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return p.fail(ctx, uploadID, processed, fmt.Errorf("processing aborted: %w", ctxErr))
		}

		txn, err := p.mapper.MapRow(uploadID, row.Number, row)
		if err == nil {
			_, err = p.transactions.Create(ctx, txn)
		}
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("Error processing row %d: %v", row.Number, err))
			log.Warn("row failed", zap.Int("row", row.Number), zap.Error(err))
		} else {
			processed++
		}

		// Checkpointing is throttled to bound write volume on the record.
		if (err == nil && processed%p.opts.CheckpointEvery == 0) || i == len(rows)-1 {
			progress := domain.ProgressPercent(processed, totalRows)
			if cpErr := p.uploads.RecordProgress(ctx, uploadID, processed, progress); cpErr != nil {
				log.Warn("progress checkpoint failed", zap.Error(cpErr))
			}
		}
	}

	status := domain.UploadStatusCompleted
	if len(rowErrors) > 0 {
		status = domain.UploadStatusCompletedWithErrors
	}
	summary := summarizeErrors(rowErrors, p.opts.MaxErrorMessages)

	if err := p.uploads.Finalize(ctx, uploadID, status, processed, summary); err != nil {
		return fmt.Errorf("failed to finalize upload: %w", err)
	}

	log.Info("ingestion finished",
		zap.String("status", string(status)),
		zap.Int("total_rows", totalRows),
		zap.Int("processed_rows", processed),
		zap.Int("row_errors", len(rowErrors)))
	return nil
}

// fail records an ingestion-fatal outcome. The write uses a detached context
// so a deadline that killed the run cannot also block the failure record.
func (p *Pipeline) fail(ctx context.Context, uploadID uuid.UUID, processed int, cause error) error {
	writeCtx := context.WithoutCancel(ctx)
	if err := p.uploads.Finalize(writeCtx, uploadID, domain.UploadStatusFailed, processed, cause.Error()); err != nil {
		p.logger.Error("failed to record upload failure",
			zap.String("upload_id", uploadID.String()),
			zap.Error(err))
	}
	return cause
}

// summarizeErrors joins up to max row error messages; the remainder collapses
// into an overflow count so one pathological file cannot bloat the record.
func summarizeErrors(errs []string, max int) string {
	if len(errs) == 0 {
		return ""
	}
	if len(errs) <= max {
		return strings.Join(errs, "\n")
	}
	return strings.Join(errs[:max], "\n") + fmt.Sprintf("\n...and %d more errors", len(errs)-max)
}
