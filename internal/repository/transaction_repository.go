package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/soundledger/royaltystream/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type transactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository wires a repository backed by pgxpool.
func NewTransactionRepository(pool *pgxpool.Pool) TransactionRepository {
	return &transactionRepository{pool: pool}
}

const transactionColumns = `id, upload_id, row_number, transaction_id, title, artist, isrc, upc, label,
	service, territory, transaction_type, quantity, currency, gross_revenue, net_revenue,
	transaction_date, notes, raw_data, created_at`

func (r *transactionRepository) Create(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	rawData, err := json.Marshal(txn.RawData)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to marshal raw row data: %w", err)
	}

	_, err = r.pool.Exec(
		ctx,
		`INSERT INTO royalty_transactions (id, upload_id, row_number, transaction_id, title, artist,
			isrc, upc, label, service, territory, transaction_type, quantity, currency,
			gross_revenue, net_revenue, transaction_date, notes, raw_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		txn.ID,
		txn.UploadID,
		txn.RowNumber,
		txn.TransactionID,
		txn.Title,
		txn.Artist,
		txn.ISRC,
		txn.UPC,
		txn.Label,
		txn.Service,
		txn.Territory,
		txn.TransactionType,
		txn.Quantity,
		txn.Currency,
		txn.GrossRevenue,
		txn.NetRevenue,
		txn.TransactionDate,
		txn.Notes,
		rawData,
		txn.CreatedAt,
	)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	return txn, nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	row := r.pool.QueryRow(
		ctx,
		`SELECT `+transactionColumns+` FROM royalty_transactions WHERE id = $1`,
		id,
	)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrNotFound
		}
		return domain.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

func (r *transactionRepository) List(ctx context.Context, filter TransactionFilter, limit int, offset int) ([]domain.Transaction, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + transactionColumns + `, COUNT(*) OVER() AS total_count FROM royalty_transactions`
	where := ""
	args := []any{}

	addCondition := func(condition string, value any) {
		args = append(args, value)
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(condition, len(args))
	}

	if filter.UploadID != nil {
		addCondition("upload_id = $%d", *filter.UploadID)
	}
	if filter.Artist != "" {
		addCondition("artist ILIKE $%d", "%"+filter.Artist+"%")
	}
	if filter.Title != "" {
		addCondition("title ILIKE $%d", "%"+filter.Title+"%")
	}
	if filter.Service != "" {
		addCondition("service ILIKE $%d", "%"+filter.Service+"%")
	}
	if filter.Territory != "" {
		addCondition("territory ILIKE $%d", "%"+filter.Territory+"%")
	}
	if filter.From != nil {
		addCondition("transaction_date >= $%d", *filter.From)
	}
	if filter.To != nil {
		addCondition("transaction_date <= $%d", *filter.To)
	}

	query += where + fmt.Sprintf(` ORDER BY upload_id, row_number LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []domain.Transaction{}
	totalCount := 0
	for rows.Next() {
		txn, count, err := scanTransactionWithCount(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		totalCount = count
		transactions = append(transactions, txn)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, fmt.Errorf("failed to iterate transactions: %w", rowsErr)
	}

	return transactions, totalCount, nil
}

func (r *transactionRepository) CountByUpload(ctx context.Context, uploadID uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM royalty_transactions WHERE upload_id = $1`,
		uploadID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

func (r *transactionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM royalty_transactions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *transactionRepository) DeleteByUpload(ctx context.Context, uploadID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM royalty_transactions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete transactions for upload: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		txn     domain.Transaction
		gross   decimal.Decimal
		net     decimal.Decimal
		rawData []byte
	)
	if err := row.Scan(
		&txn.ID,
		&txn.UploadID,
		&txn.RowNumber,
		&txn.TransactionID,
		&txn.Title,
		&txn.Artist,
		&txn.ISRC,
		&txn.UPC,
		&txn.Label,
		&txn.Service,
		&txn.Territory,
		&txn.TransactionType,
		&txn.Quantity,
		&txn.Currency,
		&gross,
		&net,
		&txn.TransactionDate,
		&txn.Notes,
		&rawData,
		&txn.CreatedAt,
	); err != nil {
		return domain.Transaction{}, err
	}

	txn.GrossRevenue = gross
	txn.NetRevenue = net
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &txn.RawData); err != nil {
			return domain.Transaction{}, fmt.Errorf("failed to unmarshal raw row data: %w", err)
		}
	}
	return txn, nil
}

func scanTransactionWithCount(rows pgx.Rows) (domain.Transaction, int, error) {
	var (
		txn        domain.Transaction
		gross      decimal.Decimal
		net        decimal.Decimal
		rawData    []byte
		totalCount int
	)
	if err := rows.Scan(
		&txn.ID,
		&txn.UploadID,
		&txn.RowNumber,
		&txn.TransactionID,
		&txn.Title,
		&txn.Artist,
		&txn.ISRC,
		&txn.UPC,
		&txn.Label,
		&txn.Service,
		&txn.Territory,
		&txn.TransactionType,
		&txn.Quantity,
		&txn.Currency,
		&gross,
		&net,
		&txn.TransactionDate,
		&txn.Notes,
		&rawData,
		&txn.CreatedAt,
		&totalCount,
	); err != nil {
		return domain.Transaction{}, 0, err
	}

	txn.GrossRevenue = gross
	txn.NetRevenue = net
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &txn.RawData); err != nil {
			return domain.Transaction{}, 0, fmt.Errorf("failed to unmarshal raw row data: %w", err)
		}
	}
	return txn, totalCount, nil
}
