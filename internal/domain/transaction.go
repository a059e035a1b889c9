package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is one canonical royalty/streaming record normalized from a
// single input row. Records are immutable after creation and belong to
// exactly one upload.
type Transaction struct {
	ID       uuid.UUID `json:"id"`
	UploadID uuid.UUID `json:"upload_id"`
	// RowNumber is the 1-based position of the source row within the upload.
	RowNumber int `json:"row_number"`
	// TransactionID is derived from the owning upload and row number. It is
	// stable within one run but only provenance, not a global key.
	TransactionID   string          `json:"transaction_id"`
	Title           string          `json:"title"`
	Artist          string          `json:"artist"`
	ISRC            string          `json:"isrc"`
	UPC             string          `json:"upc"`
	Label           string          `json:"label"`
	Service         string          `json:"service"`
	Territory       string          `json:"territory"`
	TransactionType string          `json:"transaction_type"`
	Quantity        int64           `json:"quantity"`
	Currency        string          `json:"currency"`
	GrossRevenue    decimal.Decimal `json:"gross_revenue"`
	NetRevenue      decimal.Decimal `json:"net_revenue"`
	TransactionDate time.Time       `json:"transaction_date"`
	Notes           string          `json:"notes"`
	// RawData retains the complete original row for audit and debugging.
	RawData   map[string]string `json:"raw_data"`
	CreatedAt time.Time         `json:"created_at"`
}

// DeriveTransactionID builds the provenance identifier for a row of an upload.
func DeriveTransactionID(uploadID uuid.UUID, rowNumber int) string {
	return fmt.Sprintf("%s-%d", uploadID, rowNumber)
}
