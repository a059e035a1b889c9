package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/soundledger/royaltystream/internal/domain"
	"github.com/soundledger/royaltystream/internal/repository"

	"github.com/xuri/excelize/v2"
)

// Format selects the file format an export is written in.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat resolves a query-string format value, defaulting to CSV.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// ContentType returns the MIME type used when serving the export.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// Extension returns the file extension for the format, without the dot.
func (f Format) Extension() string {
	if f == FormatXLSX {
		return "xlsx"
	}
	return "csv"
}

var exportHeaders = []string{
	"Transaction ID", "Title", "Artist", "ISRC", "UPC", "Label", "Service",
	"Territory", "Transaction Type", "Quantity", "Currency", "Gross Revenue",
	"Net Revenue", "Transaction Date", "Notes",
}

// Service streams filtered transactions out as downloadable files. Rows are
// fetched in pages so large result sets never sit in memory whole.
type Service struct {
	transactions repository.TransactionRepository
	pageSize     int
}

type Option func(*Service)

func WithPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.pageSize = size
		}
	}
}

func NewService(transactions repository.TransactionRepository, opts ...Option) *Service {
	service := &Service{
		transactions: transactions,
		pageSize:     1000,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Export writes every transaction matching the filter to w in the requested
// format and returns the number of rows written.
func (s *Service) Export(ctx context.Context, w io.Writer, filter repository.TransactionFilter, format Format) (int, error) {
	switch format {
	case FormatCSV:
		return s.exportCSV(ctx, w, filter)
	case FormatXLSX:
		return s.exportXLSX(ctx, w, filter)
	default:
		return 0, fmt.Errorf("unsupported export format %q", format)
	}
}

func (s *Service) exportCSV(ctx context.Context, w io.Writer, filter repository.TransactionFilter) (int, error) {
	buffered := bufio.NewWriterSize(w, 1<<20)
	csvWriter := csv.NewWriter(buffered)

	if err := csvWriter.Write(exportHeaders); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	rowsExported := 0
	err := s.eachPage(ctx, filter, func(txn domain.Transaction) error {
		if err := csvWriter.Write(exportRow(txn)); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		rowsExported++
		return nil
	})
	if err != nil {
		return rowsExported, err
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return rowsExported, fmt.Errorf("failed to flush rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return rowsExported, fmt.Errorf("failed to flush buffered rows: %w", err)
	}
	return rowsExported, nil
}

func (s *Service) exportXLSX(ctx context.Context, w io.Writer, filter repository.TransactionFilter) (int, error) {
	file := excelize.NewFile()
	defer file.Close()

	sheet := file.GetSheetName(0)
	stream, err := file.NewStreamWriter(sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to open stream writer: %w", err)
	}

	header := make([]any, len(exportHeaders))
	for i, name := range exportHeaders {
		header[i] = name
	}
	if err := stream.SetRow("A1", header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	rowsExported := 0
	err = s.eachPage(ctx, filter, func(txn domain.Transaction) error {
		values := exportRow(txn)
		cells := make([]any, len(values))
		for i, value := range values {
			cells[i] = value
		}
		cell, err := excelize.CoordinatesToCellName(1, rowsExported+2)
		if err != nil {
			return fmt.Errorf("failed to address row: %w", err)
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		rowsExported++
		return nil
	})
	if err != nil {
		return rowsExported, err
	}

	if err := stream.Flush(); err != nil {
		return rowsExported, fmt.Errorf("failed to flush rows: %w", err)
	}
	if err := file.Write(w); err != nil {
		return rowsExported, fmt.Errorf("failed to write workbook: %w", err)
	}
	return rowsExported, nil
}

// eachPage walks the filtered transactions page by page in repository order
// (upload, then row number) and hands each one to visit.
func (s *Service) eachPage(ctx context.Context, filter repository.TransactionFilter, visit func(domain.Transaction) error) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		transactions, _, err := s.transactions.List(ctx, filter, s.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to list transactions: %w", err)
		}
		if len(transactions) == 0 {
			return nil
		}
		for _, txn := range transactions {
			if err := visit(txn); err != nil {
				return err
			}
		}
		if len(transactions) < s.pageSize {
			return nil
		}
		offset += s.pageSize
	}
}

func exportRow(txn domain.Transaction) []string {
	return []string{
		txn.TransactionID,
		txn.Title,
		txn.Artist,
		txn.ISRC,
		txn.UPC,
		txn.Label,
		txn.Service,
		txn.Territory,
		txn.TransactionType,
		fmt.Sprintf("%d", txn.Quantity),
		txn.Currency,
		txn.GrossRevenue.String(),
		txn.NetRevenue.String(),
		txn.TransactionDate.UTC().Format("2006-01-02"),
		txn.Notes,
	}
}
