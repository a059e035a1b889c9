package ingestion

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/soundledger/royaltystream/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CoercionPolicy controls how malformed field values are handled during
// mapping. Lenient is the production policy: partner export files are
// inconsistent and the system favors partial data over rejected rows.
type CoercionPolicy int

const (
	// CoercionLenient coerces bad numbers to zero and bad dates to the
	// processing time instead of failing the row.
	CoercionLenient CoercionPolicy = iota
	// CoercionStrict surfaces malformed values as errors. Not used by the
	// pipeline; kept for callers that need validation instead of ingestion.
	CoercionStrict
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"02/01/2006",
	"01-02-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"2006-01",
	"200601",
}

// Column fallback lists per canonical field, evaluated left to right. Source
// files come from many distribution partners with differing export schemas,
// so each field accepts several header spellings; the first present,
// non-empty value wins.
var (
	titleColumns     = []string{"Title", "Track Name", "Song Title", "Track Title", "Release Title"}
	artistColumns    = []string{"Artist", "Artist Name", "Track Artist", "Album Artist"}
	isrcColumns      = []string{"ISRC", "ISRC Code"}
	upcColumns       = []string{"UPC", "Barcode", "EAN"}
	labelColumns     = []string{"Label", "Label Name", "Record Label"}
	serviceColumns   = []string{"Service", "Platform", "Store", "DSP", "Retailer"}
	territoryColumns = []string{"Territory", "Country", "Country Code", "Region"}
	typeColumns      = []string{"Transaction Type", "Sale Type", "Usage Type", "Type"}
	quantityColumns  = []string{"Quantity", "Units", "Streams", "Plays", "Qty"}
	currencyColumns  = []string{"Currency", "Currency Code"}
	grossColumns     = []string{"Gross Revenue", "Gross", "Gross Earnings", "Amount", "Revenue"}
	netColumns       = []string{"Net Revenue", "Net", "Net Earnings", "Royalty", "Earnings (USD)", "USD Amount"}
	dateColumns      = []string{"Transaction Date", "Sale Date", "Statement Date", "Reporting Date", "Period", "Date"}
	notesColumns     = []string{"Notes", "Description", "Comments"}
)

const defaultCurrency = "USD"

// Mapper converts one raw row into one canonical transaction payload. It is
// a pure transformation: no I/O, no retained state beyond configuration.
type Mapper struct {
	policy CoercionPolicy
	// now is the clock used for date defaults; injectable for tests.
	now func() time.Time
}

// NewMapper creates a mapper with the given coercion policy.
func NewMapper(policy CoercionPolicy) *Mapper {
	return &Mapper{policy: policy, now: time.Now}
}

// MapRow maps a raw row to a canonical transaction. uploadID and the 1-based
// rowNumber are needed only for provenance and the derived transaction id.
// Under the lenient policy MapRow never fails: a row of entirely unmappable
// values still produces a transaction of defaults.
func (m *Mapper) MapRow(uploadID uuid.UUID, rowNumber int, row Row) (domain.Transaction, error) {
	lookup := newHeaderLookup(row)

	quantity, err := m.coerceInt(lookup.first(quantityColumns))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("quantity: %w", err)
	}
	gross, err := m.coerceDecimal(lookup.first(grossColumns))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("gross revenue: %w", err)
	}
	net, err := m.coerceDecimal(lookup.first(netColumns))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("net revenue: %w", err)
	}
	date, err := m.coerceDate(lookup.first(dateColumns))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction date: %w", err)
	}

	currency := lookup.first(currencyColumns)
	if currency == "" {
		currency = defaultCurrency
	}

	return domain.Transaction{
		ID:              uuid.New(),
		UploadID:        uploadID,
		RowNumber:       rowNumber,
		TransactionID:   domain.DeriveTransactionID(uploadID, rowNumber),
		Title:           lookup.first(titleColumns),
		Artist:          lookup.first(artistColumns),
		ISRC:            lookup.first(isrcColumns),
		UPC:             lookup.first(upcColumns),
		Label:           lookup.first(labelColumns),
		Service:         lookup.first(serviceColumns),
		Territory:       lookup.first(territoryColumns),
		TransactionType: lookup.first(typeColumns),
		Quantity:        quantity,
		Currency:        strings.ToUpper(currency),
		GrossRevenue:    gross,
		NetRevenue:      net,
		TransactionDate: date,
		Notes:           lookup.first(notesColumns),
		RawData:         row.Values,
		CreatedAt:       m.now(),
	}, nil
}

// headerLookup indexes a row's values by normalized header name so fallback
// candidates match regardless of casing or padding in the source file.
type headerLookup struct {
	values map[string]string
}

func newHeaderLookup(row Row) headerLookup {
	// Collisions between headers that normalize to the same key are resolved
	// by source column order; rows built without one fall back to a sorted
	// order so the outcome never depends on map iteration.
	headers := row.Headers
	if len(headers) == 0 {
		headers = make([]string, 0, len(row.Values))
		for header := range row.Values {
			headers = append(headers, header)
		}
		sort.Strings(headers)
	}

	values := make(map[string]string, len(headers))
	for _, header := range headers {
		key := normalizeHeader(header)
		if key == "" {
			continue
		}
		if _, exists := values[key]; !exists {
			values[key] = strings.TrimSpace(row.Values[header])
		}
	}
	return headerLookup{values: values}
}

// first returns the value of the first candidate column that is present and
// non-empty, preserving the fallback order.
func (l headerLookup) first(candidates []string) string {
	for _, candidate := range candidates {
		if value, ok := l.values[normalizeHeader(candidate)]; ok && value != "" {
			return value
		}
	}
	return ""
}

func normalizeHeader(header string) string {
	return strings.ToLower(strings.Join(strings.Fields(strings.TrimSpace(header)), " "))
}

func (m *Mapper) coerceInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	cleaned := strings.ReplaceAll(raw, ",", "")
	if i, err := strconv.ParseInt(cleaned, 10, 64); err == nil {
		return i, nil
	}
	// Partner files sometimes export counts as floats ("12.0"). Only finite,
	// integral values inside the int64 range count: ParseFloat also accepts
	// NaN, infinities and overflowing exponents, which would convert to
	// garbage instead of degrading.
	if f, err := strconv.ParseFloat(cleaned, 64); err == nil &&
		math.Mod(f, 1) == 0 && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f), nil
	}
	if m.policy == CoercionStrict {
		return 0, fmt.Errorf("unable to coerce %q to integer", raw)
	}
	return 0, nil
}

func (m *Mapper) coerceDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	cleaned := strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(raw)

	// Accounting exports write negatives as "(1.25)".
	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = cleaned[1 : len(cleaned)-1]
	}

	if d, err := decimal.NewFromString(cleaned); err == nil {
		if negative {
			return d.Neg(), nil
		}
		return d, nil
	}
	if m.policy == CoercionStrict {
		return decimal.Zero, fmt.Errorf("unable to coerce %q to decimal", raw)
	}
	return decimal.Zero, nil
}

func (m *Mapper) coerceDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts, nil
			}
		}
		if m.policy == CoercionStrict {
			return time.Time{}, fmt.Errorf("unrecognized date format %q", raw)
		}
	}
	// Missing or unparseable dates default to the processing time.
	return m.now(), nil
}
