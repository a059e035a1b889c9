package ingestion

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClockMapper(policy CoercionPolicy, now time.Time) *Mapper {
	m := NewMapper(policy)
	m.now = func() time.Time { return now }
	return m
}

func TestMapRowFallbackOrderIsDeterministic(t *testing.T) {
	mapper := NewMapper(CoercionLenient)
	uploadID := uuid.New()

	// Both candidates present with different values: the earlier entry in
	// the fallback list must win regardless of the values themselves.
	row := Row{Number: 1, Values: map[string]string{
		"Track Name": "From Track Name",
		"Title":      "From Title",
	}}

	txn, err := mapper.MapRow(uploadID, 1, row)
	require.NoError(t, err)
	assert.Equal(t, "From Title", txn.Title)
}

func TestMapRowFallbackSkipsEmptyValues(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	row := Row{Number: 1, Values: map[string]string{
		"Title":      "   ",
		"Track Name": "Actual Title",
	}}

	txn, err := mapper.MapRow(uuid.New(), 1, row)
	require.NoError(t, err)
	assert.Equal(t, "Actual Title", txn.Title)
}

func TestMapRowHeaderMatchingIgnoresCaseAndPadding(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	row := Row{Number: 1, Values: map[string]string{
		"  aRtIsT  ":       "Some Artist",
		"transaction type": "Stream",
	}}

	txn, err := mapper.MapRow(uuid.New(), 1, row)
	require.NoError(t, err)
	assert.Equal(t, "Some Artist", txn.Artist)
	assert.Equal(t, "Stream", txn.TransactionType)
}

func TestMapRowLenientNumericCoercion(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	row := Row{Number: 1, Values: map[string]string{
		"Quantity":      "N/A",
		"Gross Revenue": "not-a-number",
		"Net Revenue":   "$1,234.56",
	}}

	txn, err := mapper.MapRow(uuid.New(), 1, row)
	require.NoError(t, err)
	assert.Equal(t, int64(0), txn.Quantity)
	assert.True(t, txn.GrossRevenue.IsZero())
	assert.True(t, txn.NetRevenue.Equal(decimal.RequireFromString("1234.56")))
}

func TestMapRowQuantityAcceptsFloatsAndThousands(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	row := Row{Number: 1, Values: map[string]string{"Streams": "1,205.0"}}

	txn, err := mapper.MapRow(uuid.New(), 1, row)
	require.NoError(t, err)
	assert.Equal(t, int64(1205), txn.Quantity)
}

func TestMapRowQuantityDegradesNonFiniteAndOverflowingValues(t *testing.T) {
	lenient := NewMapper(CoercionLenient)
	strict := NewMapper(CoercionStrict)

	// ParseFloat accepts all of these; none is a usable count.
	for _, raw := range []string{"NaN", "Inf", "-Inf", "1e300", "12.5"} {
		row := Row{Number: 1, Values: map[string]string{"Quantity": raw}}

		txn, err := lenient.MapRow(uuid.New(), 1, row)
		require.NoError(t, err, "value %q", raw)
		assert.Equal(t, int64(0), txn.Quantity, "value %q", raw)

		_, err = strict.MapRow(uuid.New(), 1, row)
		assert.Error(t, err, "value %q", raw)
	}
}

func TestMapRowHeaderCollisionsResolveBySourceOrder(t *testing.T) {
	mapper := NewMapper(CoercionLenient)
	values := map[string]string{
		"Title":  "first column",
		"TITLE ": "second column",
	}

	txn, err := mapper.MapRow(uuid.New(), 1, Row{
		Number:  1,
		Headers: []string{"Title", "TITLE "},
		Values:  values,
	})
	require.NoError(t, err)
	assert.Equal(t, "first column", txn.Title)

	txn, err = mapper.MapRow(uuid.New(), 1, Row{
		Number:  1,
		Headers: []string{"TITLE ", "Title"},
		Values:  values,
	})
	require.NoError(t, err)
	assert.Equal(t, "second column", txn.Title)
}

func TestMapRowParenthesizedAmountsAreNegative(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	row := Row{Number: 1, Values: map[string]string{
		"Gross Revenue": "(1.25)",
		"Net Revenue":   "$(2,000.00)",
	}}

	txn, err := mapper.MapRow(uuid.New(), 1, row)
	require.NoError(t, err)
	assert.True(t, txn.GrossRevenue.Equal(decimal.RequireFromString("-1.25")))
	assert.True(t, txn.NetRevenue.Equal(decimal.RequireFromString("-2000")))

	// An unbalanced paren is still malformed, not silently positive.
	row = Row{Number: 1, Values: map[string]string{"Gross Revenue": "(1.25"}}
	txn, err = mapper.MapRow(uuid.New(), 1, row)
	require.NoError(t, err)
	assert.True(t, txn.GrossRevenue.IsZero())
}

func TestMapRowUnparseableDateDefaultsToProcessingTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mapper := fixedClockMapper(CoercionLenient, now)

	row := Row{Number: 2, Values: map[string]string{
		"Title": "Song",
		"Date":  "not a date",
	}}

	txn, err := mapper.MapRow(uuid.New(), 2, row)
	require.NoError(t, err)
	assert.True(t, txn.TransactionDate.Equal(now))
}

func TestMapRowParsesCommonDateLayouts(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	for raw, want := range map[string]time.Time{
		"2025-03-15": time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		"2025/03/15": time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		"03/15/2025": time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
	} {
		row := Row{Number: 1, Values: map[string]string{"Sale Date": raw}}
		txn, err := mapper.MapRow(uuid.New(), 1, row)
		require.NoError(t, err)
		assert.True(t, txn.TransactionDate.Equal(want), "layout %q", raw)
	}
}

func TestMapRowCurrencyDefaultsToUSD(t *testing.T) {
	mapper := NewMapper(CoercionLenient)

	txn, err := mapper.MapRow(uuid.New(), 1, Row{Number: 1, Values: map[string]string{"Title": "x"}})
	require.NoError(t, err)
	assert.Equal(t, "USD", txn.Currency)

	txn, err = mapper.MapRow(uuid.New(), 1, Row{Number: 1, Values: map[string]string{"Currency": "gbp"}})
	require.NoError(t, err)
	assert.Equal(t, "GBP", txn.Currency)
}

func TestMapRowAllEmptyRowStillMaps(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	mapper := fixedClockMapper(CoercionLenient, now)
	uploadID := uuid.New()

	txn, err := mapper.MapRow(uploadID, 7, Row{Number: 7, Values: map[string]string{"Unknown Column": "value"}})
	require.NoError(t, err)
	assert.Empty(t, txn.Title)
	assert.Empty(t, txn.Artist)
	assert.Equal(t, int64(0), txn.Quantity)
	assert.True(t, txn.TransactionDate.Equal(now))
	assert.Equal(t, uploadID.String()+"-7", txn.TransactionID)
	assert.Equal(t, map[string]string{"Unknown Column": "value"}, txn.RawData)
}

func TestMapRowStrictPolicyRejectsMalformedValues(t *testing.T) {
	mapper := NewMapper(CoercionStrict)

	_, err := mapper.MapRow(uuid.New(), 1, Row{Number: 1, Values: map[string]string{"Quantity": "N/A"}})
	assert.Error(t, err)

	_, err = mapper.MapRow(uuid.New(), 1, Row{Number: 1, Values: map[string]string{"Gross Revenue": "abc"}})
	assert.Error(t, err)

	_, err = mapper.MapRow(uuid.New(), 1, Row{Number: 1, Values: map[string]string{"Date": "yesterday-ish"}})
	assert.Error(t, err)

	// Missing values are defaults under either policy, not errors.
	_, err = mapper.MapRow(uuid.New(), 1, Row{Number: 1, Values: map[string]string{"Title": "ok"}})
	assert.NoError(t, err)
}
