package cost

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nimbus/pkg/resource"
)

func entry(category, amount string) resource.CostEntry {
	return resource.CostEntry{Category: category, Amount: decimal.RequireFromString(amount)}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestAggregate_PercentagesAndOrder(t *testing.T) {
	buckets := []resource.CostBucket{
		{Entries: []resource.CostEntry{entry("C", "10"), entry("A", "70"), entry("B", "20")}},
	}

	summary, err := Aggregate(buckets)
	require.NoError(t, err)

	assertDecimal(t, "100", summary.GrandTotal)
	require.Len(t, summary.Categories, 3)

	want := []struct {
		category string
		total    string
		pct      string
	}{
		{"A", "70", "70"},
		{"B", "20", "20"},
		{"C", "10", "10"},
	}
	for i, w := range want {
		got := summary.Categories[i]
		assert.Equal(t, w.category, got.Category)
		assertDecimal(t, w.total, got.Total)
		assertDecimal(t, w.pct, got.Percentage)
	}
}

func TestAggregate_SumsAcrossBuckets(t *testing.T) {
	day := 24 * time.Hour
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	buckets := []resource.CostBucket{
		{Start: start, End: start.Add(day), Entries: []resource.CostEntry{entry("EC2", "1.10"), entry("S3", "0.20")}},
		{Start: start.Add(day), End: start.Add(2 * day), Entries: []resource.CostEntry{entry("EC2", "2.20")}},
		{Start: start.Add(2 * day), End: start.Add(3 * day), Entries: []resource.CostEntry{entry("S3", "0.30"), entry("Lambda", "0.01")}},
	}

	summary, err := Aggregate(buckets)
	require.NoError(t, err)

	assertDecimal(t, "3.81", summary.GrandTotal)
	assert.Equal(t, "EC2", summary.Categories[0].Category)
	assertDecimal(t, "3.30", summary.Categories[0].Total)
	assert.Equal(t, "S3", summary.Categories[1].Category)
	assertDecimal(t, "0.50", summary.Categories[1].Total)
	assert.Equal(t, "Lambda", summary.Categories[2].Category)

	assert.Equal(t, start, summary.Window.Start)
	assert.Equal(t, start.Add(3*day), summary.Window.End)
}

func TestAggregate_NoDriftOverManySmallEntries(t *testing.T) {
	entries := make([]resource.CostEntry, 0, 10000)
	for i := 0; i < 10000; i++ {
		entries = append(entries, entry("Requests", "0.01"))
	}

	summary, err := Aggregate([]resource.CostBucket{{Entries: entries}})
	require.NoError(t, err)

	// 10000 * 0.01 in binary floating point lands near 100.00000000000133
	assert.Equal(t, "100", summary.GrandTotal.String())
	assert.Equal(t, "100", summary.Categories[0].Percentage.String())
}

func TestAggregate_TiesBrokenByName(t *testing.T) {
	buckets := []resource.CostBucket{
		{Entries: []resource.CostEntry{entry("zeta", "5"), entry("alpha", "5"), entry("mid", "5")}},
	}

	summary, err := Aggregate(buckets)
	require.NoError(t, err)

	names := []string{summary.Categories[0].Category, summary.Categories[1].Category, summary.Categories[2].Category}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)
}

func TestAggregate_ZeroGrandTotal(t *testing.T) {
	buckets := []resource.CostBucket{
		{Entries: []resource.CostEntry{entry("A", "0"), entry("B", "0.00")}},
	}

	summary, err := Aggregate(buckets)
	require.NoError(t, err)

	assert.True(t, summary.GrandTotal.IsZero())
	for _, c := range summary.Categories {
		assert.True(t, c.Percentage.IsZero())
	}
}

func TestAggregate_Empty(t *testing.T) {
	summary, err := Aggregate(nil)
	require.NoError(t, err)

	assert.Empty(t, summary.Categories)
	assert.True(t, summary.GrandTotal.IsZero())
}

func TestAggregate_PercentagesSumToHundred(t *testing.T) {
	sets := [][]resource.CostEntry{
		{entry("a", "1"), entry("b", "1"), entry("c", "1")},
		{entry("a", "0.07"), entry("b", "13.13"), entry("c", "999.99"), entry("d", "0.01")},
		{entry("only", "42.42")},
		{entry("a", "3"), entry("b", "0"), entry("c", "7")},
	}

	for _, entries := range sets {
		summary, err := Aggregate([]resource.CostBucket{{Entries: entries}})
		require.NoError(t, err)

		sum := decimal.Zero
		for _, c := range summary.Categories {
			assert.False(t, c.Percentage.IsNegative())
			assert.True(t, c.Percentage.LessThanOrEqual(hundred))
			sum = sum.Add(c.Percentage)
		}
		diff := sum.Sub(hundred).Abs()
		assert.True(t, diff.LessThan(decimal.RequireFromString("0.000001")), "sum of shares %s", sum)
	}
}

func TestAggregate_RejectsNegativeAmounts(t *testing.T) {
	buckets := []resource.CostBucket{
		{Entries: []resource.CostEntry{entry("EC2", "5")}},
		{Entries: []resource.CostEntry{entry("Credit", "-2")}},
	}

	_, err := Aggregate(buckets)

	var negErr *NegativeAmountError
	require.True(t, errors.As(err, &negErr))
	assert.Equal(t, "Credit", negErr.Category)
	assert.Equal(t, 1, negErr.Bucket)
}

func TestWriteReport(t *testing.T) {
	summary, err := Aggregate([]resource.CostBucket{
		{Entries: []resource.CostEntry{entry("A", "70"), entry("B", "20"), entry("C", "10")}},
	})
	require.NoError(t, err)
	summary.Currency = "USD"

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, summary))

	out := buf.String()
	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "70.00")
	assert.Contains(t, out, "70.00%")
	assert.Contains(t, out, "100.00")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte(" A ")), bytes.Index(buf.Bytes(), []byte(" C ")))
}

func TestWriteReport_RoundsOnlyAtOutput(t *testing.T) {
	summary, err := Aggregate([]resource.CostBucket{
		{Entries: []resource.CostEntry{entry("A", "1"), entry("B", "2")}},
	})
	require.NoError(t, err)

	// 1/3 of the total stays unrounded in the summary
	assert.True(t, summary.Categories[1].Percentage.GreaterThan(decimal.RequireFromString("33.33")))

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, summary))
	assert.Contains(t, buf.String(), "33.33%")
	assert.Contains(t, buf.String(), "66.67%")
}
