// Package cost aggregates grouped cost time series into per-category totals.
//
// Amounts are carried as decimals end to end. Rounding to cents happens only
// when a summary is rendered.
package cost

import (
	"fmt"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/yairfalse/nimbus/pkg/resource"
)

var hundred = decimal.NewFromInt(100)

// NegativeAmountError reports a credit or refund that reached the aggregator.
// Credits must be filtered out at the billing boundary, otherwise shares of the
// grand total stop being meaningful.
type NegativeAmountError struct {
	Category string
	Amount   decimal.Decimal
	Bucket   int
}

func (e *NegativeAmountError) Error() string {
	return fmt.Sprintf("bucket %d: category %q has negative amount %s", e.Bucket, e.Category, e.Amount)
}

// byTotal orders categories by descending total, then ascending name.
func byTotal(a, b resource.CategoryTotal) bool {
	if c := a.Total.Cmp(b.Total); c != 0 {
		return c > 0
	}
	return a.Category < b.Category
}

// Aggregate sums amounts per category across all buckets and derives each
// category's share of the grand total. Shares are zero when the grand total is
// zero.
func Aggregate(buckets []resource.CostBucket) (resource.CostSummary, error) {
	totals := make(map[string]decimal.Decimal)
	for i, bucket := range buckets {
		for _, entry := range bucket.Entries {
			if entry.Amount.IsNegative() {
				return resource.CostSummary{}, &NegativeAmountError{Category: entry.Category, Amount: entry.Amount, Bucket: i}
			}
			totals[entry.Category] = totals[entry.Category].Add(entry.Amount)
		}
	}

	grand := decimal.Zero
	for _, t := range totals {
		grand = grand.Add(t)
	}

	ordered := btree.NewG[resource.CategoryTotal](16, byTotal)
	for category, total := range totals {
		ordered.ReplaceOrInsert(resource.CategoryTotal{
			Category:   category,
			Total:      total,
			Percentage: share(total, grand),
		})
	}

	summary := resource.CostSummary{
		Categories: make([]resource.CategoryTotal, 0, ordered.Len()),
		GrandTotal: grand,
		Currency:   currencyOf(buckets),
		Window:     spanOf(buckets),
	}
	ordered.Ascend(func(ct resource.CategoryTotal) bool {
		summary.Categories = append(summary.Categories, ct)
		return true
	})

	return summary, nil
}

func share(total, grand decimal.Decimal) decimal.Decimal {
	if grand.IsZero() {
		return decimal.Zero
	}
	return total.Div(grand).Mul(hundred)
}

func spanOf(buckets []resource.CostBucket) resource.TimeWindow {
	var w resource.TimeWindow
	for _, b := range buckets {
		if !b.Start.IsZero() && (w.Start.IsZero() || b.Start.Before(w.Start)) {
			w.Start = b.Start
		}
		if b.End.After(w.End) {
			w.End = b.End
		}
	}
	return w
}

func currencyOf(buckets []resource.CostBucket) string {
	for _, b := range buckets {
		if b.Currency != "" {
			return b.Currency
		}
	}
	return ""
}
