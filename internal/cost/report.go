package cost

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/yairfalse/nimbus/pkg/resource"
)

const dateLayout = "2006-01-02"

var (
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	numericStyle = cellStyle.Align(lipgloss.Right)
)

// WriteReport renders summary as a plain-text table with amounts rounded to
// two decimal places.
func WriteReport(w io.Writer, summary resource.CostSummary) error {
	currency := summary.Currency
	if currency == "" {
		currency = "USD"
	}

	if !summary.Window.Start.IsZero() {
		if _, err := fmt.Fprintf(w, "Cost by category, %s to %s\n",
			summary.Window.Start.Format(dateLayout), summary.Window.End.Format(dateLayout)); err != nil {
			return err
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CATEGORY", "TOTAL ("+currency+")", "SHARE").
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return cellStyle
			}
			return numericStyle
		})

	for _, c := range summary.Categories {
		t.Row(c.Category, c.Total.StringFixed(2), c.Percentage.StringFixed(2)+"%")
	}
	t.Row("TOTAL", summary.GrandTotal.StringFixed(2), grandShare(summary))

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func grandShare(summary resource.CostSummary) string {
	if summary.GrandTotal.IsZero() {
		return "0.00%"
	}
	return "100.00%"
}
