// Package report renders a finished run's results.csv/summary.json to a
// human-readable CLI table. The persistence format itself is owned by
// internal/resultsstore; this package only reads it back. Grounded on
// r3e-network-service_layer's cmd/slctl status table rendering
// (text/tabwriter, fixed column headers, one row per item) — that module's
// own CLI table need, like this one, is a single fixed-column report, not
// a reason to pull in a third-party table library such as polybot's
// olekukonko/tablewriter.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
)

// LoadSummary reads summary.json written by resultsstore.FileSink.Finalize.
func LoadSummary(path string) (types.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Summary{}, err
	}
	defer f.Close()

	var summary types.Summary
	if err := json.NewDecoder(f).Decode(&summary); err != nil {
		return types.Summary{}, err
	}
	return summary, nil
}

// LoadResultRows reads results.csv written by resultsstore.FileSink.WriteRow.
func LoadResultRows(path string) ([]types.ResultRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}

	var rows []types.ResultRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, parseResultRow(record, col))
	}
	return rows, nil
}

func parseResultRow(record []string, col map[string]int) types.ResultRow {
	field := func(name string) string {
		if i, ok := col[name]; ok && i < len(record) {
			return record[i]
		}
		return ""
	}
	ts, _ := time.Parse(time.RFC3339, field("timestamp"))
	return types.ResultRow{
		Timestamp:                  ts,
		EquityShareClass:           parseDecimal(field("equity_share_class")),
		BalancePnLPeriod:           parseDecimal(field("balance_pnl_period")),
		BalancePnLCumulative:       parseDecimal(field("balance_pnl_cumulative")),
		AttributionTotalCumulative: parseDecimal(field("attribution_total_cumulative")),
		ReconciliationDiff:         parseDecimal(field("reconciliation_diff")),
		OverallRiskStatus:          types.RiskStatus(field("overall_risk_status")),
		NetDelta:                   parseDecimal(field("net_delta")),
	}
}

func parseDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// WriteSummaryTable renders summary as a fixed-column table to w.
func WriteSummaryTable(w io.Writer, summary types.Summary) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tVALUE")
	fmt.Fprintf(tw, "Total Return\t%s\n", summary.TotalReturn.StringFixed(4))
	fmt.Fprintf(tw, "Annualized Return\t%s\n", summary.AnnualizedReturn.StringFixed(4))
	fmt.Fprintf(tw, "Sharpe Ratio\t%s\n", summary.SharpeRatio.StringFixed(4))
	fmt.Fprintf(tw, "Max Drawdown\t%s\n", summary.MaxDrawdown.StringFixed(4))
	fmt.Fprintf(tw, "Execution Time (s)\t%.2f\n", summary.ExecutionTimeSeconds)
	if summary.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", summary.Error)
	}
	tw.Flush()

	if len(summary.AttributionBreakdown) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTRIBUTION COMPONENT\tCUMULATIVE")
	for component, v := range summary.AttributionBreakdown {
		fmt.Fprintf(tw, "%s\t%s\n", component, v.StringFixed(4))
	}
	tw.Flush()
}
