package resultsstore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/basisdesk/engine/internal/types"
)

// FileSink appends result rows to results.csv and writes summary.json on
// Finalize (§6). Grounded on the teacher's data.Store JSON-persistence
// style, paired with the stdlib csv.Writer already used by
// internal/dataprovider.
type FileSink struct {
	dir       string
	csvFile   *os.File
	csvWriter *csv.Writer
}

var resultColumns = []string{
	"timestamp", "equity_share_class", "balance_pnl_period", "balance_pnl_cumulative",
	"attribution_total_cumulative", "reconciliation_diff", "overall_risk_status", "net_delta",
}

// NewFileSink creates resultsDir if needed and opens results.csv for
// append, writing the header if the file is new.
func NewFileSink(resultsDir string) (*FileSink, error) {
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating results directory: %w", err)
	}

	path := filepath.Join(resultsDir, "results.csv")
	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening results.csv: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(resultColumns); err != nil {
			f.Close()
			return nil, fmt.Errorf("writing results.csv header: %w", err)
		}
		w.Flush()
	}

	return &FileSink{dir: resultsDir, csvFile: f, csvWriter: w}, nil
}

func (s *FileSink) WriteRow(row types.ResultRow) error {
	record := []string{
		row.Timestamp.Format(time.RFC3339),
		row.EquityShareClass.String(),
		row.BalancePnLPeriod.String(),
		row.BalancePnLCumulative.String(),
		row.AttributionTotalCumulative.String(),
		row.ReconciliationDiff.String(),
		string(row.OverallRiskStatus),
		row.NetDelta.String(),
	}
	if err := s.csvWriter.Write(record); err != nil {
		return err
	}
	s.csvWriter.Flush()
	return s.csvWriter.Error()
}

func (s *FileSink) Finalize(summary types.Summary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	path := filepath.Join(s.dir, "summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing summary.json: %w", err)
	}
	return nil
}

func (s *FileSink) Close() error {
	s.csvWriter.Flush()
	if err := s.csvWriter.Error(); err != nil {
		s.csvFile.Close()
		return err
	}
	return s.csvFile.Close()
}
