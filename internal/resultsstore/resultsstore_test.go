package resultsstore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/basisdesk/engine/internal/resultsstore"
	"github.com/basisdesk/engine/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu       sync.Mutex
	rows     []types.ResultRow
	summary  *types.Summary
	finalized bool
}

func (s *recordingSink) WriteRow(row types.ResultRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *recordingSink) Finalize(summary types.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &summary
	s.finalized = true
	return nil
}

func (s *recordingSink) Close() error { return nil }

func TestStoreAppendsInOrderThenFinalizes(t *testing.T) {
	sink := &recordingSink{}
	store := resultsstore.New(zap.NewNop(), sink)

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		store.Append(types.ResultRow{
			Timestamp:      t0.Add(time.Duration(i) * time.Hour),
			EquityShareClass: decimal.NewFromInt(int64(1000 + i)),
		})
	}
	store.Finalize(types.Summary{TotalReturn: decimal.NewFromFloat(0.05)})

	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.rows) != 5 {
		t.Fatalf("expected 5 rows written, got %d", len(sink.rows))
	}
	for i, row := range sink.rows {
		want := int64(1000 + i)
		if !row.EquityShareClass.Equal(decimal.NewFromInt(want)) {
			t.Errorf("row %d out of order: got %s, want %d", i, row.EquityShareClass, want)
		}
	}
	if !sink.finalized || sink.summary == nil {
		t.Fatal("expected Finalize to have been called")
	}
}
