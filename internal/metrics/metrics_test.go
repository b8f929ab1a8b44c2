package metrics_test

import (
	"testing"

	"github.com/basisdesk/engine/internal/metrics"
	"github.com/basisdesk/engine/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

func TestNewWithRegistryRegistersEveryCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// The six unlabeled collectors are gathered at their zero value; the two
	// label vectors have no children until first observed.
	if len(families) != 6 {
		t.Fatalf("expected the 6 unlabeled collectors before any observation, got %d families", len(families))
	}
	if m.StepDuration == nil {
		t.Fatal("expected StepDuration to be initialized")
	}
}

func TestObserveRiskSetsSeverityPerType(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	m.ObserveRisk(types.RiskAssessment{
		ByType: map[string]types.RiskTypeAssessment{
			"aave_health_factor": {Status: types.RiskCritical},
		},
	})
}

func TestObservePnLSetsReconciliationDiff(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	m.ObservePnL(types.PnLRecord{ReconciliationDiff: decimal.NewFromFloat(0.5)})
}
