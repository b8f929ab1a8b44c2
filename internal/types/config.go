package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionMode selects venue execution behavior (§6).
type ExecutionMode string

const (
	ModeBacktest ExecutionMode = "backtest"
	ModeLive     ExecutionMode = "live"
)

// DataMode selects the DataProvider backend (§6), independent of
// ExecutionMode.
type DataMode string

const (
	DataModeCSV DataMode = "csv"
	DataModeAPI DataMode = "api"
	DataModeDB  DataMode = "db"
)

// RiskLimits holds the configured thresholds consumed by RiskMonitor (§4.6).
type RiskLimits struct {
	HFWarn               decimal.Decimal `yaml:"hf_warn"`
	HFCrit               decimal.Decimal `yaml:"hf_crit"`
	LiquidationThreshold decimal.Decimal `yaml:"liquidation_threshold"`
	MarginWarn           decimal.Decimal `yaml:"margin_warn"`
	DriftWarn            decimal.Decimal `yaml:"drift_warn"`
	TargetExposure       decimal.Decimal `yaml:"target_exposure"`
	FundingTrendWarn     decimal.Decimal `yaml:"funding_trend_warn"`
	ReserveFloor         decimal.Decimal `yaml:"reserve_floor"`
}

// RiskMonitorConfig configures which risk types are enabled (§6).
type RiskMonitorConfig struct {
	EnabledRiskTypes []string   `yaml:"enabled_risk_types"`
	RiskLimits       RiskLimits `yaml:"risk_limits"`
}

// ExposureMonitorConfig configures tracked assets and conversion methods (§6).
type ExposureMonitorConfig struct {
	TrackAssets       []string          `yaml:"track_assets"`
	ConversionMethods map[string]string `yaml:"conversion_methods"`
}

// PnLCalculatorConfig configures attribution components and tolerance (§6).
type PnLCalculatorConfig struct {
	AttributionTypes      []string        `yaml:"attribution_types"`
	ReconciliationTolPct  decimal.Decimal `yaml:"reconciliation_tolerance"`
}

// StrategyManagerConfig configures the mode's target model (§6).
type StrategyManagerConfig struct {
	Actions                  []string           `yaml:"actions"`
	PrimaryVenue             string             `yaml:"primary_venue"`
	TargetLTV                decimal.Decimal    `yaml:"target_ltv"`
	StakeAllocationETH       decimal.Decimal    `yaml:"stake_allocation_eth"`
	HedgeVenues              []string           `yaml:"hedge_venues"`
	HedgeAllocation          map[string]decimal.Decimal `yaml:"hedge_allocation"`
	PositionDeviationThresh  decimal.Decimal    `yaml:"position_deviation_threshold"`
	DustDelta                decimal.Decimal    `yaml:"dust_delta"`
	UseFlashLoan             bool               `yaml:"use_flash_loan"`
	MaxLeverageIterations    int                `yaml:"max_leverage_iterations"`
	ReserveRatio             decimal.Decimal    `yaml:"reserve_ratio"`
}

// ExecutionManagerConfig configures which operations a mode supports (§6).
type ExecutionManagerConfig struct {
	SupportedOperations []string `yaml:"supported_operations"`
}

// ComponentConfig bundles per-component config blocks (§6).
type ComponentConfig struct {
	RiskMonitor      RiskMonitorConfig      `yaml:"risk_monitor"`
	ExposureMonitor  ExposureMonitorConfig  `yaml:"exposure_monitor"`
	PnLCalculator    PnLCalculatorConfig    `yaml:"pnl_calculator"`
	StrategyManager  StrategyManagerConfig  `yaml:"strategy_manager"`
	ExecutionManager ExecutionManagerConfig `yaml:"execution_manager"`
}

// ModeConfig is one mode's YAML file content (§6).
type ModeConfig struct {
	Mode               string          `yaml:"mode"`
	ShareClass         string          `yaml:"share_class"`
	Asset              string          `yaml:"asset"`
	LSTType            string          `yaml:"lst_type"`
	RewardsMode        string          `yaml:"rewards_mode"`
	LendingEnabled     bool            `yaml:"lending_enabled"`
	StakingEnabled     bool            `yaml:"staking_enabled"`
	BorrowingEnabled   bool            `yaml:"borrowing_enabled"`
	BasisTradeEnabled  bool            `yaml:"basis_trade_enabled"`
	DataRequirements   []string        `yaml:"data_requirements"`
	ComponentConfig    ComponentConfig `yaml:"component_config"`
}

// Clone deep-copies a ModeConfig so request overrides never mutate the
// immutable global copy (§3 "Lifecycle — Config").
func (m ModeConfig) Clone() ModeConfig {
	out := m
	out.DataRequirements = append([]string(nil), m.DataRequirements...)
	out.ComponentConfig.RiskMonitor.EnabledRiskTypes = append([]string(nil), m.ComponentConfig.RiskMonitor.EnabledRiskTypes...)
	out.ComponentConfig.ExposureMonitor.TrackAssets = append([]string(nil), m.ComponentConfig.ExposureMonitor.TrackAssets...)
	out.ComponentConfig.ExposureMonitor.ConversionMethods = cloneStringMap(m.ComponentConfig.ExposureMonitor.ConversionMethods)
	out.ComponentConfig.PnLCalculator.AttributionTypes = append([]string(nil), m.ComponentConfig.PnLCalculator.AttributionTypes...)
	out.ComponentConfig.StrategyManager.HedgeVenues = append([]string(nil), m.ComponentConfig.StrategyManager.HedgeVenues...)
	out.ComponentConfig.StrategyManager.HedgeAllocation = cloneDecimalMap(m.ComponentConfig.StrategyManager.HedgeAllocation)
	out.ComponentConfig.ExecutionManager.SupportedOperations = append([]string(nil), m.ComponentConfig.ExecutionManager.SupportedOperations...)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneDecimalMap(in map[string]decimal.Decimal) map[string]decimal.Decimal {
	if in == nil {
		return nil
	}
	out := make(map[string]decimal.Decimal, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Request is the request object accepted by both run_backtest and
// start_live (§6).
type Request struct {
	ID             string
	StrategyName   string
	InitialCapital decimal.Decimal
	ShareClass     string
	ConfigOverrides map[string]any
	StartDate      time.Time
	EndDate        time.Time
}

// RequestStatus is the closed tag for a request's lifecycle (§7).
type RequestStatus string

const (
	RequestQueued    RequestStatus = "queued"
	RequestRunning   RequestStatus = "running"
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
	RequestCancelled RequestStatus = "cancelled"
)

// Summary is the final aggregated metrics persisted to summary.json (§6).
type Summary struct {
	TotalReturn          decimal.Decimal            `json:"total_return"`
	AnnualizedReturn     decimal.Decimal            `json:"annualized_return"`
	MaxDrawdown          decimal.Decimal            `json:"max_drawdown"`
	SharpeRatio          decimal.Decimal            `json:"sharpe_ratio"`
	AttributionBreakdown map[string]decimal.Decimal `json:"attribution_breakdown"`
	MinRiskValues        map[string]decimal.Decimal `json:"min_risk_values"`
	MaxRiskValues        map[string]decimal.Decimal `json:"max_risk_values"`
	ExecutionTimeSeconds float64                    `json:"execution_time_seconds"`
	Error                string                     `json:"error,omitempty"`
}

// ResultRow is one row of results.csv (§6).
type ResultRow struct {
	Timestamp                 time.Time       `json:"timestamp"`
	EquityShareClass           decimal.Decimal `json:"equity_share_class"`
	BalancePnLPeriod           decimal.Decimal `json:"balance_pnl_period"`
	BalancePnLCumulative       decimal.Decimal `json:"balance_pnl_cumulative"`
	AttributionTotalCumulative decimal.Decimal `json:"attribution_total_cumulative"`
	ReconciliationDiff         decimal.Decimal `json:"reconciliation_diff"`
	OverallRiskStatus          RiskStatus      `json:"overall_risk_status"`
	NetDelta                   decimal.Decimal `json:"net_delta"`
}
