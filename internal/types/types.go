// Package types provides the shared data model for the basis engine (§3).
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Timestamp is the engine's monotonically non-decreasing clock value (§3).
// In backtest it is drawn from a finite sorted sequence; in live it is
// produced by the wall clock. Only the Engine constructs one.
type Timestamp = time.Time

// PositionType enumerates the kinds of balance a PositionKey can name.
type PositionType string

const (
	PositionBaseToken PositionType = "BaseToken"
	PositionAToken    PositionType = "AToken"
	PositionDebtToken PositionType = "DebtToken"
	PositionPerp      PositionType = "Perp"
	PositionSpot      PositionType = "Spot"
)

// PositionKey identifies a single tracked balance: venue:position_type:symbol.
// Keys are unique within a run.
type PositionKey struct {
	Venue    string
	Type     PositionType
	Symbol   string
}

// String renders the canonical "venue:position_type:symbol" form.
func (k PositionKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Venue, k.Type, k.Symbol)
}

// NewPositionKey builds a PositionKey from its three parts.
func NewPositionKey(venue string, kind PositionType, symbol string) PositionKey {
	return PositionKey{Venue: venue, Type: kind, Symbol: symbol}
}

// PositionMap is a snapshot mapping of PositionKey to signed decimal amount.
// It is a read-only view: the sole owner that may mutate the live map is
// PositionMonitor, via the unified delta applier (§3 invariants).
type PositionMap map[PositionKey]decimal.Decimal

// Clone returns a deep copy safe for the caller to hold independently.
func (m PositionMap) Clone() PositionMap {
	out := make(PositionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DeltaSource enumerates why a Delta was produced.
type DeltaSource string

const (
	DeltaSourceTrade    DeltaSource = "trade"
	DeltaSourceTransfer DeltaSource = "transfer"
	DeltaSourceFunding  DeltaSource = "funding"
	DeltaSourceReward   DeltaSource = "reward"
	DeltaSourceInitial  DeltaSource = "initial"
)

// Delta is the sole mutation primitive for a PositionMap (§3). Positive
// DeltaAmount increases the balance at PositionKey, negative decreases it.
type Delta struct {
	PositionKey PositionKey
	DeltaAmount decimal.Decimal
	Source      DeltaSource
	Price       *decimal.Decimal
	Fee         *decimal.Decimal
	Metadata    map[string]any
}

// OrderOperation enumerates the operations a StrategyManager may emit.
type OrderOperation string

const (
	OpSpotTrade   OrderOperation = "spot_trade"
	OpPerpTrade   OrderOperation = "perp_trade"
	OpSupply      OrderOperation = "supply"
	OpWithdraw    OrderOperation = "withdraw"
	OpBorrow      OrderOperation = "borrow"
	OpRepay       OrderOperation = "repay"
	OpStake       OrderOperation = "stake"
	OpUnstake     OrderOperation = "unstake"
	OpTransfer    OrderOperation = "transfer"
	OpFlashAtomic OrderOperation = "flash_atomic"
)

// OrderSide is buy/sell direction for operations that have one.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType distinguishes market from limit execution.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// Order is produced by StrategyManager and consumed by ExecutionManager (§3).
type Order struct {
	ID        string
	Venue     string
	Operation OrderOperation
	Pair      string
	Side      OrderSide
	Amount    decimal.Decimal
	Price     decimal.Decimal
	OrderType OrderType
	Metadata  map[string]any

	// Required marks an order whose failure must abort the run rather
	// than be skipped (§4.10 "if order.required -> trigger SystemFailure
	// else continue to next").
	Required bool

	// SubOrders carries the nested bundle for Operation == OpFlashAtomic
	// (§4.10 "Atomic transactions"): dispatched as a single execute, with
	// one reconciliation over the combined handshake.
	SubOrders []Order
}

// ExecutionStatus is the closed tag of an ExecutionHandshake.
type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "executed"
	ExecutionFailed   ExecutionStatus = "failed"
)

// ExecutionHandshake is the sole object by which a venue reports the effect
// of an execute() call (§3).
type ExecutionHandshake struct {
	Order           Order
	Status          ExecutionStatus
	ExecutedAmount  decimal.Decimal
	ExecutedPrice   decimal.Decimal
	PositionDeltas  map[string]decimal.Decimal // symbol -> signed amount
	FeeAmount       decimal.Decimal
	FeeCurrency     string
	TradeID         string
	ErrorCode       string
	ErrorMessage    string
}

// MarketSnapshot is M(T): the data kinds required by the active mode,
// mapped to values observed at the greatest data timestamp <= T (§3).
type MarketSnapshot struct {
	T            time.Time
	SpotPrices   map[string]decimal.Decimal
	OraclePrices map[string]decimal.Decimal
	FundingRates map[string]decimal.Decimal
	Indices      map[string]decimal.Decimal // protocol indices, e.g. AAVE liquidity/borrow index
	GasPrice     decimal.Decimal
	LSTEvents    []LSTDistributionEvent
}

// LSTDistributionEvent is a discrete liquid-staking reward/rebase event.
type LSTDistributionEvent struct {
	T      time.Time
	Symbol string
	Amount decimal.Decimal
}

// Direction classifies an exposure's sign.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"
)

// AssetExposure is the per-asset record within an Exposure snapshot (§3).
type AssetExposure struct {
	Symbol               string
	WalletAmount         decimal.Decimal
	UnderlyingNative     decimal.Decimal
	ExposureInShareClass decimal.Decimal
	Direction            Direction
}

// Exposure is ExposureMonitor's output for a single timestep (§3).
type Exposure struct {
	T                  time.Time
	Assets             map[string]AssetExposure
	TotalLong          decimal.Decimal
	TotalShort         decimal.Decimal
	NetDelta           decimal.Decimal
	NetDeltaOnChain    decimal.Decimal
	NetDeltaCEX        decimal.Decimal
	TotalValueShareCls decimal.Decimal
}

// RiskStatus is the closed severity tag for a single risk type.
type RiskStatus string

const (
	RiskSafe     RiskStatus = "SAFE"
	RiskWarning  RiskStatus = "WARNING"
	RiskCritical RiskStatus = "CRITICAL"
)

// Severity returns an ordinal usable for max-severity roll-ups.
func (s RiskStatus) Severity() int {
	switch s {
	case RiskCritical:
		return 2
	case RiskWarning:
		return 1
	default:
		return 0
	}
}

// RiskTypeAssessment is the per-risk-type record within a RiskAssessment (§3).
type RiskTypeAssessment struct {
	Value              decimal.Decimal
	WarningThreshold   decimal.Decimal
	CriticalThreshold  decimal.Decimal
	Status             RiskStatus
}

// RiskAssessment is RiskMonitor's output for a single timestep (§3).
type RiskAssessment struct {
	T             time.Time
	ByType        map[string]RiskTypeAssessment
	OverallStatus RiskStatus
	Alerts        []string
}

// PnLRecord is PnLCalculator's output for a single timestep (§3).
type PnLRecord struct {
	T                           time.Time
	BalanceBasedPnLPeriod       decimal.Decimal
	BalanceBasedPnLCumulative   decimal.Decimal
	Attribution                map[string]decimal.Decimal
	AttributionTotalPeriod      decimal.Decimal
	AttributionTotalCumulative  decimal.Decimal
	ReconciliationDiff          decimal.Decimal
	ReconciliationTolerance     decimal.Decimal
	ReconciliationPassed        bool
}

// EventType enumerates the kinds of structured event the engine emits.
type EventType string

const (
	EventPositionRefresh  EventType = "position_refresh"
	EventTradeExecuted    EventType = "trade_executed"
	EventTradeFailed      EventType = "trade_failed"
	EventReconciliation   EventType = "reconciliation"
	EventRiskAlert        EventType = "risk_alert"
	EventReserveLow       EventType = "reserve_low"
	EventStaleConversion  EventType = "stale_conversion"
	EventStrategyInfeasib EventType = "strategy_infeasible"
	EventPnLDriftAlert    EventType = "pnl_drift_alert"
	EventSystemFailure    EventType = "system_failure"
	EventSummary          EventType = "summary"
)

// Event is a single totally-ordered log entry (§3). Ordering is by
// (T, OrderWithinT) — OrderWithinT is assigned by EventLogger, never by the
// caller.
type Event struct {
	T             time.Time
	OrderWithinT  int
	EventType     EventType
	Venue         string
	Token         string
	Amount        decimal.Decimal
	Status        string
	Purpose       string
	WalletSnap    map[string]decimal.Decimal
	CEXSnap       map[string]decimal.Decimal
	AaveSnap      map[string]decimal.Decimal
	ParentEvent   *int
	Iteration     *int
	TxHash        string
	BlockNumber   uint64
}

// Before reports whether e sorts strictly before o under (T, OrderWithinT).
func (e Event) Before(o Event) bool {
	if e.T.Equal(o.T) {
		return e.OrderWithinT < o.OrderWithinT
	}
	return e.T.Before(o.T)
}

// ScaleForCurrency returns the configured decimal scale for a currency
// symbol (§9 "Numeric semantics"): 6 for USDT-like stable units, 18 for
// ETH-like native units, 8 as a conservative default for anything else
// (e.g. BTC-denominated amounts).
func ScaleForCurrency(symbol string) int32 {
	switch symbol {
	case "USDT", "USDC", "DAI":
		return 6
	case "ETH", "WETH", "weETH", "stETH":
		return 18
	default:
		return 8
	}
}
