// Command live drives the Engine against cron-scheduled live ticks,
// publishing its event feed over the status API (risk assessments and the
// run summary are not published there). Grounded on
// the teacher's cmd/server/main.go wiring shape and its goroutine-per-
// service startup/shutdown pattern, generalized from the HTTP-server-plus-
// autonomous-agent wiring to this engine's live Engine.Run loop plus a
// thin status server.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basisdesk/engine/internal/api"
	"github.com/basisdesk/engine/internal/clock"
	"github.com/basisdesk/engine/internal/config"
	"github.com/basisdesk/engine/internal/dataprovider"
	"github.com/basisdesk/engine/internal/engine"
	"github.com/basisdesk/engine/internal/eventlog"
	"github.com/basisdesk/engine/internal/execution"
	"github.com/basisdesk/engine/internal/exposure"
	"github.com/basisdesk/engine/internal/metrics"
	"github.com/basisdesk/engine/internal/pnl"
	"github.com/basisdesk/engine/internal/position"
	"github.com/basisdesk/engine/internal/reconcile"
	"github.com/basisdesk/engine/internal/resultsstore"
	"github.com/basisdesk/engine/internal/risk"
	"github.com/basisdesk/engine/internal/strategy"
	"github.com/basisdesk/engine/internal/types"
	"github.com/basisdesk/engine/internal/venue"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	modesDir := flag.String("modes", "./config/modes", "Directory of per-mode YAML config files")
	mode := flag.String("mode", "", "Mode name (strategy_name) to run")
	initialCapital := flag.String("capital", "10000", "Initial capital in the share class unit")
	tickInterval := flag.Duration("tick-interval", clock.DefaultTickInterval, "Interval between live timesteps")
	apiHost := flag.String("api-host", "0.0.0.0", "Status API host")
	apiPort := flag.Int("api-port", 8080, "Status API port")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	if *mode == "" {
		logger.Fatal("-mode is required")
	}

	global, err := config.Load(logger, *modesDir)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	if global.Env.ExecutionMode != types.ModeLive {
		logger.Fatal("BASIS_EXECUTION_MODE must be live for cmd/live",
			zap.String("executionMode", string(global.Env.ExecutionMode)))
	}

	capital, err := decimal.NewFromString(*initialCapital)
	if err != nil {
		logger.Fatal("invalid -capital", zap.Error(err))
	}

	cfg, err := global.ForRequest(types.Request{StrategyName: *mode, InitialCapital: capital, ShareClass: ""})
	if err != nil {
		logger.Fatal("failed to build mode config", zap.Error(err))
	}
	if err := dataprovider.ValidateRequirements(cfg.DataRequirements); err != nil {
		logger.Fatal("invalid data_requirements", zap.Error(err))
	}

	metricsReg := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, err := dataprovider.NewLiveProvider(ctx, logger, 2*(*tickInterval), feedsFor(cfg, global.Env.VenueCredentials))
	if err != nil {
		logger.Fatal("failed to start live data feeds", zap.Error(err))
	}

	clk, err := clock.NewLiveClock(*tickInterval)
	if err != nil {
		logger.Fatal("failed to build live clock", zap.Error(err))
	}

	venues, err := liveVenuesFor(logger, cfg, global.Env.VenueCredentials)
	if err != nil {
		logger.Fatal("failed to build venue clients", zap.Error(err))
	}

	subs, negativeProhibited := subscriptionsFor(cfg)
	venueQuerier := venueQuerierFor(venues)

	posMon := position.New(logger, true, subs, negativeProhibited, position.NewPeriodicSettlement(data), venueQuerier)
	expMon := exposure.New(logger, data, true, cfg.ShareClass, cfg.ComponentConfig.ExposureMonitor, cfg.ComponentConfig.StrategyManager.HedgeVenues)
	riskMon := risk.New(logger, data, posMon, cfg.ComponentConfig.RiskMonitor)
	pnlCalc := pnl.New(logger, capital, cfg.ComponentConfig.PnLCalculator)

	reconciler := reconcile.New(logger, true, posMon, venueQuerier, nil, decimal.NewFromFloat(0.0001), expMon, riskMon, pnlCalc)

	venueManager := venue.NewManager(venues, supportedOpsFor(cfg))
	execMgr := execution.New(logger, venueManager, reconciler, types.ModeLive)

	family, err := strategy.NewFamily(cfg)
	if err != nil {
		logger.Fatal("failed to select strategy family", zap.Error(err))
	}
	strategyMgr := strategy.New(logger, family, cfg)

	if err := os.MkdirAll(global.Env.ResultsDir, 0o755); err != nil {
		logger.Fatal("failed to create results directory", zap.Error(err))
	}
	rawEventSink, err := eventlog.NewSQLiteSink(global.Env.ResultsDir + "/events.db")
	if err != nil {
		logger.Fatal("failed to open event sink", zap.Error(err))
	}

	statusServer := api.NewServer(logger, api.Config{
		Host: *apiHost, Port: *apiPort, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second,
	}, &runStatus{startedAt: time.Now(), mode: string(global.Env.ExecutionMode)})

	events := eventlog.New(logger, &teeEventSink{inner: rawEventSink, hub: statusServer.Hub(), metrics: metricsReg}, 0)
	riskMon.SetEvents(events)

	resultsSink, err := resultsstore.NewFileSink(global.Env.ResultsDir)
	if err != nil {
		logger.Fatal("failed to open results sink", zap.Error(err))
	}
	results := resultsstore.New(logger, resultsSink)

	eng := engine.New(logger, clk, posMon, expMon, riskMon, pnlCalc, strategyMgr, execMgr, events, results, types.ModeLive)
	eng.SetMetrics(metricsReg)

	go statusServer.Hub().Run()
	go func() {
		if err := statusServer.Start(); err != nil && err != context.Canceled {
			logger.Error("status API server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	logger.Info("starting live run", zap.String("mode", *mode), zap.Duration("tickInterval", *tickInterval))
	runErr := eng.Run(ctx)

	if err := events.Close(); err != nil {
		logger.Error("error closing event log", zap.Error(err))
	}
	if err := results.Close(); err != nil {
		logger.Error("error closing results store", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := statusServer.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping status API server", zap.Error(err))
	}

	if runErr != nil {
		logger.Error("live run stopped with error", zap.Error(runErr))
		os.Exit(1)
	}
	logger.Info("live run stopped")
}

// teeEventSink durably persists every event to the real sink and mirrors
// it onto the status API's WebSocket feed and Prometheus counters, without
// letting a slow WebSocket client slow down eventlog.EventLogger's single
// writer goroutine (the hub's own channel send is itself non-blocking).
type teeEventSink struct {
	inner   eventlog.Sink
	hub     *api.Hub
	metrics *metrics.Metrics
}

func (t *teeEventSink) Write(ev types.Event) error {
	err := t.inner.Write(ev)
	t.hub.PublishEvent(ev)
	if ev.EventType == types.EventSystemFailure {
		t.metrics.SystemFailures.Inc()
	}
	return err
}

func (t *teeEventSink) Close() error { return t.inner.Close() }

// runStatus is the minimal api.StatusProvider for a live run.
type runStatus struct {
	startedAt time.Time
	mode      string
}

func (r *runStatus) Status() api.RunStatus {
	return api.RunStatus{Mode: r.mode, Running: true, StartedAt: r.startedAt.Unix()}
}

func subscriptionsFor(cfg types.ModeConfig) (subscriptions, negativeProhibited []types.PositionKey) {
	smc := cfg.ComponentConfig.StrategyManager
	subscriptions = append(subscriptions,
		types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionSpot, Symbol: cfg.ShareClass},
		types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionSpot, Symbol: cfg.Asset},
	)
	if cfg.LSTType != "" {
		subscriptions = append(subscriptions, types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionSpot, Symbol: cfg.LSTType})
	}
	if cfg.BorrowingEnabled {
		aToken := types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionAToken, Symbol: cfg.Asset}
		debtToken := types.PositionKey{Venue: smc.PrimaryVenue, Type: types.PositionDebtToken, Symbol: cfg.ShareClass}
		subscriptions = append(subscriptions, aToken, debtToken)
		negativeProhibited = append(negativeProhibited, aToken)
	}
	for _, hv := range smc.HedgeVenues {
		subscriptions = append(subscriptions, types.PositionKey{Venue: hv, Type: types.PositionPerp, Symbol: cfg.Asset})
	}
	return subscriptions, negativeProhibited
}

func supportedOpsFor(cfg types.ModeConfig) map[string][]types.OrderOperation {
	ops := map[string][]types.OrderOperation{
		cfg.ComponentConfig.StrategyManager.PrimaryVenue: {
			types.OpSpotTrade, types.OpSupply, types.OpWithdraw, types.OpBorrow, types.OpRepay, types.OpStake, types.OpUnstake,
		},
	}
	for _, hv := range cfg.ComponentConfig.StrategyManager.HedgeVenues {
		ops[hv] = append(ops[hv], types.OpPerpTrade)
	}
	return ops
}

// feedsFor and liveVenuesFor need real per-venue REST/RPC clients, which
// are credential- and exchange-specific and thus left to deployment
// configuration (§6 names venue credentials as BASIS_{ENV}__{VENUE}__{FIELD}
// environment variables, not a wire protocol). restFeed/restClient below
// are a generic JSON-over-HTTP poller/caller sufficient for a venue
// exposing a conventional REST price/order API; they are not a stand-in
// for any one exchange's actual wire format, which is out of this
// module's scope (spec.md §"Explicitly OUT OF SCOPE").
func feedsFor(cfg types.ModeConfig, creds map[string]map[string]string) []dataprovider.Feed {
	var feeds []dataprovider.Feed
	smc := cfg.ComponentConfig.StrategyManager
	feeds = append(feeds, newRESTFeed(dataprovider.KindSpotPrices, smc.PrimaryVenue, creds[smc.PrimaryVenue]))
	feeds = append(feeds, newRESTFeed(dataprovider.KindOraclePrices, smc.PrimaryVenue, creds[smc.PrimaryVenue]))
	for _, hv := range smc.HedgeVenues {
		feeds = append(feeds, newRESTFeed(dataprovider.KindFundingRates, hv, creds[hv]))
	}
	return feeds
}

func liveVenuesFor(logger *zap.Logger, cfg types.ModeConfig, creds map[string]map[string]string) (map[string]venue.Interface, error) {
	venues := make(map[string]venue.Interface)
	smc := cfg.ComponentConfig.StrategyManager
	venues[smc.PrimaryVenue] = venue.NewRateLimited(newRESTClient(smc.PrimaryVenue, creds[smc.PrimaryVenue]), logger, 10, 20)
	for _, hv := range smc.HedgeVenues {
		venues[hv] = venue.NewRateLimited(newRESTClient(hv, creds[hv]), logger, 10, 20)
	}
	return venues, nil
}

// restFeed polls a venue's configured price/rate endpoint on an interval
// and pushes each sample into the caller's LiveProvider cache.
type restFeed struct {
	kind, venue, baseURL, apiKey string
	interval                     time.Duration
	client                       *http.Client
}

func newRESTFeed(kind, venue string, creds map[string]string) *restFeed {
	return &restFeed{
		kind: kind, venue: venue,
		baseURL:  creds["BASE_URL"],
		apiKey:   creds["API_KEY"],
		interval: 10 * time.Second,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (f *restFeed) Kind() string { return f.kind }

func (f *restFeed) Subscribe(ctx context.Context, onSample func(symbol string, t time.Time, v decimal.Decimal)) error {
	go func() {
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				samples, err := f.poll(ctx)
				if err != nil {
					continue
				}
				now := time.Now()
				for symbol, v := range samples {
					onSample(symbol, now, v)
				}
			}
		}
	}()
	return nil
}

func (f *restFeed) poll(ctx context.Context) (map[string]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s", f.baseURL, f.kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(body))
	for symbol, raw := range body {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		out[symbol] = v
	}
	return out, nil
}

// restClient is a generic JSON-over-HTTP venue.Client: order placement and
// position/market queries against a conventional REST surface, configured
// per venue via BASIS_{ENV}__{VENUE}__BASE_URL / BASIS_{ENV}__{VENUE}__API_KEY.
type restClient struct {
	venue, baseURL, apiKey string
	client                 *http.Client
}

func newRESTClient(venueName string, creds map[string]string) *restClient {
	return &restClient{
		venue:   venueName,
		baseURL: creds["BASE_URL"],
		apiKey:  creds["API_KEY"],
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *restClient) Name() string { return c.venue }

func (c *restClient) Execute(ctx context.Context, t types.Timestamp, order types.Order) (types.ExecutionHandshake, error) {
	body, err := json.Marshal(order)
	if err != nil {
		return types.ExecutionHandshake{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return types.ExecutionHandshake{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return types.ExecutionHandshake{Status: types.ExecutionFailed}, err
	}
	defer resp.Body.Close()

	var handshake types.ExecutionHandshake
	if err := json.NewDecoder(resp.Body).Decode(&handshake); err != nil {
		return types.ExecutionHandshake{Status: types.ExecutionFailed}, err
	}
	return handshake, nil
}

// positionWire is the REST wire shape for one balance; PositionKey cannot
// be a JSON map key directly (it is a struct, not a string), so the venue
// answers with a flat list instead.
type positionWire struct {
	Venue  string `json:"venue"`
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
	Amount string `json:"amount"`
}

func (c *restClient) QueryPositions(ctx context.Context, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/positions", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var wire []positionWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, err
	}
	positions := make(types.PositionMap, len(wire))
	for _, w := range wire {
		amount, err := decimal.NewFromString(w.Amount)
		if err != nil {
			continue
		}
		positions[types.NewPositionKey(w.Venue, types.PositionType(w.Type), w.Symbol)] = amount
	}
	return positions, nil
}

func (c *restClient) QueryMarket(ctx context.Context, t types.Timestamp, kinds []string) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/market", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			continue
		}
		out[k] = d
	}
	return out, nil
}

func venueQuerierFor(venues map[string]venue.Interface) *multiVenueQuerier {
	return &multiVenueQuerier{venues: venues}
}

// multiVenueQuerier adapts the per-venue Interface.QueryPositions calls
// into the single-venue-argument shape position.VenueQuerier and
// reconcile.RealPositionQuerier both expect.
type multiVenueQuerier struct {
	venues map[string]venue.Interface
}

func (m *multiVenueQuerier) QueryPositions(ctx context.Context, venueName string, t types.Timestamp, keys []types.PositionKey) (types.PositionMap, error) {
	iface, ok := m.venues[venueName]
	if !ok {
		return nil, fmt.Errorf("no venue client configured for %q", venueName)
	}
	return iface.QueryPositions(ctx, t, keys)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderCfg,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
