package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tradegate/internal/backtest"
	"tradegate/internal/executor"
	"tradegate/internal/gateway/exchange"
	"tradegate/internal/market"
	"tradegate/internal/metrics"
	"tradegate/internal/pkg/apperr"
	"tradegate/internal/riskgate"
	"tradegate/internal/store/gormstore"
	"tradegate/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStrategyStore struct {
	mock.Mock
}

func (m *mockStrategyStore) SaveStrategy(ctx context.Context, cfg strategy.StrategyConfig) error {
	return m.Called(ctx, cfg).Error(0)
}

func (m *mockStrategyStore) DeleteStrategy(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockRuleStore struct {
	mock.Mock
}

func (m *mockRuleStore) PublishRuleConfig(ctx context.Context, cfg riskgate.RuleConfig) (riskgate.RuleConfig, error) {
	args := m.Called(ctx, cfg)
	return args.Get(0).(riskgate.RuleConfig), args.Error(1)
}

func (m *mockRuleStore) RuleConfigHistory(ctx context.Context, limit int) ([]gormstore.RuleConfigRecord, error) {
	args := m.Called(ctx, limit)
	list, _ := args.Get(0).([]gormstore.RuleConfigRecord)
	return list, args.Error(1)
}

type mockExecution struct {
	mock.Mock
}

func (m *mockExecution) Start(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockExecution) Stop()                           { m.Called() }
func (m *mockExecution) Toggle(ctx context.Context, mode executor.Mode) error {
	return m.Called(ctx, mode).Error(0)
}
func (m *mockExecution) Status() executor.Status {
	return m.Called().Get(0).(executor.Status)
}
func (m *mockExecution) DailyStats() executor.DailyStats {
	return m.Called().Get(0).(executor.DailyStats)
}
func (m *mockExecution) Positions() []exchange.Position {
	list, _ := m.Called().Get(0).([]exchange.Position)
	return list
}
func (m *mockExecution) Wallet(ctx context.Context) (exchange.WalletBalance, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.WalletBalance), args.Error(1)
}

type mockBacktests struct {
	mock.Mock
}

func (m *mockBacktests) Run(ctx context.Context, cfg backtest.Config) (*backtest.Result, error) {
	args := m.Called(ctx, cfg)
	res, _ := args.Get(0).(*backtest.Result)
	return res, args.Error(1)
}
func (m *mockBacktests) Validate(cfg backtest.Config) error { return cfg.Validate() }
func (m *mockBacktests) Examples() []backtest.Config     { return backtest.Examples() }
func (m *mockBacktests) Results(ctx context.Context, limit int) ([]backtest.RunSummary, error) {
	args := m.Called(ctx, limit)
	list, _ := args.Get(0).([]backtest.RunSummary)
	return list, args.Error(1)
}
func (m *mockBacktests) Result(ctx context.Context, id string) (*backtest.Result, error) {
	args := m.Called(ctx, id)
	res, _ := args.Get(0).(*backtest.Result)
	return res, args.Error(1)
}

type recordingSubmitter struct {
	jobs []riskgate.GateJob
	seen map[string]bool
}

func (s *recordingSubmitter) Submit(_ context.Context, job riskgate.GateJob) (bool, error) {
	if err := job.Validate(); err != nil {
		return false, riskgate.ErrInvalidJob
	}
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	dup := s.seen[job.IdempotencyKey]
	s.seen[job.IdempotencyKey] = true
	s.jobs = append(s.jobs, job)
	return dup, nil
}

type staticSource map[string]market.IndicatorSnapshot

func (s staticSource) Snapshot(symbol string, tf market.Timeframe) (market.IndicatorSnapshot, bool) {
	snap, found := s[symbol+":"+string(tf)]
	return snap, found
}

type fixture struct {
	engine     *gin.Engine
	registry   *strategy.Registry
	strategies *mockStrategyStore
	rules      *mockRuleStore
	gate       *riskgate.Pipeline
	exec       *mockExecution
	backtests  *mockBacktests
	submitter  *recordingSubmitter
	metrics    *metrics.Registry
	notices    *noticeRecorder
}

type noticeRecorder struct {
	texts []string
}

func (n *noticeRecorder) SendText(_ context.Context, text string) error {
	n.texts = append(n.texts, text)
	return nil
}

const strategyBody = `{
  "id": "rsi-reversal",
  "name": "RSI reversal",
  "enabled": true,
  "symbols": ["BTCUSDT"],
  "conditions": [{"indicator": "rsi", "operator": "less_than", "value": 30, "timeframe": "1h"}],
  "stopLoss": {"mode": "percent", "value": 2},
  "takeProfit": {"mode": "atrMultiple", "value": 3}
}`

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := strategy.NewRegistry()
	src := staticSource{"BTCUSDT:1h": {Symbol: "BTCUSDT", Timeframe: market.TF1h, Price: 100, RSI: market.Float(25)}}
	ev := strategy.NewEvaluator(reg, src, strategy.WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}))
	f := &fixture{
		registry:   reg,
		strategies: &mockStrategyStore{},
		rules:      &mockRuleStore{},
		gate: riskgate.NewPipeline(riskgate.RuleConfig{
			Version:              1,
			Timeframes:           []market.Timeframe{market.TF1h},
			Symbols:              []string{"BTCUSDT"},
			MaxConcurrentSignals: 5,
		}),
		exec:      &mockExecution{},
		backtests: &mockBacktests{},
		submitter: &recordingSubmitter{},
		metrics:   metrics.NewRegistry(),
		notices:   &noticeRecorder{},
	}
	f.engine = NewEngine(Deps{
		Registry:   reg,
		Evaluator:  ev,
		Strategies: f.strategies,
		Submitter:  f.submitter,
		Gate:       f.gate,
		Rules:      f.rules,
		Execution:  f.exec,
		Backtests:  f.backtests,
		Metrics:    f.metrics,
		Notifier:   f.notices,
	})
	return f
}

type response struct {
	OK       bool            `json:"ok"`
	Data     json.RawMessage `json:"data"`
	Error    string          `json:"error"`
	Problems []string        `json:"problems"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, response) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	var out response
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, out.OK)
	assert.JSONEq(t, `{"status":"ok"}`, string(out.Data))
}

func TestStrategyLifecycle(t *testing.T) {
	f := newFixture(t)
	f.strategies.On("SaveStrategy", mock.Anything, mock.MatchedBy(func(cfg strategy.StrategyConfig) bool {
		return cfg.ID == "rsi-reversal"
	})).Return(nil)
	f.strategies.On("DeleteStrategy", mock.Anything, "rsi-reversal").Return(nil)

	code, out := f.do(t, http.MethodPost, "/api/strategies", strategyBody)
	require.Equal(t, http.StatusOK, code, out.Error)
	var created strategy.StrategyConfig
	require.NoError(t, json.Unmarshal(out.Data, &created))
	assert.Equal(t, "30", created.Conditions[0].Value)

	code, out = f.do(t, http.MethodPost, "/api/strategies", strategyBody)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out.Error, "already exists")

	code, out = f.do(t, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, code)
	var list []strategy.StrategyConfig
	require.NoError(t, json.Unmarshal(out.Data, &list))
	assert.Len(t, list, 1)

	code, _ = f.do(t, http.MethodGet, "/api/strategies/rsi-reversal", "")
	assert.Equal(t, http.StatusOK, code)

	updated := strings.Replace(strategyBody, `"RSI reversal"`, `"RSI reversal v2"`, 1)
	code, out = f.do(t, http.MethodPut, "/api/strategies/rsi-reversal", updated)
	require.Equal(t, http.StatusOK, code, out.Error)
	cfg, _ := f.registry.Get("rsi-reversal")
	assert.Equal(t, "RSI reversal v2", cfg.Name)

	code, _ = f.do(t, http.MethodPut, "/api/strategies/other", updated)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodDelete, "/api/strategies/rsi-reversal", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/strategies/rsi-reversal", "")
	assert.Equal(t, http.StatusNotFound, code)
	f.strategies.AssertExpectations(t)
}

func TestCreateStrategyValidation(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodPost, "/api/strategies", `{"id":"x","name":"x","conditions":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, out.OK)
	assert.NotEmpty(t, out.Error)
	f.strategies.AssertNotCalled(t, "SaveStrategy", mock.Anything, mock.Anything)
}

func TestDeleteUnknownStrategy(t *testing.T) {
	f := newFixture(t)
	f.strategies.On("DeleteStrategy", mock.Anything, "ghost").Return(apperr.ErrNotFound)
	code, out := f.do(t, http.MethodDelete, "/api/strategies/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, out.OK)
}

func TestEvaluateAndSLTP(t *testing.T) {
	f := newFixture(t)
	f.strategies.On("SaveStrategy", mock.Anything, mock.Anything).Return(nil)
	code, _ := f.do(t, http.MethodPost, "/api/strategies", strategyBody)
	require.Equal(t, http.StatusOK, code)

	code, out := f.do(t, http.MethodPost, "/api/strategies/rsi-reversal/evaluate", `{"symbol":"btcusdt","timeframe":"1h"}`)
	require.Equal(t, http.StatusOK, code, out.Error)
	var res strategy.SignalResult
	require.NoError(t, json.Unmarshal(out.Data, &res))
	assert.Equal(t, strategy.SignalBuy, res.Signal)

	code, _ = f.do(t, http.MethodPost, "/api/strategies/rsi-reversal/evaluate", `{"symbol":"ETHUSDT","timeframe":"1h"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = f.do(t, http.MethodPost, "/api/strategies/rsi-reversal/evaluate", `{"symbol":"BTCUSDT","timeframe":"2h"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, out.Problems[0], "2h")

	code, out = f.do(t, http.MethodPost, "/api/strategies/rsi-reversal/sltp", `{"entryPrice":100,"atr":2}`)
	require.Equal(t, http.StatusOK, code, out.Error)
	var levels strategy.Levels
	require.NoError(t, json.Unmarshal(out.Data, &levels))
	assert.InDelta(t, 98, levels.StopLoss, 1e-9)
	assert.InDelta(t, 106, levels.TakeProfit, 1e-9)

	code, _ = f.do(t, http.MethodPost, "/api/strategies/rsi-reversal/sltp", `{"entryPrice":100}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSignalEndpoints(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/api/signals/last?symbol=BTCUSDT&timeframe=1h", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, out := f.do(t, http.MethodGet, "/api/signals/recent", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(out.Data))

	body := `{"symbol":"btcusdt","timeframe":"1h","closeTime":"2024-01-01T01:00:00Z","payload":{"expectedRR":2}}`
	code, out = f.do(t, http.MethodPost, "/api/signals/enqueue", body)
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.JSONEq(t, `{"idempotencyKey":"BTCUSDT:1h:2024-01-01T01:00:00Z","duplicate":false}`, string(out.Data))

	code, out = f.do(t, http.MethodPost, "/api/signals/enqueue", body)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), `"duplicate":true`)
	require.Len(t, f.submitter.jobs, 2)
	rr, found := f.submitter.jobs[0].ExpectedRR()
	assert.True(t, found)
	assert.Equal(t, 2.0, rr)

	code, _ = f.do(t, http.MethodPost, "/api/signals/enqueue", `{"symbol":"BTCUSDT","timeframe":"1h","closeTime":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRuleEndpoints(t *testing.T) {
	f := newFixture(t)
	valid := `{"timeframes":["1h","4h"],"symbols":["BTCUSDT"],"precedence":["4h","1h"],"maxConcurrentSignals":3,"cooldownSeconds":60}`

	code, out := f.do(t, http.MethodPost, "/api/rules/validate", `{"timeframes":["1h"],"symbols":[],"precedence":["4h"],"maxConcurrentSignals":0}`)
	require.Equal(t, http.StatusOK, code)
	var check ruleCheck
	require.NoError(t, json.Unmarshal(out.Data, &check))
	assert.False(t, check.Valid)
	assert.Contains(t, check.Errors, "symbols must not be empty")
	assert.Contains(t, check.Errors, `precedence "4h" is not part of timeframes`)

	code, out = f.do(t, http.MethodPost, "/api/rules/validate", valid)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(out.Data, &check))
	assert.True(t, check.Valid)
	assert.Equal(t, []string{"maxSignalsPerDay not set, daily volume is unbounded"}, check.Warnings)

	published := riskgate.RuleConfig{
		Version:              2,
		Timeframes:           []market.Timeframe{market.TF1h, market.TF4h},
		Symbols:              []string{"BTCUSDT"},
		Precedence:           []market.Timeframe{market.TF4h, market.TF1h},
		MaxConcurrentSignals: 3,
		CooldownSeconds:      60,
	}
	f.rules.On("PublishRuleConfig", mock.Anything, mock.MatchedBy(func(cfg riskgate.RuleConfig) bool {
		return cfg.Version == 0 && cfg.CooldownSeconds == 60
	})).Return(published, nil)
	code, out = f.do(t, http.MethodPost, "/api/rules/publish", valid)
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Equal(t, 2, f.gate.Rules().Version)
	assert.Equal(t, 60, f.gate.Rules().CooldownSeconds)

	code, _ = f.do(t, http.MethodPost, "/api/rules/publish", `{"timeframes":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = f.do(t, http.MethodGet, "/api/rules/active", "")
	require.Equal(t, http.StatusOK, code)
	var active riskgate.RuleConfig
	require.NoError(t, json.Unmarshal(out.Data, &active))
	assert.Equal(t, 2, active.Version)

	f.rules.On("RuleConfigHistory", mock.Anything, 20).Return([]gormstore.RuleConfigRecord{{Version: 2, Active: true}}, nil)
	code, out = f.do(t, http.MethodGet, "/api/rules/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), `"version":2`)
}

func TestKillSwitch(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodPost, "/api/risk/killswitch", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, out := f.do(t, http.MethodPost, "/api/risk/killswitch", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, f.gate.Rules().KillSwitch)
	assert.Contains(t, string(out.Data), `"killSwitch":true`)
	require.Len(t, f.notices.texts, 1)
	assert.Contains(t, f.notices.texts[0], "熔断已开启")

	code, _ = f.do(t, http.MethodGet, "/api/risk/state", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestExecutionEndpoints(t *testing.T) {
	f := newFixture(t)
	status := executor.Status{Running: true, Mode: executor.ModePaper}
	f.exec.On("Positions").Return([]exchange.Position{{Symbol: "BTCUSDT", Side: exchange.SideBuy, Size: 0.1}})
	f.exec.On("DailyStats").Return(executor.DailyStats{Date: "2024-01-01", Trades: 3})
	f.exec.On("Wallet", mock.Anything).Return(exchange.WalletBalance{}, executor.ErrLiveUnavailable).Once()
	f.exec.On("Start", mock.Anything).Return(nil)
	f.exec.On("Toggle", mock.Anything, executor.ModePaper).Return(nil)
	f.exec.On("Stop").Return()
	f.exec.On("Status").Return(status)

	code, out := f.do(t, http.MethodGet, "/api/execution/positions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), `"symbol":"BTCUSDT"`)

	code, out = f.do(t, http.MethodGet, "/api/execution/daily-stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(out.Data), `"trades":3`)

	code, _ = f.do(t, http.MethodGet, "/api/execution/wallet", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/execution/toggle", `{"running":true,"mode":"paper"}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/execution/toggle", `{"running":false}`)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodPost, "/api/execution/toggle", `{"mode":"margin"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, http.MethodPost, "/api/execution/toggle", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	f.exec.AssertCalled(t, "Start", mock.Anything)
	f.exec.AssertCalled(t, "Stop")
}

func TestBacktestEndpoints(t *testing.T) {
	f := newFixture(t)
	body := `{
	  "strategyId": "rsi-reversal", "strategyName": "RSI Reversal",
	  "symbol": "btcusdt", "timeframe": "1H",
	  "startDate": "2024-01-01", "endDate": "2024-02-01T00:00:00Z",
	  "strategy": {"conditions": [{"indicator": "rsi", "operator": "less_than", "value": "30", "timeframe": "1h"}]},
	  "initialBalance": 10000, "positionSize": 1000, "commission": 0.1, "slippage": 0.05
	}`
	result := &backtest.Result{
		ID:           "bt-1",
		FinalBalance: 10100,
		Equity: []backtest.EquityPoint{
			{Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC), Value: 10000},
			{Timestamp: time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC), Value: 10100},
		},
	}
	f.backtests.On("Run", mock.Anything, mock.MatchedBy(func(cfg backtest.Config) bool {
		return cfg.Symbol == "BTCUSDT" && cfg.Timeframe == market.TF1h &&
			cfg.StartDate.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	})).Return(result, nil).Once()
	f.backtests.On("Run", mock.Anything, mock.Anything).Return(nil, backtest.ErrNoData)
	f.backtests.On("Results", mock.Anything, 50).Return([]backtest.RunSummary{{ID: "bt-1"}}, nil)
	f.backtests.On("Result", mock.Anything, "bt-1").Return(result, nil)
	f.backtests.On("Result", mock.Anything, "missing").Return(nil, apperr.ErrNotFound)

	code, out := f.do(t, http.MethodPost, "/api/backtest/run", body)
	require.Equal(t, http.StatusOK, code, out.Error)
	assert.Contains(t, string(out.Data), `"id":"bt-1"`)

	code, _ = f.do(t, http.MethodPost, "/api/backtest/run", strings.Replace(body, "btcusdt", "ethusdt", 1))
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodPost, "/api/backtest/run", strings.Replace(body, "2024-01-01", "01/01/2024", 1))
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = f.do(t, http.MethodPost, "/api/backtest/validate", body)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"valid":true,"errors":[]}`, string(out.Data))

	code, out = f.do(t, http.MethodPost, "/api/backtest/validate", strings.Replace(body, `"initialBalance": 10000`, `"initialBalance": 0`, 1))
	require.Equal(t, http.StatusOK, code)
	var verdict struct {
		Valid  bool     `json:"valid"`
		Errors []string `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &verdict))
	assert.False(t, verdict.Valid)
	assert.Contains(t, verdict.Errors, "initialBalance must be > 0")

	code, out = f.do(t, http.MethodGet, "/api/backtest/examples", "")
	require.Equal(t, http.StatusOK, code)
	var examples []backtest.Config
	require.NoError(t, json.Unmarshal(out.Data, &examples))
	assert.Len(t, examples, 2)

	code, _ = f.do(t, http.MethodGet, "/api/backtest/results", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/backtest/results/bt-1", "")
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.do(t, http.MethodGet, "/api/backtest/results/missing", "")
	assert.Equal(t, http.StatusNotFound, code)

	req := httptest.NewRequest(http.MethodGet, "/api/backtest/results/bt-1/chart", nil)
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.Validation("x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(riskgate.ErrInvalidJob))
	assert.Equal(t, http.StatusNotFound, statusFor(apperr.ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("db down")))
}

func TestOrdersAndMetrics(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodGet, "/api/execution/orders", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(out.Data))

	f.metrics.Inc("gate_jobs_queued")
	f.metrics.ObserveOutcome(market.TF1h, riskgate.ReasonOK)
	code, out = f.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, code)
	var snap metrics.Snapshot
	require.NoError(t, json.Unmarshal(out.Data, &snap))
	assert.Equal(t, int64(1), snap.Counters["gate_jobs_queued"])
	assert.Equal(t, int64(1), snap.Gate[market.TF1h][riskgate.ReasonOK])
}
