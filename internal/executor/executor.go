package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"tradegate/internal/cache"
	"tradegate/internal/gateway/exchange"
	"tradegate/internal/gateway/notifier"
	"tradegate/internal/logger"
	"tradegate/internal/strategy"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var execLog = logger.Named("executor")

// notifyTimeout 限制单次成交推送的耗时，推送失败不影响下单结果。
const notifyTimeout = 10 * time.Second

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModePaper:
		return ModePaper, nil
	case ModeLive:
		return ModeLive, nil
	default:
		return "", fmt.Errorf("unsupported execution mode %q", raw)
	}
}

// ErrLiveUnavailable 表示未配置实盘交易所。
var ErrLiveUnavailable = errors.New("live exchange not configured")

// Config 中的比例字段均为百分数，例如 0.1 表示 0.1%。
type Config struct {
	Mode             Mode
	PaperBalance     float64
	BaseSize         float64
	MaxPositionSize  float64
	MaxDailyLoss     float64
	MaxOpenPositions int
	DefaultLeverage  float64
	CommissionRate   float64
	SlippageRate     float64
}

// OrderRecord 是一次成功执行的持久化记录。
type OrderRecord struct {
	Mode       Mode                   `json:"mode"`
	StrategyID string                 `json:"strategyId"`
	Signal     strategy.SignalResult  `json:"signal"`
	Commission float64                `json:"commission"`
	Response   exchange.OrderResponse `json:"response"`
}

type OrderStore interface {
	SaveOrder(ctx context.Context, rec OrderRecord) error
}

type DailyStats struct {
	Date   string  `json:"date"`
	PnL    float64 `json:"pnl"`
	Trades int     `json:"trades"`
}

type Status struct {
	Running       bool       `json:"running"`
	Mode          Mode       `json:"mode"`
	OpenPositions int        `json:"openPositions"`
	Daily         DailyStats `json:"daily"`
}

// Executor 对通过闸门的信号做仓位风控、定量并下单（模拟或实盘）。
type Executor struct {
	venue  exchange.Exchange
	prices *PriceLookup
	store  OrderStore
	cache  cache.Cache
	notify notifier.TextNotifier
	now    func() time.Time

	mu        sync.Mutex
	cfg       Config
	running   bool
	day       string
	dailyPnL  decimal.Decimal
	trades    int
	realized  decimal.Decimal
	positions map[string]exchange.Position
	inflight  map[string]struct{}
}

type Option func(*Executor)

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithOrderStore(s OrderStore) Option {
	return func(e *Executor) { e.store = s }
}

// WithNotifier 在每笔成交后推送消息。
func WithNotifier(n notifier.TextNotifier) Option {
	return func(e *Executor) { e.notify = n }
}

func WithCache(c cache.Cache) Option {
	return func(e *Executor) {
		if c != nil {
			e.cache = c
		}
	}
}

// New 创建执行器。venue 在纯模拟模式下可以为 nil，prices 为 nil 时模拟单无法成交。
func New(cfg Config, venue exchange.Exchange, prices *PriceLookup, opts ...Option) *Executor {
	if cfg.Mode == "" {
		cfg.Mode = ModePaper
	}
	e := &Executor{
		venue:     venue,
		prices:    prices,
		cache:     cache.Nop{},
		now:       time.Now,
		cfg:       cfg,
		positions: make(map[string]exchange.Position),
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.day = e.today()
	return e
}

func (e *Executor) today() string {
	return e.now().UTC().Format(time.DateOnly)
}

// Start 幂等；跨 UTC 日时重置日统计，实盘模式从交易所加载持仓。
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		execLog.Infof("already running")
		return nil
	}
	e.running = true
	e.resetIfNewDayLocked()
	mode := e.cfg.Mode
	e.mu.Unlock()

	if mode == ModeLive {
		e.loadPositions(ctx)
	}
	execLog.Infof("started mode=%s", mode)
	return nil
}

// Stop 幂等；已经发出的网络请求不受影响。
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		execLog.Infof("not running")
		return
	}
	e.running = false
	execLog.Infof("stopped")
}

func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Toggle 切换执行模式，切到实盘时要求已配置交易所。
func (e *Executor) Toggle(ctx context.Context, mode Mode) error {
	if mode == ModeLive && e.venue == nil {
		return ErrLiveUnavailable
	}
	e.mu.Lock()
	prev := e.cfg.Mode
	e.cfg.Mode = mode
	running := e.running
	if prev != mode {
		e.positions = make(map[string]exchange.Position)
	}
	e.mu.Unlock()
	if prev != mode {
		execLog.Infof("mode %s -> %s", prev, mode)
		if running && mode == ModeLive {
			e.loadPositions(ctx)
		}
	}
	return nil
}

func (e *Executor) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Mode
}

func (e *Executor) DailyStats() DailyStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetIfNewDayLocked()
	return DailyStats{Date: e.day, PnL: e.dailyPnL.InexactFloat64(), Trades: e.trades}
}

func (e *Executor) Status() Status {
	daily := e.DailyStats()
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{Running: e.running, Mode: e.cfg.Mode, OpenPositions: len(e.positions), Daily: daily}
}

// Positions 返回按 symbol 排序的持仓快照。
func (e *Executor) Positions() []exchange.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]exchange.Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Wallet 实盘查询交易所余额，模拟模式按初始资金加已实现盈亏估算。
func (e *Executor) Wallet(ctx context.Context) (exchange.WalletBalance, error) {
	e.mu.Lock()
	mode := e.cfg.Mode
	balance := decimal.NewFromFloat(e.cfg.PaperBalance).Add(e.realized).InexactFloat64()
	e.mu.Unlock()
	if mode == ModeLive {
		if e.venue == nil {
			return exchange.WalletBalance{}, ErrLiveUnavailable
		}
		return e.venue.WalletBalance(ctx)
	}
	return exchange.WalletBalance{
		AccountType:           "PAPER",
		TotalEquity:           balance,
		TotalWalletBalance:    balance,
		TotalAvailableBalance: balance,
		Coins:                 []exchange.CoinBalance{{Coin: "USDT", Equity: balance, WalletBalance: balance, USDValue: balance}},
		UpdatedAt:             e.now().UTC(),
	}, nil
}

func (e *Executor) resetIfNewDayLocked() {
	today := e.today()
	if today == e.day {
		return
	}
	e.day = today
	e.dailyPnL = decimal.Zero
	e.trades = 0
	execLog.Infof("daily counters reset for %s", today)
}

// PositionSize = min(BaseSize * confidence/100, MaxPositionSize)，confidence 按 0-100 处理。
func PositionSize(cfg Config, confidence float64) float64 {
	size := cfg.BaseSize * (confidence / 100)
	if size > cfg.MaxPositionSize {
		size = cfg.MaxPositionSize
	}
	return size
}

func sideOf(sig strategy.SignalType) (exchange.Side, bool) {
	switch sig {
	case strategy.SignalBuy:
		return exchange.SideBuy, true
	case strategy.SignalSell:
		return exchange.SideSell, true
	default:
		return "", false
	}
}

// ExecuteSignal 未运行、风控不通过或执行失败时返回 nil, nil；信号被丢弃，不排队。
func (e *Executor) ExecuteSignal(ctx context.Context, sig strategy.SignalResult) (*exchange.OrderResponse, error) {
	side, ok := sideOf(sig.Signal)
	if !ok {
		return nil, nil
	}
	symbol := strings.ToUpper(strings.TrimSpace(sig.Symbol))

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		execLog.Warnf("not running, ignore %s %s", sig.Signal, symbol)
		return nil, nil
	}
	e.resetIfNewDayLocked()
	if reason := e.checkRiskLocked(symbol, side); reason != "" {
		e.mu.Unlock()
		execLog.Warnf("signal rejected %s %s: %s", sig.Signal, symbol, reason)
		return nil, nil
	}
	e.inflight[symbol] = struct{}{}
	cfg := e.cfg
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, symbol)
		e.mu.Unlock()
	}()

	size := PositionSize(cfg, sig.Confidence)
	if size <= 0 {
		execLog.Warnf("position size %.4f for %s is not positive, skip", size, symbol)
		return nil, nil
	}
	req := exchange.OrderRequest{
		ID:          "order_" + uuid.NewString(),
		Symbol:      symbol,
		Side:        side,
		OrderType:   exchange.OrderTypeMarket,
		Qty:         decimal.NewFromFloat(size),
		TimeInForce: "IOC",
		OrderLinkID: sig.StrategyID,
		TakeProfit:  sig.TakeProfit,
		StopLoss:    sig.StopLoss,
	}

	var (
		resp       *exchange.OrderResponse
		commission decimal.Decimal
		err        error
	)
	switch cfg.Mode {
	case ModeLive:
		resp, err = e.executeLive(ctx, req)
	default:
		resp, commission, err = e.executePaper(ctx, cfg, req)
	}
	if err != nil {
		execLog.Errorf("execute %s %s failed: %v", side, symbol, err)
		return nil, nil
	}

	e.mu.Lock()
	e.trades++
	e.mu.Unlock()
	e.cache.Incr(ctx, "daily_trades:"+e.today(), 48*time.Hour)
	e.cache.Incr(ctx, "total_trades", 0)

	if e.store != nil {
		rec := OrderRecord{Mode: cfg.Mode, StrategyID: sig.StrategyID, Signal: sig, Commission: commission.InexactFloat64(), Response: *resp}
		if err := e.store.SaveOrder(ctx, rec); err != nil {
			execLog.Warnf("save order %s failed: %v", resp.OrderID, err)
		}
	}
	e.refreshPositions(ctx, cfg.Mode)
	execLog.Infof("order executed %s %s qty=%s avg=%s", resp.Side, resp.Symbol, resp.Qty.String(), resp.AvgPrice.String())
	e.sendOrderNotice(ctx, cfg.Mode, sig, *resp)
	return resp, nil
}

func (e *Executor) sendOrderNotice(ctx context.Context, mode Mode, sig strategy.SignalResult, resp exchange.OrderResponse) {
	if e.notify == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	text := notifier.OrderMessage(string(mode), sig, resp).Markdown()
	if err := e.notify.SendText(nctx, text); err != nil {
		execLog.Warnf("order notice %s failed: %v", resp.OrderID, err)
	}
}

func (e *Executor) checkRiskLocked(symbol string, side exchange.Side) string {
	limit := decimal.NewFromFloat(e.cfg.MaxDailyLoss).Neg()
	if e.dailyPnL.LessThan(limit) {
		return fmt.Sprintf("daily loss limit exceeded: %s < %s", e.dailyPnL.StringFixed(4), limit.String())
	}
	if len(e.positions) >= e.cfg.MaxOpenPositions {
		return fmt.Sprintf("maximum open positions reached: %d >= %d", len(e.positions), e.cfg.MaxOpenPositions)
	}
	if pos, ok := e.positions[symbol]; ok && pos.Side == side {
		return "position already exists in the same direction"
	}
	if _, busy := e.inflight[symbol]; busy {
		return "another order for the symbol is in flight"
	}
	return ""
}

// executePaper 以当前价加滑点模拟成交，日 PnL 计入滑点成本与手续费。
func (e *Executor) executePaper(ctx context.Context, cfg Config, req exchange.OrderRequest) (*exchange.OrderResponse, decimal.Decimal, error) {
	if e.prices == nil {
		return nil, decimal.Zero, ErrNoPrice
	}
	last, err := e.prices.Get(ctx, req.Symbol)
	if err != nil {
		return nil, decimal.Zero, err
	}
	price := decimal.NewFromFloat(last)
	hundred := decimal.NewFromInt(100)
	slip := decimal.NewFromFloat(cfg.SlippageRate).Div(hundred)
	fill := price.Mul(decimal.NewFromInt(1).Add(slip))
	if req.Side == exchange.SideSell {
		fill = price.Mul(decimal.NewFromInt(1).Sub(slip))
	}
	commission := req.Qty.Mul(fill).Mul(decimal.NewFromFloat(cfg.CommissionRate)).Div(hundred)
	pnl := price.Sub(fill).Mul(req.Qty).Sub(commission)
	if req.Side == exchange.SideSell {
		pnl = fill.Sub(price).Mul(req.Qty).Sub(commission)
	}

	now := e.now().UTC()
	resp := &exchange.OrderResponse{
		OrderID:      req.ID,
		OrderLinkID:  req.OrderLinkID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		OrderType:    req.OrderType,
		OrderStatus:  "Filled",
		Price:        fill,
		Qty:          req.Qty,
		LeavesQty:    decimal.Zero,
		CumExecQty:   req.Qty,
		CumExecValue: req.Qty.Mul(fill),
		AvgPrice:     fill,
		TimeInForce:  "IOC",
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
		CreatedTime:  now,
		UpdatedTime:  now,
	}

	e.mu.Lock()
	e.dailyPnL = e.dailyPnL.Add(pnl)
	e.realized = e.realized.Add(pnl)
	e.applyPaperFillLocked(resp, cfg.DefaultLeverage)
	e.mu.Unlock()
	return resp, commission, nil
}

// applyPaperFillLocked 反向成交平掉旧仓并以新方向替换。
func (e *Executor) applyPaperFillLocked(resp *exchange.OrderResponse, leverage float64) {
	if leverage <= 0 {
		leverage = 1
	}
	if prev, ok := e.positions[resp.Symbol]; ok && prev.Side != resp.Side {
		execLog.Infof("paper %s %s closed by opposite fill", prev.Side, prev.Symbol)
	}
	fill := resp.AvgPrice.InexactFloat64()
	pos := exchange.Position{
		Symbol:      resp.Symbol,
		Side:        resp.Side,
		Size:        resp.CumExecQty.InexactFloat64(),
		EntryPrice:  fill,
		MarkPrice:   fill,
		Leverage:    leverage,
		CreatedTime: resp.CreatedTime,
		UpdatedTime: resp.UpdatedTime,
	}
	if resp.TakeProfit != nil {
		pos.TakeProfit = *resp.TakeProfit
	}
	if resp.StopLoss != nil {
		pos.StopLoss = *resp.StopLoss
	}
	e.positions[resp.Symbol] = pos
}

func (e *Executor) executeLive(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResponse, error) {
	if e.venue == nil {
		return nil, ErrLiveUnavailable
	}
	resp, err := e.venue.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("%s returned empty order response", e.venue.Name())
	}
	if resp.TakeProfit == nil {
		resp.TakeProfit = req.TakeProfit
	}
	if resp.StopLoss == nil {
		resp.StopLoss = req.StopLoss
	}
	return resp, nil
}

func (e *Executor) refreshPositions(ctx context.Context, mode Mode) {
	if mode == ModeLive {
		e.loadPositions(ctx)
		return
	}
	e.mu.Lock()
	for sym, p := range e.positions {
		if p.Size == 0 {
			delete(e.positions, sym)
		}
	}
	e.mu.Unlock()
}

func (e *Executor) loadPositions(ctx context.Context) {
	if e.venue == nil {
		return
	}
	list, err := e.venue.Positions(ctx)
	if err != nil {
		execLog.Warnf("load positions failed: %v", err)
		return
	}
	next := make(map[string]exchange.Position, len(list))
	for _, p := range list {
		if p.Size == 0 {
			continue
		}
		next[strings.ToUpper(p.Symbol)] = p
	}
	e.mu.Lock()
	e.positions = next
	e.mu.Unlock()
	execLog.Infof("loaded %d open positions", len(next))
}
