package backtest

import (
	"fmt"
	"time"

	"tradegate/internal/market"
	"tradegate/internal/strategy"
)

type openPosition struct {
	side       strategy.SignalType
	entryTime  time.Time
	entryPrice float64
	qty        float64
	notional   float64
	commission float64
	slippage   float64
}

func (p *openPosition) unrealized(price float64) float64 {
	if p.side == strategy.SignalBuy {
		return (price - p.entryPrice) * p.qty
	}
	return (p.entryPrice - price) * p.qty
}

// simulator 是单一持仓的本地账户：开仓时锁定名义本金，平仓时连同盈亏一起返还。
type simulator struct {
	cfg    Config
	cash   float64
	pos    *openPosition
	trades []Trade
	equity []EquityPoint

	peak     float64
	maxDD    float64
	maxDDPct float64
}

func newSimulator(cfg Config) *simulator {
	return &simulator{cfg: cfg, cash: cfg.InitialBalance, peak: cfg.InitialBalance}
}

// onSignal 处理一次信号，反向信号只平仓不反手。返回是否发生平仓。
func (s *simulator) onSignal(sig strategy.SignalType, c market.Candle) (bool, error) {
	switch sig {
	case strategy.SignalBuy, strategy.SignalSell:
	default:
		return false, nil
	}
	if s.pos == nil {
		return false, s.open(sig, c)
	}
	if s.pos.side != sig {
		s.close(c)
		return true, nil
	}
	return false, nil
}

func (s *simulator) open(side strategy.SignalType, c market.Candle) error {
	size := s.cfg.PositionSize
	commission := size * s.cfg.Commission / 100
	slippage := size * s.cfg.Slippage / 100
	cost := size + commission + slippage
	if s.cash < cost {
		return fmt.Errorf("%w: balance %.2f < cost %.2f at %s", ErrInsufficientBalance, s.cash, cost, c.CloseAt().Format(time.RFC3339))
	}
	if c.Close <= 0 {
		return nil
	}
	s.cash -= cost
	s.pos = &openPosition{
		side:       side,
		entryTime:  c.CloseAt(),
		entryPrice: c.Close,
		qty:        size / c.Close,
		notional:   size,
		commission: commission,
		slippage:   slippage,
	}
	return nil
}

func (s *simulator) close(c market.Candle) {
	p := s.pos
	if p == nil {
		return
	}
	exit := c.Close
	gross := p.unrealized(exit)
	exitNotional := p.qty * exit
	commission := exitNotional * s.cfg.Commission / 100
	slippage := exitNotional * s.cfg.Slippage / 100
	s.cash += p.notional + gross - commission - slippage

	s.trades = append(s.trades, Trade{
		Side:       p.side,
		EntryTime:  p.entryTime,
		ExitTime:   c.CloseAt(),
		EntryPrice: p.entryPrice,
		ExitPrice:  exit,
		Quantity:   p.qty,
		GrossPnL:   gross,
		Commission: p.commission + commission,
		Slippage:   p.slippage + slippage,
		PnL:        gross - p.commission - p.slippage - commission - slippage,
		Balance:    s.cash,
	})
	s.pos = nil
}

// markEquity 记录权益点并更新回撤；closed 为 true 时把当前回撤写回最近一笔交易。
func (s *simulator) markEquity(c market.Candle, closed bool) {
	value := s.cash
	if s.pos != nil {
		// 开仓时名义价值已从 cash 扣除，这里加回即为 余额+浮盈
		value += s.pos.notional + s.pos.unrealized(c.Close)
	}
	s.equity = append(s.equity, EquityPoint{Timestamp: c.CloseAt(), Value: value})
	if value > s.peak {
		s.peak = value
	}
	dd := s.peak - value
	ddPct := 0.0
	if s.peak > 0 {
		ddPct = dd / s.peak * 100
	}
	if dd > s.maxDD {
		s.maxDD = dd
	}
	if ddPct > s.maxDDPct {
		s.maxDDPct = ddPct
	}
	if closed && len(s.trades) > 0 {
		t := &s.trades[len(s.trades)-1]
		t.Drawdown = dd
		t.MaxDrawdown = s.maxDD
	}
}
