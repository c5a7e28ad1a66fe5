package model

import (
	"time"

	"gorm.io/datatypes"
)

type StrategyModel struct {
	ID         string         `gorm:"column:id;primaryKey"`
	Name       string         `gorm:"column:name"`
	Enabled    bool           `gorm:"column:enabled"`
	ConfigJSON datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	CreatedAt  time.Time      `gorm:"column:created_at"`
	UpdatedAt  time.Time      `gorm:"column:updated_at"`
}

func (StrategyModel) TableName() string { return "strategies" }

type SignalModel struct {
	ID           int64          `gorm:"column:id;primaryKey"`
	StrategyID   string         `gorm:"column:strategy_id;index"`
	StrategyName string         `gorm:"column:strategy_name"`
	Symbol       string         `gorm:"column:symbol;index:idx_signals_symbol_tf,priority:1"`
	Timeframe    string         `gorm:"column:timeframe;index:idx_signals_symbol_tf,priority:2"`
	Signal       string         `gorm:"column:signal"`
	Confidence   float64        `gorm:"column:confidence"`
	Price        float64        `gorm:"column:price"`
	StopLoss     *float64       `gorm:"column:stop_loss"`
	TakeProfit   *float64       `gorm:"column:take_profit"`
	ReasonsJSON  datatypes.JSON `gorm:"column:reasons_json;type:TEXT"`
	EvaluatedAt  time.Time      `gorm:"column:evaluated_at;index"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
}

func (SignalModel) TableName() string { return "signals" }

type OrderModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	OrderID     string         `gorm:"column:order_id;uniqueIndex"`
	OrderLinkID string         `gorm:"column:order_link_id"`
	Mode        string         `gorm:"column:mode"`
	Symbol      string         `gorm:"column:symbol;index"`
	Side        string         `gorm:"column:side"`
	OrderType   string         `gorm:"column:order_type"`
	Status      string         `gorm:"column:status"`
	Qty         string         `gorm:"column:qty"`
	AvgPrice    string         `gorm:"column:avg_price"`
	Commission  float64        `gorm:"column:commission"`
	StrategyID  string         `gorm:"column:strategy_id"`
	RawJSON     datatypes.JSON `gorm:"column:raw_json;type:TEXT"`
	CreatedAt   time.Time      `gorm:"column:created_at;index"`
}

func (OrderModel) TableName() string { return "orders" }

type BacktestRunModel struct {
	ID                 string         `gorm:"column:id;primaryKey"`
	StrategyID         string         `gorm:"column:strategy_id;index"`
	Symbol             string         `gorm:"column:symbol"`
	Timeframe          string         `gorm:"column:timeframe"`
	InitialBalance     float64        `gorm:"column:initial_balance"`
	FinalBalance       float64        `gorm:"column:final_balance"`
	TotalReturnPercent float64        `gorm:"column:total_return_percent"`
	TotalTrades        int            `gorm:"column:total_trades"`
	ConfigJSON         datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	ResultJSON         datatypes.JSON `gorm:"column:result_json;type:TEXT"`
	CreatedAt          time.Time      `gorm:"column:created_at;index"`
}

func (BacktestRunModel) TableName() string { return "backtest_runs" }

// RuleConfigModel 保存每次发布的闸门规则，Active 同一时刻只有一条为真。
type RuleConfigModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	Version     int            `gorm:"column:version;uniqueIndex"`
	Active      bool           `gorm:"column:active;index"`
	ConfigJSON  datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	PublishedAt time.Time      `gorm:"column:published_at"`
}

func (RuleConfigModel) TableName() string { return "rule_configs" }

type GateJobModel struct {
	ID        int64          `gorm:"column:id;primaryKey"`
	JobID     string         `gorm:"column:job_id;uniqueIndex"`
	Payload   datatypes.JSON `gorm:"column:payload;type:TEXT"`
	Status    string         `gorm:"column:status;index:idx_gate_jobs_ready,priority:1"`
	Attempts  int            `gorm:"column:attempts"`
	NextRunAt int64          `gorm:"column:next_run_at;index:idx_gate_jobs_ready,priority:2"`
	LastError string         `gorm:"column:last_error"`
	CreatedAt time.Time      `gorm:"column:created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at"`
}

func (GateJobModel) TableName() string { return "gate_jobs" }

// All 返回需要迁移的全部模型。
func All() []any {
	return []any{
		&StrategyModel{},
		&SignalModel{},
		&OrderModel{},
		&BacktestRunModel{},
		&RuleConfigModel{},
		&GateJobModel{},
	}
}
