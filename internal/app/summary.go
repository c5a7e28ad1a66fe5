package app

import (
	"fmt"
	"sort"
	"strings"

	"tradegate/internal/config"
	"tradegate/internal/market"
	"tradegate/internal/riskgate"
)

type StartupSummary struct {
	Market    MarketSummary
	Rules     RulesSummary
	Execution ExecutionSummary
	Backtest  string
	HTTPAddr  string
}

type MarketSummary struct {
	Symbols    []string
	Timeframes []string
	Stream     string
	Strategies int
}

type RulesSummary struct {
	Version    int
	FromStore  bool
	Timeframes []string
	Precedence []string
	KillSwitch bool
	RRMin      float64
	MaxOpen    int
	MaxPerDay  int
}

type ExecutionSummary struct {
	Mode      string
	AutoStart bool
	Live      bool
	Queue     string
}

func newStartupSummary(cfg *config.Config, rules riskgate.RuleConfig, fromStore bool, strategies int, stream *StreamSource, backtestSource string) *StartupSummary {
	streamName := "-"
	if stream != nil {
		streamName = stream.Name
	}
	return &StartupSummary{
		Market: MarketSummary{
			Symbols:    cfg.Market.Symbols,
			Timeframes: cfg.Market.Timeframes,
			Stream:     streamName,
			Strategies: strategies,
		},
		Rules: RulesSummary{
			Version:    rules.Version,
			FromStore:  fromStore,
			Timeframes: tfStrings(rules.Timeframes),
			Precedence: tfStrings(rules.EffectivePrecedence()),
			KillSwitch: rules.KillSwitch,
			RRMin:      rules.RRMin,
			MaxOpen:    rules.MaxConcurrentSignals,
			MaxPerDay:  rules.MaxSignalsPerDay,
		},
		Execution: ExecutionSummary{
			Mode:      cfg.Execution.Mode,
			AutoStart: cfg.Execution.AutoStart,
			Live:      cfg.Exchange.APIKey != "" && cfg.Exchange.APISecret != "",
			Queue:     fmt.Sprintf("%s x%d", cfg.Queue.Backend, cfg.Queue.Concurrency),
		},
		Backtest: backtestSource,
		HTTPAddr: cfg.App.HTTPAddr,
	}
}

func tfStrings(tfs []market.Timeframe) []string {
	out := make([]string, 0, len(tfs))
	for _, tf := range tfs {
		out = append(out, tf.String())
	}
	return out
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[行情 (MARKET)]")
	fmt.Printf("  监控币种: %s\n", formatList(s.Market.Symbols))
	fmt.Printf("  订阅周期: %s\n", formatList(s.Market.Timeframes))
	fmt.Printf("  行情来源: %s\n", s.Market.Stream)
	fmt.Printf("  已加载策略: %d\n", s.Market.Strategies)
	fmt.Println()

	fmt.Println("[风控闸门 (RISK GATE)]")
	source := "配置文件"
	if s.Rules.FromStore {
		source = "数据库"
	}
	fmt.Printf("  规则版本: v%d (%s)\n", s.Rules.Version, source)
	fmt.Printf("  允许周期: %s\n", formatList(s.Rules.Timeframes))
	fmt.Printf("  优先级: %s\n", formatList(s.Rules.Precedence))
	fmt.Printf("  熔断开关: %v\n", s.Rules.KillSwitch)
	fmt.Printf("  最小盈亏比: %.2f\n", s.Rules.RRMin)
	fmt.Printf("  并发上限: %d  日上限: %s\n", s.Rules.MaxOpen, limitText(s.Rules.MaxPerDay))
	fmt.Println()

	fmt.Println("[执行 (EXECUTION)]")
	fmt.Printf("  模式: %s  自动启动: %v  实盘可用: %v\n", s.Execution.Mode, s.Execution.AutoStart, s.Execution.Live)
	fmt.Printf("  闸门队列: %s\n", s.Execution.Queue)
	fmt.Printf("  回测数据源: %s\n", s.Backtest)
	fmt.Printf("  HTTP: %s\n", s.HTTPAddr)
	fmt.Println(strings.Repeat("=", 80))
}

func limitText(n int) string {
	if n <= 0 {
		return "不限"
	}
	return fmt.Sprintf("%d", n)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	cp := append([]string(nil), items...)
	sort.Strings(cp)
	return strings.Join(cp, ", ")
}
