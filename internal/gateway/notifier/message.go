package notifier

import (
	"fmt"
	"strings"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/strategy"
)

const maxMessageLen = 3800

// Section 是消息中的一个段落。
type Section struct {
	Title string
	Lines []string
}

// Message 是统一格式的推送内容，渲染为 Markdown 代码块。
type Message struct {
	Icon      string
	Title     string
	Sections  []Section
	Footer    string
	Timestamp time.Time
}

// Markdown 生成推送文本，超长时截断。
func (m Message) Markdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(escapeFence(footer) + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

func renderSections(secs []Section) string {
	var blocks []string
	for _, sec := range secs {
		var lines []string
		for _, line := range sec.Lines {
			if text := strings.TrimSpace(line); text != "" {
				lines = append(lines, "- "+escapeFence(text))
			}
		}
		if len(lines) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			lines = append([]string{escapeFence(title)}, lines...)
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	if len(blocks) == 0 {
		return ""
	}
	return "```\n" + strings.Join(blocks, "\n\n") + "\n```\n\n"
}

func escapeFence(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}

// OrderMessage 描述一笔已执行订单。
func OrderMessage(mode string, sig strategy.SignalResult, resp exchange.OrderResponse) Message {
	icon := "🟢"
	if sig.Signal == strategy.SignalSell {
		icon = "🔴"
	}
	order := []string{
		fmt.Sprintf("方向：%s %s", resp.Side, resp.Symbol),
		fmt.Sprintf("数量：%s", resp.Qty.String()),
		fmt.Sprintf("成交价：%s", resp.AvgPrice.String()),
		fmt.Sprintf("订单号：%s", resp.OrderID),
	}
	if sig.StopLoss != nil {
		order = append(order, fmt.Sprintf("止损：%.4f", *sig.StopLoss))
	}
	if sig.TakeProfit != nil {
		order = append(order, fmt.Sprintf("止盈：%.4f", *sig.TakeProfit))
	}
	signal := []string{
		fmt.Sprintf("策略：%s (%s)", sig.StrategyName, sig.StrategyID),
		fmt.Sprintf("周期：%s  置信度：%.0f", sig.Timeframe, sig.Confidence),
	}
	signal = append(signal, sig.Reasons...)
	return Message{
		Icon:      icon,
		Title:     fmt.Sprintf("[%s] %s 已下单", strings.ToUpper(mode), sig.Symbol),
		Sections:  []Section{{Title: "订单", Lines: order}, {Title: "信号", Lines: signal}},
		Timestamp: sig.Timestamp,
	}
}

// KillSwitchMessage 描述熔断开关切换。
func KillSwitchMessage(enabled bool, at time.Time) Message {
	if enabled {
		return Message{Icon: "⛔", Title: "熔断已开启，新信号全部拦截", Timestamp: at}
	}
	return Message{Icon: "✅", Title: "熔断已解除", Timestamp: at}
}
