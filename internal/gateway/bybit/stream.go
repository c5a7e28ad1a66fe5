package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/market"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

var _ exchange.CandleStream = (*Stream)(nil)

// Stream 订阅 Bybit 公共 kline 频道，只转发已收盘（confirm=true）的 K 线。
type Stream struct {
	url          string
	topics       []string
	dialer       *websocket.Dialer
	pingInterval time.Duration
	maxBackoff   time.Duration
}

func NewStream(streamURL string, testnet bool, symbols []string, tfs []market.Timeframe) (*Stream, error) {
	if strings.TrimSpace(streamURL) == "" {
		streamURL = MainnetStreamURL
		if testnet {
			streamURL = TestnetStreamURL
		}
	}
	var topics []string
	for _, tf := range tfs {
		interval, err := tf.BybitInterval()
		if err != nil {
			bybitLog.Warnf("stream skip timeframe %s: %v", tf, err)
			continue
		}
		for _, sym := range symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			topics = append(topics, fmt.Sprintf("kline.%s.%s", interval, sym))
		}
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("bybit stream: no topics to subscribe")
	}
	return &Stream{
		url:          streamURL,
		topics:       topics,
		dialer:       websocket.DefaultDialer,
		pingInterval: 20 * time.Second,
		maxBackoff:   30 * time.Second,
	}, nil
}

func (s *Stream) Topics() []string { return append([]string(nil), s.topics...) }

// Run 保持连接并在断线后指数退避重连，ctx 结束时返回 nil。
func (s *Stream) Run(ctx context.Context, out chan<- market.CandleEvent) error {
	backoff := time.Second
	for {
		started := time.Now()
		err := s.session(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		bybitLog.Warnf("stream disconnected: %v, reconnect in %s", err, backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *Stream) session(ctx context.Context, out chan<- market.CandleEvent) error {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}
	var (
		writeMu sync.Mutex
		once    sync.Once
	)
	closeConn := func() {
		once.Do(func() {
			writeMu.Lock()
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			writeMu.Unlock()
			_ = conn.Close()
		})
	}
	defer closeConn()

	send := func(v any) error {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, raw)
	}
	// 单次订阅参数不宜过多，按 10 个一批发送
	for i := 0; i < len(s.topics); i += 10 {
		end := min(i+10, len(s.topics))
		if err := send(map[string]any{"op": "subscribe", "args": s.topics[i:end]}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	bybitLog.Infof("stream connected %s topics=%d", s.url, len(s.topics))

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(s.pingInterval)
		defer t.Stop()
		for {
			select {
			case <-sessionCtx.Done():
				closeConn()
				return
			case <-t.C:
				if err := send(map[string]string{"op": "ping"}); err != nil {
					closeConn()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				errors.Is(err, websocket.ErrCloseSent) || sessionCtx.Err() != nil {
				return nil
			}
			return err
		}
		events, err := ParseKlineMessage(msg)
		if err != nil {
			bybitLog.Warnf("stream parse error: %v", err)
			continue
		}
		for _, evt := range events {
			if !evt.Closed {
				continue
			}
			select {
			case out <- evt:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ParseKlineMessage 解析 kline 推送；非 kline 消息（pong、订阅回执）返回空切片。
func ParseKlineMessage(raw []byte) ([]market.CandleEvent, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid json")
	}
	doc := gjson.ParseBytes(raw)
	topic := doc.Get("topic").String()
	if !strings.HasPrefix(topic, "kline.") {
		return nil, nil
	}
	parts := strings.Split(topic, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("unexpected topic %q", topic)
	}
	tf, ok := market.TimeframeFromBybit(parts[1])
	if !ok {
		return nil, fmt.Errorf("unsupported interval %q", parts[1])
	}
	symbol := parts[2]
	var events []market.CandleEvent
	for _, item := range doc.Get("data").Array() {
		start := item.Get("start").Int()
		end := item.Get("end").Int()
		if end <= 0 {
			end = start + tf.Duration().Milliseconds() - 1
		}
		events = append(events, market.CandleEvent{
			Symbol:    symbol,
			Timeframe: tf,
			Closed:    item.Get("confirm").Bool(),
			Candle: market.Candle{
				OpenTime:  start,
				CloseTime: end,
				Open:      floatField(item, "open"),
				High:      floatField(item, "high"),
				Low:       floatField(item, "low"),
				Close:     floatField(item, "close"),
				Volume:    floatField(item, "volume"),
			},
		})
	}
	return events, nil
}
