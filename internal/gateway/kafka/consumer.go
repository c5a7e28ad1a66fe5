package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"tradegate/internal/gateway/exchange"
	"tradegate/internal/logger"
	"tradegate/internal/market"

	"github.com/IBM/sarama"
)

var (
	kafkaLog = logger.Named("kafka")

	_ exchange.CandleStream = (*Consumer)(nil)
)

// Consumer 以 consumer group 方式消费 K 线收盘事件，作为 websocket 之外的另一种触发源。
type Consumer struct {
	group sarama.ConsumerGroup
	topic string

	closeOnce sync.Once
}

func NewConsumer(brokers []string, groupID, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	cfg := sarama.NewConfig()
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Version = sarama.V2_8_0_0

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer group: %w", err)
	}
	return NewConsumerFromGroup(group, topic), nil
}

// NewConsumerFromGroup 包装已有的 consumer group。
func NewConsumerFromGroup(group sarama.ConsumerGroup, topic string) *Consumer {
	return &Consumer{group: group, topic: strings.TrimSpace(topic)}
}

// Run 持续消费直到 ctx 结束；rebalance 后重新进入 Consume。
func (c *Consumer) Run(ctx context.Context, out chan<- market.CandleEvent) error {
	defer c.Close()
	handler := &groupHandler{out: out}
	kafkaLog.Infof("consumer started topic=%s", c.topic)
	for {
		if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			kafkaLog.Errorf("consume %s: %v", c.topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.group.Close()
	})
	return err
}

// candlePayload 与 market.CandleEvent 的 JSON 结构一致，closed 缺省视为已收盘。
type candlePayload struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Candle    market.Candle `json:"candle"`
	Closed    *bool         `json:"closed"`
}

// DecodeCandleEvent 解析并校验一条 K 线事件消息。
func DecodeCandleEvent(raw []byte) (market.CandleEvent, error) {
	var p candlePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return market.CandleEvent{}, fmt.Errorf("decode candle event: %w", err)
	}
	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if symbol == "" {
		return market.CandleEvent{}, fmt.Errorf("candle event missing symbol")
	}
	tf, err := market.ParseTimeframe(p.Timeframe)
	if err != nil {
		return market.CandleEvent{}, err
	}
	if p.Candle.OpenTime <= 0 {
		return market.CandleEvent{}, fmt.Errorf("candle event missing open_time")
	}
	if p.Candle.CloseTime <= 0 {
		p.Candle.CloseTime = p.Candle.OpenTime + tf.Duration().Milliseconds() - 1
	}
	closed := true
	if p.Closed != nil {
		closed = *p.Closed
	}
	return market.CandleEvent{Symbol: symbol, Timeframe: tf, Candle: p.Candle, Closed: closed}, nil
}

type groupHandler struct {
	out chan<- market.CandleEvent
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			evt, err := DecodeCandleEvent(msg.Value)
			if err != nil {
				kafkaLog.Warnf("skip message %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
				session.MarkMessage(msg, "")
				continue
			}
			if evt.Closed {
				select {
				case h.out <- evt:
				case <-session.Context().Done():
					return nil
				}
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
