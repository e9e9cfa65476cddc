// Package notify 领域事件投递（Kafka），未配置 broker 时为空实现
package notify

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"CycleOracle/internal/config"
	"CycleOracle/internal/interfaces"
	"CycleOracle/internal/model"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 5 * time.Second

// kafkaWriter kafka.Writer 的抽象，便于测试
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 以 cycle_id 为 key 写入同一 topic，同一周期的事件保持分区内有序
type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
	logger *logrus.Logger
}

// NewKafkaPublisher 创建 Kafka 投递器
func NewKafkaPublisher(brokers []string, topic string, logger *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: writer, topic: topic, logger: logger}
}

// Publish 失败只记录日志，不影响调用方
func (p *KafkaPublisher) Publish(ctx context.Context, ev model.DomainEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.WithError(err).WithField("type", ev.Type).Error("领域事件序列化失败")
		return
	}
	eventID := uuid.NewString()
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.CycleID, 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "type", Value: []byte(ev.Type)},
		},
		Time: ev.At,
	}

	// 调用方的 ctx 可能已临近截止，投递使用独立超时
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"type":     ev.Type,
			"cycle_id": ev.CycleID,
			"topic":    p.topic,
		}).Warn("领域事件投递失败")
		return
	}
	p.logger.WithFields(logrus.Fields{
		"type":     ev.Type,
		"cycle_id": ev.CycleID,
		"event_id": eventID,
	}).Debug("领域事件已投递")
}

// Close 刷新并关闭 writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher 丢弃所有事件
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.DomainEvent) {}

func (NopPublisher) Close() error { return nil }

// Publisher 带 Close 的事件出口
type Publisher interface {
	interfaces.EventPublisher
	Close() error
}

// New 按配置选择实现
func New(cfg config.NotifyConfig, logger *logrus.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Info("未配置 Kafka broker，领域事件不投递")
		return NopPublisher{}
	}
	topic := cfg.Topic
	if topic == "" {
		topic = "oddyssey.cycle-events"
	}
	logger.WithFields(logrus.Fields{"brokers": cfg.Brokers, "topic": topic}).Info("领域事件投递到 Kafka")
	return NewKafkaPublisher(cfg.Brokers, topic, logger)
}
