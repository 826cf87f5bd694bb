package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenMatrixCore/internal/config"
	"github.com/KevinKickass/OpenMatrixCore/internal/devices"
	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RouteChangeRecord is the JSON value of a Kafka message.
type RouteChangeRecord struct {
	DeviceID  string    `json:"device_id"`
	Device    string    `json:"device"`
	Output    int       `json:"output"`
	Signal    string    `json:"signal"`
	Previous  int       `json:"previous_input"`
	Input     int       `json:"input"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func NewRouteChangeRecord(ev devices.Event) RouteChangeRecord {
	return RouteChangeRecord{
		DeviceID:  ev.DeviceID.String(),
		Device:    ev.Device,
		Output:    ev.Change.Output,
		Signal:    string(ev.Change.Signal),
		Previous:  ev.Change.Previous,
		Input:     ev.Change.Input,
		Source:    string(ev.Change.Source),
		Timestamp: ev.Timestamp,
	}
}

// KafkaSink writes one message per route change, keyed by device name so
// changes of one switcher stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink creates a producer for the configured brokers and topic.
func NewKafkaSink(cfg config.KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
	return NewKafkaSinkWithWriter(writer), nil
}

func NewKafkaSinkWithWriter(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

func (s *KafkaSink) Name() string {
	return "kafka"
}

func (s *KafkaSink) Write(ctx context.Context, events []devices.Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(NewRouteChangeRecord(ev))
		if err != nil {
			return fmt.Errorf("encode route change: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Device),
			Value: value,
			Time:  ev.Timestamp,
		})
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
