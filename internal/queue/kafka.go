package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafkaQueue(brokers []string, topic string, groupID string) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  2 * time.Second,
	})

	return &KafkaQueue{writer: writer, reader: reader}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, msg PickupMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal pickup message: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(msg.OrderReference),
		Value: payload,
		Time:  msg.EnqueuedAt,
		Headers: []kafka.Header{
			{Key: "dedup-key", Value: []byte(msg.DedupKey)},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := q.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to write pickup message to kafka: %w", err)
	}
	return nil
}

// Receive fetches without committing; the offset is committed by Ack.
func (q *KafkaQueue) Receive(ctx context.Context) (Delivery, error) {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			return Delivery{}, fmt.Errorf("failed to read message: %w", err)
		}

		var pickup PickupMessage
		if err := json.Unmarshal(msg.Value, &pickup); err != nil {
			// Poison message: commit it so the partition keeps moving.
			_ = q.reader.CommitMessages(ctx, msg)
			continue
		}
		return Delivery{
			Message: pickup,
			Ack: func(ctx context.Context) error {
				return q.reader.CommitMessages(ctx, msg)
			},
		}, nil
	}
}

func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
