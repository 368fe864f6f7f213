// Package ingest publishes live-location updates to Kafka so the
// consumer process can mirror them into the shared Redis store. Loss
// here is tolerable; the next fix overwrites the previous one anyway.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ecocommute/internal/models"
)

type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationProducer{writer: w}
}

// Publish sends one location fix keyed by user so per-user ordering is
// preserved within a partition.
func (p *LocationProducer) Publish(loc *models.LiveLocation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(loc)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(loc.UserID), Value: b})
}

func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
