package mq

import (
	"context"
	"fmt"

	"earnsystem/internal/config"

	"github.com/IBM/sarama"
)

// NewKafkaProducer builds a SyncProducer that waits for every in-sync replica.
func NewKafkaProducer(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return producer, nil
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish keys messages by recipient so one user's events stay ordered
// within a partition.
func (p *KafkaPublisher) Publish(_ context.Context, msg Message) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: msg.Topic,
		Key:   sarama.StringEncoder(msg.Key),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("message_id"), Value: []byte(msg.ID)},
		},
	})
	return err
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
