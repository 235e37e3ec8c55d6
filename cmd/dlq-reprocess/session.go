package main

import (
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/backoffice/internal/messaging/kafka"
)

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type replayProducer interface {
	SendRaw(topic string, key string, value []byte, headers ...kafka.Header) error
	Close() error
}

// session держит соединения с Kafka на время одного прогона.
// producer пуст в режиме dry-run.
type session struct {
	offsets  offsetClient
	source   partitionSource
	producer replayProducer
}

// Close закрывает соединения в порядке, обратном открытию.
func (s *session) Close() {
	if s.producer != nil {
		_ = s.producer.Close()
	}
	if s.source != nil {
		_ = s.source.Close()
	}
	if s.offsets != nil {
		_ = s.offsets.Close()
	}
}

// openSession подменяется в тестах.
var openSession = func(cfg config) (*session, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	sess := &session{offsets: client, source: consumerSource{consumer}}
	if !cfg.execute {
		return sess, nil
	}

	producer, err := kafka.NewProducer(cfg.brokers, kafka.WithProducerLogger(log.WithField("component", "dlq-reprocess")))
	if err != nil {
		sess.Close()
		return nil, err
	}
	sess.producer = producer
	return sess, nil
}

// consumerSource сужает sarama.Consumer до partitionSource.
type consumerSource struct {
	sarama.Consumer
}

func (c consumerSource) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	return c.Consumer.ConsumePartition(topic, partition, offset)
}
