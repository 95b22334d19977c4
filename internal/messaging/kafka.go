// Package messaging publishes the miner's solution, block and hashrate
// events to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// messageWriter is the part of kafka.Writer the client uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaClient publishes events through one writer shared by every topic.
// Messages are keyed so all events of a solution or solver land on one
// partition.
type KafkaClient struct {
	writer  messageWriter
	logger  *log.Logger
	breaker *circuit.Breaker
	retry   *retry.Config
}

// NewKafkaClient creates a client for brokers. onBreakerChange may be nil.
func NewKafkaClient(brokers []string, logger *log.Logger, onBreakerChange func(name string, from, to circuit.State)) *KafkaClient {
	return newKafkaClient(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}, logger, onBreakerChange)
}

func newKafkaClient(w messageWriter, logger *log.Logger, onBreakerChange func(name string, from, to circuit.State)) *KafkaClient {
	return &KafkaClient{
		writer: w,
		logger: logger.WithComponent("kafka"),
		breaker: circuit.New(&circuit.Config{
			Name:            "kafka",
			MaxFailures:     5,
			ResetTimeout:    time.Minute,
			Timeout:         15 * time.Second,
			SuccessRequired: 3,
			OnStateChange:   onBreakerChange,
		}),
		retry: retry.NetworkConfig(),
	}
}

// PublishSolution publishes a solution event keyed by its hash.
func (k *KafkaClient) PublishSolution(ctx context.Context, event *SolutionEvent) error {
	msg, err := event.ToProto()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "encode_solution", "failed to encode solution event")
	}
	return k.PublishProto(ctx, TopicSolutions, event.Hash, msg)
}

// PublishBlock publishes a block submission outcome as JSON.
func (k *KafkaClient) PublishBlock(ctx context.Context, event *BlockEvent) error {
	return k.PublishJSON(ctx, TopicBlocks, event.Hash, event)
}

// PublishHashrate publishes a hashrate sample keyed by solver.
func (k *KafkaClient) PublishHashrate(ctx context.Context, event *HashrateEvent) error {
	msg, err := event.ToProto()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "encode_hashrate", "failed to encode hashrate event")
	}
	return k.PublishProto(ctx, TopicHashrate, event.Solver, msg)
}

func (k *KafkaClient) PublishProto(ctx context.Context, topic, key string, msg proto.Message) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "protobuf_marshal", "failed to marshal protobuf message").
			WithContext("topic", topic)
	}
	return k.publish(ctx, topic, key, data)
}

func (k *KafkaClient) PublishJSON(ctx context.Context, topic, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "json_marshal", "failed to marshal JSON message").
			WithContext("topic", topic)
	}
	return k.publish(ctx, topic, key, data)
}

func (k *KafkaClient) publish(ctx context.Context, topic, key string, data []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}

	return k.breaker.Execute(ctx, func() error {
		return retry.Do(ctx, k.retry, func() error {
			if err := k.writer.WriteMessages(ctx, msg); err != nil {
				return errors.Wrap(err, errors.ErrorTypeKafka, "publish", "failed to publish message").
					WithContext("topic", topic).
					WithContext("key", key)
			}
			k.logger.Debug("published message", "topic", topic, "key", key, "size", len(data))
			return nil
		})
	})
}

// Close flushes and closes the writer.
func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeKafka, "close", "failed to close writer")
	}
	return nil
}
