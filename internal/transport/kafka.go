package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/rttprobe/internal/core"
)

func init() {
	Register("kafka", NewKafka)
}

const (
	defaultKafkaBatchTimeout = 10 * time.Millisecond
	defaultKafkaCompression  = "snappy"
	defaultKafkaMaxAttempts  = 3
)

// KafkaOptions configures the kafka transport.
type KafkaOptions struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 1
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 10ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
}

type kafkaBinder struct {
	opts KafkaOptions
	node string
}

// NewKafka returns a Binder producing to a Kafka topic. Kafka has no
// listening side, so Bind creates a writer and the port only becomes part
// of the message key.
func NewKafka(opts Options) (Binder, error) {
	ko := KafkaOptions{
		BatchSize:    1,
		BatchTimeout: defaultKafkaBatchTimeout,
		Compression:  defaultKafkaCompression,
		MaxAttempts:  defaultKafkaMaxAttempts,
	}
	if err := decodeOptions(opts.Raw, &ko); err != nil {
		return nil, err
	}
	if len(ko.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka brokers is required", core.ErrConfigInvalid)
	}
	if ko.Topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is required", core.ErrConfigInvalid)
	}
	if _, err := compressionCodec(ko.Compression); err != nil {
		return nil, err
	}
	return &kafkaBinder{opts: ko, node: opts.Node}, nil
}

func (b *kafkaBinder) Name() string { return "kafka" }

func (b *kafkaBinder) Bind(port int) (Channel, error) {
	codec, err := compressionCodec(b.opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrBindFailed, err)
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:          b.opts.Brokers,
		Topic:            b.opts.Topic,
		Balancer:         &kafka.Hash{}, // same key, same partition: per-worker ordering
		BatchSize:        b.opts.BatchSize,
		BatchTimeout:     b.opts.BatchTimeout,
		MaxAttempts:      b.opts.MaxAttempts,
		CompressionCodec: codec,
		Async:            false,
	})

	key := strconv.Itoa(port)
	if b.node != "" {
		key = b.node + ":" + key
	}
	return &kafkaChannel{writer: writer, key: []byte(key)}, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

type kafkaChannel struct {
	writer *kafka.Writer
	key    []byte
}

func (c *kafkaChannel) Send(ctx context.Context, msg []byte) error {
	err := c.writer.WriteMessages(ctx, kafka.Message{
		Key:   c.key,
		Value: msg,
		Time:  time.Now(),
	})
	if errors.Is(err, io.ErrClosedPipe) {
		return core.ErrChannelClosed
	}
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (c *kafkaChannel) Close() error {
	return c.writer.Close()
}
