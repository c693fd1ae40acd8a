package audit

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"
)

// KafkaSinkConfig configures a KafkaSink.
type KafkaSinkConfig struct {
	// Name is the identifier for this sink instance.
	Name string

	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the Kafka topic to write audit events to.
	Topic string

	TLS  *KafkaTLSConfig
	SASL *KafkaSASLConfig

	// WriteTimeout bounds a single write. Default: 5 seconds
	WriteTimeout time.Duration

	// RequiredAcks: -1 all replicas, 0 none, 1 leader only. Default: -1
	RequiredAcks int

	// Compression is one of "none", "gzip", "snappy", "lz4", "zstd".
	// Default: "snappy"
	Compression string
}

// KafkaTLSConfig holds TLS configuration for Kafka connections. Files are
// PEM encoded.
type KafkaTLSConfig struct {
	Enabled            bool
	CAFile             string
	CertFile           string
	KeyFile            string
	InsecureSkipVerify bool
}

// KafkaSASLConfig holds SASL authentication configuration.
type KafkaSASLConfig struct {
	// Mechanism is one of "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512".
	Mechanism string
	Username  string
	Password  string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes audit events to a Kafka topic. Writes are synchronous so
// an event is either acknowledged or reported as failed before the attempt
// returns.
type KafkaSink struct {
	name   string
	writer messageWriter
	logger *zap.Logger
	closed bool
}

// NewKafkaSink creates a new KafkaSink.
func NewKafkaSink(cfg KafkaSinkConfig, logger *zap.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka topic is required")
	}

	transport := &kafka.Transport{}
	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsConfig, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to build TLS config: %w", err)
		}
		transport.TLS = tlsConfig
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mechanism, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, fmt.Errorf("failed to build SASL mechanism: %w", err)
		}
		transport.SASL = mechanism
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = -1
	}

	compression := kafka.Snappy
	switch cfg.Compression {
	case "none":
		compression = 0
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "snappy", "":
	default:
		logger.Warn("unknown compression codec, defaulting to snappy",
			zap.String("codec", cfg.Compression))
	}

	name := cfg.Name
	if name == "" {
		name = "kafka"
	}

	return &KafkaSink{
		name: name,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			BatchSize:    1,
			WriteTimeout: writeTimeout,
			RequiredAcks: kafka.RequiredAcks(requiredAcks),
			Compression:  compression,
			Transport:    transport,
		},
		logger: logger.Named("kafka-audit"),
	}, nil
}

// Write sends an audit event to Kafka keyed by its attempt ID so all events
// of one attempt land on the same partition.
func (s *KafkaSink) Write(ctx context.Context, event *Event) error {
	if s.closed {
		return errors.New("kafka sink is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	headers := []kafka.Header{
		{Key: "event-type", Value: []byte(event.Type)},
		{Key: "severity", Value: []byte(event.Severity)},
		{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
	}
	if event.Actor.User != "" {
		headers = append(headers, kafka.Header{Key: "actor", Value: []byte(event.Actor.User)})
	}

	msg := kafka.Message{
		Key:     []byte(event.AttemptID),
		Value:   value,
		Headers: headers,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn("failed to write audit event to Kafka",
			zap.Error(err),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return fmt.Errorf("failed to write to Kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the Kafka writer.
func (s *KafkaSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("failed to close Kafka writer: %w", err)
	}
	return nil
}

// Name returns the sink identifier.
func (s *KafkaSink) Name() string {
	return s.name
}

func buildTLSConfig(cfg *KafkaTLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func buildSASLMechanism(cfg *KafkaSASLConfig) (sasl.Mechanism, error) {
	switch cfg.Mechanism {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		mechanism, err := scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-256 mechanism: %w", err)
		}
		return mechanism, nil
	case "SCRAM-SHA-512":
		mechanism, err := scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to create SCRAM-SHA-512 mechanism: %w", err)
		}
		return mechanism, nil
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
