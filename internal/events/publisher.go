package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

var ErrPublisherClosed = errors.New("events: publisher is closed")

// Config holds Kafka publisher settings.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

func DefaultConfig() Config {
	return Config{
		Topic:        "rulegate.suggestions",
		BatchTimeout: 100 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// Enabled reports whether brokers are configured. An empty broker list
// disables publishing rather than failing startup.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("events: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("events: topic is required")
	}
	return nil
}

// Publisher sends lifecycle events to Kafka, keyed by suggestion id so
// one suggestion's transitions land on one partition in order.
type Publisher struct {
	writer *kafka.Writer
	cfg    Config
	logger *slog.Logger
	closed atomic.Bool

	published atomic.Int64
	errors    atomic.Int64
}

func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("event publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic)

	return &Publisher{writer: writer, cfg: cfg, logger: logger}, nil
}

// Publish sends one event, retrying transient failures with exponential
// backoff.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.SuggestionID),
		Value: value,
		Time:  ev.OccurredAt,
	}

	var lastErr error
	backoff := p.cfg.RetryBackoff

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.published.Add(1)
			p.logger.Debug("published lifecycle event",
				"type", ev.Type,
				"suggestion_id", ev.SuggestionID)
			return nil
		}

		lastErr = err
		p.errors.Add(1)
		p.logger.Warn("event publish failed",
			"error", err,
			"attempt", attempt+1,
			"max_attempts", p.cfg.MaxRetries+1)

		if isNonRetryable(err) {
			return fmt.Errorf("events: non-retryable publish error: %w", err)
		}
	}

	return fmt.Errorf("events: publish failed after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

// Metrics reports how many events were published and how many attempts
// failed.
func (p *Publisher) Metrics() (published, errors int64) {
	return p.published.Load(), p.errors.Load()
}

// Close flushes buffered messages and shuts the writer down.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("closing event publisher", "published", p.published.Load())

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("events: failed to close publisher: %w", err)
	}
	return nil
}

func isNonRetryable(err error) bool {
	switch {
	case errors.Is(err, kafka.MessageSizeTooLarge),
		errors.Is(err, kafka.InvalidTopic),
		errors.Is(err, kafka.TopicAuthorizationFailed),
		errors.Is(err, kafka.ClusterAuthorizationFailed):
		return true
	}
	return false
}
