// Package relay forwards fired-reminder events to Redis pub/sub or NATS so
// other systems can react to them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-reminder/pkg/utilities"
)

const EventReminderFired = "reminder.fired"

// Event is the JSON payload put on the wire.
type Event struct {
	Type       string    `json:"type"`
	EventID    string    `json:"event_id"`
	ReminderID string    `json:"reminder_id"`
	UserID     int64     `json:"user_id"`
	Title      string    `json:"title"`
	When       time.Time `json:"when"`
}

// NewFiredEvent builds a reminder.fired event with a fresh event id.
func NewFiredEvent(reminderID string, userID int64, title string, when time.Time) Event {
	return Event{
		Type:       EventReminderFired,
		EventID:    utilities.NewSnowflakeID(),
		ReminderID: reminderID,
		UserID:     userID,
		Title:      title,
		When:       when,
	}
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher sends one event to the transport.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Subscriber delivers incoming events to fn until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, fn func(Event)) error
	Close() error
}

const (
	BackendRedis = "redis"
	BackendNATS  = "nats"
)

type Config struct {
	Backend      string
	RedisURL     string
	RedisChannel string
	NATSURL      string
	NATSSubject  string
	QueueSize    int
}

// ConfigFromEnv reads EVENT_RELAY, REDIS_* and NATS_* variables.
func ConfigFromEnv() Config {
	return Config{
		Backend:      strings.ToLower(utilities.GetEnvAsString("EVENT_RELAY", "")),
		RedisURL:     utilities.GetEnvAsString("REDIS_URL", "redis://localhost:6379/0"),
		RedisChannel: utilities.GetEnvAsString("REDIS_CHANNEL", "reminder_notifications"),
		NATSURL:      utilities.GetEnvAsString("NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:  utilities.GetEnvAsString("NATS_SUBJECT", EventReminderFired),
		QueueSize:    utilities.GetEnvAsInt("EVENT_RELAY_QUEUE", 256),
	}
}

// NewPublisher connects the configured backend. An empty backend yields a
// publisher that discards events.
func NewPublisher(ctx context.Context, cfg Config, logger *zap.SugaredLogger) (Publisher, error) {
	switch cfg.Backend {
	case "":
		logger.Infow("event relay disabled")
		return Nop{}, nil
	case BackendRedis:
		return NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisChannel)
	case BackendNATS:
		return NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("relay: unknown backend %q", cfg.Backend)
	}
}

// NewSubscriber connects the configured backend for consuming events.
func NewSubscriber(ctx context.Context, cfg Config) (Subscriber, error) {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisSubscriber(ctx, cfg.RedisURL, cfg.RedisChannel)
	case BackendNATS:
		return NewNATSSubscriber(cfg.NATSURL, cfg.NATSSubject)
	default:
		return nil, fmt.Errorf("relay: backend %q cannot be subscribed to", cfg.Backend)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
