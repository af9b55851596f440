package internal

import (
	"fmt"
	"strings"
	"time"
)

const (
	StoreBadger = "badger"
	StoreScylla = "scylla"
)

type Config struct {
	HTTPAddr       string `env:"HTTP_ADDR,default=:8080"`
	GRPCHealthAddr string `env:"GRPC_HEALTH_ADDR,default=:9090"`
	LogLevel       string `env:"LOG_LEVEL,default=INFO"`
	LogFormat      string `env:"LOG_FORMAT,default=json"`
	JWTSecret      string `env:"JWT_SECRET,required=true"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`
	GinMode        string `env:"GIN_MODE,default=release"`
	DebugPort      int    `env:"DEBUG_PORT,default=8081"`

	StoreDriver       string        `env:"STORE_DRIVER,default=badger"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,default=./data/badger"`
	BlugeFilepath     string        `env:"BLUGE_FILEPATH"`
	ScyllaHosts       string        `env:"SCYLLA_HOSTS,default=localhost"`
	ScyllaKeyspace    string        `env:"SCYLLA_KEYSPACE,default=messaging"`
	ScyllaUsername    string        `env:"SCYLLA_USERNAME"`
	ScyllaPassword    string        `env:"SCYLLA_PASSWORD"`
	ScyllaConsistency string        `env:"SCYLLA_CONSISTENCY,default=quorum"`
	ScyllaTimeout     time.Duration `env:"SCYLLA_TIMEOUT,default=5s"`
	ScyllaReplication int           `env:"SCYLLA_REPLICATION_FACTOR,default=1"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE,default=messaging"`

	KafkaBrokers           string `env:"KAFKA_BROKERS"`
	KafkaNotificationTopic string `env:"KAFKA_NOTIFICATION_TOPIC,default=messaging.notifications"`
	KafkaClientID          string `env:"KAFKA_CLIENT_ID,default=messaging-core"`

	MaxContentLength          int           `env:"MAX_CONTENT_LENGTH,default=1000"`
	NotificationPreviewLength int           `env:"NOTIFICATION_PREVIEW_LENGTH,default=50"`
	NotificationBufferSize    int           `env:"NOTIFICATION_BUFFER_SIZE,default=1024"`
	NotificationTimeout       time.Duration `env:"NOTIFICATION_TIMEOUT,default=3s"`
	TypingExpiry              time.Duration `env:"TYPING_EXPIRY,default=2s"`
	TypingSweepInterval       time.Duration `env:"TYPING_SWEEP_INTERVAL,default=250ms"`
	BackfillPageSize          int           `env:"BACKFILL_PAGE_SIZE,default=200"`
	ConnectionBufferSize      int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	BackpressureTimeout       time.Duration `env:"BACKPRESSURE_TIMEOUT,default=5s"`
	InboundRate               float64       `env:"INBOUND_RATE,default=20"`
	InboundBurst              int           `env:"INBOUND_BURST,default=40"`
	RestartInterval           time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	MetricInterval            time.Duration `env:"METRIC_INTERVAL,default=15s"`
	HealthInterval            time.Duration `env:"HEALTH_INTERVAL,default=5s"`
	ProfileCacheTTL           time.Duration `env:"PROFILE_CACHE_TTL,default=24h"`
	ShutdownTimeout           time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	AuthTokenDuration         time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`

	ModerationWordsFile   string `env:"MODERATION_WORDS_FILE"`
	ModerationReplacement string `env:"MODERATION_CHARACTER_REPLACEMENT,default=*"`
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreBadger, StoreScylla:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", StoreBadger, StoreScylla, c.StoreDriver)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("MAX_CONTENT_LENGTH must be positive, got %d", c.MaxContentLength)
	}
	if c.ConnectionBufferSize <= 0 || c.BackfillPageSize <= 0 || c.NotificationBufferSize <= 0 {
		return fmt.Errorf("buffer and page sizes must be positive")
	}
	if c.TypingExpiry <= 0 || c.TypingSweepInterval <= 0 {
		return fmt.Errorf("TYPING_EXPIRY and TYPING_SWEEP_INTERVAL must be positive")
	}
	if _, err := CharacterRune(c.ModerationReplacement); err != nil {
		return err
	}
	return nil
}

// SplitList turns "a, b,,c" into [a b c].
func SplitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
