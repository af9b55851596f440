package storage

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

type ScyllaConfig struct {
	Hosts             []string
	Keyspace          string
	Username          string
	Password          string
	Consistency       string
	Timeout           time.Duration
	ReplicationFactor int
}

// NewScyllaSession ensures the keyspace and tables exist and returns a session bound to the keyspace.
func NewScyllaSession(ctx context.Context, cfg ScyllaConfig, log *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %s", cfg.Keyspace)
	}
	consistency, err := ParseConsistency(cfg.Consistency)
	if err != nil {
		return nil, err
	}

	baseCluster := newCluster(cfg, consistency)
	baseSession, err := baseCluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err = ensureKeyspace(ctx, baseSession, cfg); err != nil {
		return nil, err
	}

	cluster := newCluster(cfg, consistency)
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.Keyspace, err)
	}
	if err = ensureTables(ctx, session); err != nil {
		session.Close()
		return nil, err
	}
	log.Info("Scylla connected", "hosts", cfg.Hosts, "keyspace", cfg.Keyspace)
	return session, nil
}

func newCluster(cfg ScyllaConfig, consistency gocql.Consistency) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Timeout = cfg.Timeout
	cluster.ConnectTimeout = cfg.Timeout
	cluster.Consistency = consistency
	cluster.SerialConsistency = gocql.Serial
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

func ensureKeyspace(ctx context.Context, session *gocql.Session, cfg ScyllaConfig) error {
	rf := cfg.ReplicationFactor
	if rf < 1 {
		rf = 1
	}
	cql := fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.Keyspace, rf,
	)
	if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
	id text PRIMARY KEY,
	participant_a text,
	participant_b text,
	context_id text,
	created_at timestamp,
	last_message_at timestamp,
	last_message_id text,
	last_message_seq bigint,
	last_sender_id text,
	last_message_preview text,
	archived boolean
)`,
	`CREATE TABLE IF NOT EXISTS conversation_pairs (
	pair_key text PRIMARY KEY,
	conversation_id text
)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`,
	`CREATE TABLE IF NOT EXISTS messages (
	conversation_id text,
	seq bigint,
	id text,
	sender_id text,
	recipient_id text,
	content text,
	attachment_url text,
	attachment_kind text,
	attachment_name text,
	created_at timestamp,
	read boolean,
	read_at timestamp,
	PRIMARY KEY (conversation_id, seq)
) WITH CLUSTERING ORDER BY (seq ASC)`,
	`CREATE TABLE IF NOT EXISTS messages_by_id (
	id text PRIMARY KEY,
	conversation_id text,
	seq bigint
)`,
	`CREATE TABLE IF NOT EXISTS unread_messages (
	conversation_id text,
	recipient_id text,
	seq bigint,
	PRIMARY KEY ((conversation_id, recipient_id), seq)
)`,
}

func ensureTables(ctx context.Context, session *gocql.Session) error {
	for _, cql := range schema {
		if err := session.Query(cql).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func ParseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported scylla consistency: %s", raw)
	}
}
