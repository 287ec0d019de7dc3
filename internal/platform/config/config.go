package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config groups every runtime setting read by the server and CLI.
type Config struct {
	Server   Server
	Database Database
	Redis    RedisConfig
	Kafka    KafkaConfig
	Voting   Voting
	Logging  Logging
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	AdminToken      string
	JWTSigningKey   string
	JWTIssuer       string
	JWTAudience     string
	ShutdownTimeout time.Duration
}

// Database configures Postgres. An empty URL selects the in-memory stores.
type Database struct {
	URL string
	// Driver is "postgres" (lib/pq) or "pgx" (pgx stdlib adapter).
	Driver          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig configures the verification attempt limiter store.
// An empty URL selects the in-memory limiter.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures lifecycle event publishing. No brokers means
// events are only logged.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Partitions  int32
	Replication int16
}

// Voting holds domain tunables.
type Voting struct {
	VerificationTimeout     time.Duration
	MaxVerificationFailures int
	FailureWindow           time.Duration
	LockoutDuration         time.Duration
	SweepInterval           time.Duration
	SweepParallelism        int
	TabulationRetries       int
	TxTimeout               time.Duration
	DefaultConfidenceLevel  int
	BallotTokenSecret       string
	VerificationDigestKey   string
	IPHashSalt              string
	BiometricURL            string
	BiometricThreshold      float64
	WebAuthnRPID            string
	WebAuthnRPOrigins       []string
	WebAuthnRPDisplayName   string
}

type Logging struct {
	Level  string
	Format string
	File   string
}

// FromEnv builds the config from environment variables. A .env file in the
// working directory is loaded first when present; real environment wins.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Server: Server{
			Addr:            envString("UNIONVOTE_ADDR", ":8080"),
			AdminToken:      os.Getenv("ADMIN_API_TOKEN"),
			JWTSigningKey:   envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:       envString("JWT_ISSUER", "unionvote"),
			JWTAudience:     envString("JWT_AUDIENCE", "unionvote-members"),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: Database{
			URL:             os.Getenv("DATABASE_URL"),
			Driver:          envString("DB_DRIVER", "postgres"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			AutoMigrate:     envBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:     envList("KAFKA_BROKERS"),
			Topic:       envString("KAFKA_VOTING_TOPIC", "voting.events"),
			Partitions:  int32(envInt("KAFKA_TOPIC_PARTITIONS", 3)),
			Replication: int16(envInt("KAFKA_TOPIC_REPLICATION", 1)),
		},
		Voting: Voting{
			VerificationTimeout:     envDuration("VERIFICATION_TIMEOUT", 5*time.Second),
			MaxVerificationFailures: envInt("VERIFICATION_MAX_FAILURES", 5),
			FailureWindow:           envDuration("VERIFICATION_FAILURE_WINDOW", 15*time.Minute),
			LockoutDuration:         envDuration("VERIFICATION_LOCKOUT", 15*time.Minute),
			SweepInterval:           envDuration("SWEEP_INTERVAL", 30*time.Second),
			SweepParallelism:        envInt("SWEEP_PARALLELISM", 4),
			TabulationRetries:       envInt("TABULATION_RETRIES", 3),
			TxTimeout:               envDuration("VOTING_TX_TIMEOUT", 5*time.Second),
			DefaultConfidenceLevel:  envInt("DEFAULT_CONFIDENCE_LEVEL", 95),
			BallotTokenSecret:       os.Getenv("BALLOT_TOKEN_SECRET"),
			VerificationDigestKey:   os.Getenv("VERIFICATION_DIGEST_KEY"),
			IPHashSalt:              os.Getenv("IP_HASH_SALT"),
			BiometricURL:            os.Getenv("BIOMETRIC_SERVICE_URL"),
			BiometricThreshold:      envFloat("BIOMETRIC_THRESHOLD", 0.85),
			WebAuthnRPID:            os.Getenv("WEBAUTHN_RP_ID"),
			WebAuthnRPOrigins:       envList("WEBAUTHN_RP_ORIGINS"),
			WebAuthnRPDisplayName:   envString("WEBAUTHN_RP_DISPLAY_NAME", "Union Voting"),
		},
		Logging: Logging{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
			File:   os.Getenv("LOG_FILE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Voting.BallotTokenSecret == "" {
		return fmt.Errorf("BALLOT_TOKEN_SECRET is required")
	}
	if c.Voting.VerificationDigestKey == "" {
		return fmt.Errorf("VERIFICATION_DIGEST_KEY is required")
	}
	if c.Voting.VerificationDigestKey == c.Voting.BallotTokenSecret {
		return fmt.Errorf("VERIFICATION_DIGEST_KEY must differ from BALLOT_TOKEN_SECRET")
	}
	if c.Voting.DefaultConfidenceLevel != 95 && c.Voting.DefaultConfidenceLevel != 99 {
		return fmt.Errorf("DEFAULT_CONFIDENCE_LEVEL must be 95 or 99, got %d", c.Voting.DefaultConfidenceLevel)
	}
	if c.Voting.MaxVerificationFailures <= 0 {
		return fmt.Errorf("VERIFICATION_MAX_FAILURES must be positive")
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "pgx" {
		return fmt.Errorf("DB_DRIVER must be postgres or pgx, got %q", c.Database.Driver)
	}
	if c.Voting.TabulationRetries <= 0 {
		return fmt.Errorf("TABULATION_RETRIES must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
