// Package app assembles the voting services from configuration. The HTTP
// server and the operator CLI share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"unionvote/internal/member/store"
	"unionvote/internal/platform/config"
	"unionvote/internal/platform/kafka"
	"unionvote/internal/platform/postgres"
	"unionvote/internal/platform/redis"
	"unionvote/internal/voting/eligibility"
	"unionvote/internal/voting/events"
	"unionvote/internal/voting/ledger"
	"unionvote/internal/voting/lifecycle"
	"unionvote/internal/voting/metrics"
	"unionvote/internal/voting/models"
	"unionvote/internal/voting/ports"
	"unionvote/internal/voting/store/ballot"
	"unionvote/internal/voting/store/instance"
	"unionvote/internal/voting/store/result"
	"unionvote/internal/voting/store/txrunner"
	"unionvote/internal/voting/tabulation"
	"unionvote/internal/voting/verification"
	"unionvote/internal/voting/verification/attempts"
	"unionvote/internal/voting/verification/credentials"
	id "unionvote/pkg/domain"
	"unionvote/pkg/platform/audit"
	auditpublisher "unionvote/pkg/platform/audit/publisher"
	auditmemory "unionvote/pkg/platform/audit/store/memory"
	auditpostgres "unionvote/pkg/platform/audit/store/postgres"
	"unionvote/pkg/platform/circuit"
)

const auditBufferSize = 1024

type instanceStore interface {
	lifecycle.InstanceStore
	ledger.InstanceStore
	tabulation.InstanceStore
	eligibility.InstanceReader
}

type ballotStore interface {
	lifecycle.BallotAnonymizer
	ledger.BallotStore
	tabulation.BallotReader
	eligibility.BallotReader
}

type txRunner interface {
	RunInTx(ctx context.Context, votingID id.VotingID, mode txrunner.Mode, fn func(ctx context.Context) error) error
}

// App holds the wired services and the resources they own.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Registry    *prometheus.Registry
	Lifecycle   *lifecycle.Service
	Ledger      *ledger.Service
	Eligibility *eligibility.Service
	Tabulation  *tabulation.Service
	Passkeys    *verification.PasskeyOracle

	db      *sql.DB
	redis   *redis.Client
	kafka   *kgo.Client
	audit   *auditpublisher.Publisher
	closers []func()
}

// New connects to the configured backends and builds the services. An empty
// DATABASE_URL runs on in-memory stores.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger
	votingMetrics := metrics.New(a.Registry)

	var (
		instances instanceStore
		ballots   ballotStore
		results   tabulation.ResultStore
		tx        txRunner
		directory ports.MemberDirectory
		creds     verification.CredentialStore
		auditSink audit.Store
	)
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		a.db = db
		a.closers = append(a.closers, func() { _ = db.Close() })
		if cfg.Database.AutoMigrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				return err
			}
		}
		instances = instance.NewPostgresStore(db)
		ballots = ballot.NewPostgresStore(db)
		results = result.NewPostgresStore(db)
		tx = txrunner.NewPostgres(db, txrunner.WithPostgresTimeout(cfg.Voting.TxTimeout))
		directory = store.NewPostgresDirectory(db)
		creds = credentials.NewPostgresStore(db)
		auditSink = auditpostgres.New(db)
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		instances = instance.NewInMemoryStore()
		ballots = ballot.NewInMemoryStore()
		results = result.NewInMemoryStore()
		tx = txrunner.NewMemory(txrunner.WithMemoryTimeout(cfg.Voting.TxTimeout))
		directory = store.NewInMemoryDirectory()
		creds = credentials.NewInMemoryStore()
		auditSink = auditmemory.NewInMemoryStore()
	}

	a.audit = auditpublisher.NewPublisher(auditSink,
		auditpublisher.WithAsyncBuffer(auditBufferSize),
		auditpublisher.WithLogger(logger),
	)
	a.closers = append(a.closers, a.audit.Close)

	publisher, err := a.eventPublisher(ctx)
	if err != nil {
		return err
	}

	var attemptStore verification.AttemptStore = attempts.NewInMemoryStore()
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		a.redis = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
		attemptStore = attempts.NewRedisStore(rc.Client)
	}
	limiter, err := verification.NewLimiter(attemptStore,
		verification.WithLimiterConfig(verification.LimiterConfig{
			MaxFailures: cfg.Voting.MaxVerificationFailures,
			Window:      cfg.Voting.FailureWindow,
			Lockout:     cfg.Voting.LockoutDuration,
		}),
		verification.WithLimiterLogger(logger),
		verification.WithLimiterAuditPublisher(a.audit),
	)
	if err != nil {
		return err
	}

	oracles, err := a.oracles(directory, creds)
	if err != nil {
		return err
	}
	gateway, err := verification.NewGateway(oracles, cfg.Voting.VerificationDigestKey,
		verification.WithLimiter(limiter),
		verification.WithTimeout(cfg.Voting.VerificationTimeout),
		verification.WithLogger(logger),
		verification.WithAuditPublisher(a.audit),
		verification.WithMetrics(votingMetrics),
	)
	if err != nil {
		return err
	}

	a.Eligibility, err = eligibility.New(instances, ballots, directory, cfg.Voting.BallotTokenSecret,
		eligibility.WithLogger(logger))
	if err != nil {
		return err
	}
	a.Tabulation, err = tabulation.New(instances, ballots, results, a.Eligibility, tx,
		tabulation.WithLogger(logger),
		tabulation.WithAuditPublisher(a.audit),
		tabulation.WithMetrics(votingMetrics),
		tabulation.WithRetries(cfg.Voting.TabulationRetries),
	)
	if err != nil {
		return err
	}
	a.Ledger, err = ledger.New(instances, ballots, a.Eligibility, gateway, tx,
		ledger.WithLogger(logger),
		ledger.WithAuditPublisher(a.audit),
		ledger.WithMetrics(votingMetrics),
		ledger.WithTabulator(a.Tabulation),
		ledger.WithIPSalt(cfg.Voting.IPHashSalt),
	)
	if err != nil {
		return err
	}
	a.Lifecycle, err = lifecycle.New(instances, ballots, a.Tabulation, tx,
		lifecycle.WithLogger(logger),
		lifecycle.WithAuditPublisher(a.audit),
		lifecycle.WithMetrics(votingMetrics),
		lifecycle.WithEventPublisher(publisher),
		lifecycle.WithSweepParallelism(cfg.Voting.SweepParallelism),
	)
	return err
}

// eventPublisher logs every lifecycle event and, with brokers configured,
// also produces it to Kafka.
func (a *App) eventPublisher(ctx context.Context) (events.Publisher, error) {
	sinks := events.Fanout{events.NewLogPublisher(a.Logger)}
	client, err := kafka.NewClient(ctx, a.Config.Kafka)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return sinks, nil
	}
	a.kafka = client
	a.closers = append(a.closers, client.Close)
	if err := kafka.EnsureTopic(ctx, client, a.Config.Kafka, a.Logger); err != nil {
		return nil, err
	}
	return append(sinks, events.NewKafkaPublisher(client, a.Config.Kafka.Topic)), nil
}

// oracles routes password checks to the member directory and biometric
// checks to passkeys when a relying party is configured, otherwise to the
// remote biometric service.
func (a *App) oracles(directory ports.MemberDirectory, creds verification.CredentialStore) (*verification.Router, error) {
	v := a.Config.Voting
	router := verification.NewRouter().
		Register(models.VerificationPassword, verification.NewPasswordOracle(directory))

	switch {
	case v.WebAuthnRPID != "":
		passkeys, err := verification.NewPasskeyOracle(verification.PasskeyConfig{
			RPID:          v.WebAuthnRPID,
			RPDisplayName: v.WebAuthnRPDisplayName,
			RPOrigins:     v.WebAuthnRPOrigins,
		}, directory, creds)
		if err != nil {
			return nil, fmt.Errorf("configure passkeys: %w", err)
		}
		a.Passkeys = passkeys
		router.Register(models.VerificationBiometric, passkeys)
	case v.BiometricURL != "":
		router.Register(models.VerificationBiometric, verification.NewBiometricClient(v.BiometricURL, v.BiometricThreshold,
			verification.WithBreaker(circuit.New("biometric")),
		))
	default:
		a.Logger.Warn("no biometric verifier configured; biometric votings will reject ballots")
	}
	return router, nil
}

// AuditPublisher is the sink for audit events raised outside the services.
func (a *App) AuditPublisher() ports.AuditPublisher { return a.audit }

// Ready pings the backends the app was built with.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.PingContext(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Health(ctx))
	}
	if a.kafka != nil {
		errs = append(errs, a.kafka.Ping(ctx))
	}
	return errors.Join(errs...)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
