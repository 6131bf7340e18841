package app

import (
	"context"
	"fmt"

	"loyalty-ledger/internal/broker"
	"loyalty-ledger/internal/cache"
	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/database"
	"loyalty-ledger/internal/payment"
	"loyalty-ledger/internal/repositories/kafkarepo"
	"loyalty-ledger/internal/repositories/memoryrepo"
	"loyalty-ledger/internal/repositories/postgresrepo"
	"loyalty-ledger/internal/repositories/redisrepo"
	"loyalty-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

// infra holds the connections shared by both binaries and closes them in reverse order.
type infra struct {
	deps    *services.Deps
	ready   func(ctx context.Context) error
	closers []func() error
}

func newInfra(cfg *config.Config, log *logrus.Logger) (*infra, error) {
	in := &infra{
		deps: &services.Deps{
			Payments: payment.NewPaystack(cfg.Paystack),
			Economy:  cfg.Economy,
			Logger:   log,
		},
	}

	// Storage
	switch cfg.Server.StorageDriver {
	case "memory":
		log.Warn("using in-memory storage, state is lost on restart")
		in.deps.Store = memoryrepo.New(cfg.Server.LockTimeout)
	default:
		db, err := database.NewPostgres(cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("database connection error: %w", err)
		}
		in.closers = append(in.closers, db.Close)
		if err := database.Migrate(db); err != nil {
			in.Close()
			return nil, fmt.Errorf("database migration error: %w", err)
		}
		in.deps.Store = postgresrepo.NewWalletRepo(db, cfg.Server.LockTimeout)
		in.ready = func(ctx context.Context) error { return db.PingContext(ctx) }
	}

	// Cache
	if cfg.Redis.Addr != "" {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("cache connection error: %w", err)
		}
		in.closers = append(in.closers, client.Close)
		in.deps.Cache = redisrepo.NewWalletRepository(client)
	}

	// Broker
	if cfg.Kafka.Enabled() {
		writer, err := broker.NewKafkaWriter(cfg.Kafka)
		if err != nil {
			in.Close()
			return nil, fmt.Errorf("broker connection error: %w", err)
		}
		in.closers = append(in.closers, writer.Close)
		in.deps.Events = kafkarepo.NewEventRepository(writer)
	}

	log.WithFields(logrus.Fields{
		"storage": cfg.Server.StorageDriver,
		"cache":   in.deps.Cache != nil,
		"events":  in.deps.Events != nil,
	}).Info("infrastructure ready")

	return in, nil
}

func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			in.deps.Logger.WithError(err).Warn("close failed")
		}
	}
	in.closers = nil
}
