package app

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"loyalty-ledger/internal/broker"
	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/services"
	"loyalty-ledger/internal/worker"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Worker consumes wallet events into the balance cache and the notification inbox,
// expires unpaid orders and settles payouts with an unknown outcome.
type Worker struct {
	cfg              *config.Config
	log              *logrus.Logger
	infra            *infra
	group            sarama.ConsumerGroup
	partitionManager *worker.PartitionManager
	sweeper          *worker.OrderSweeper
	reconciler       *worker.PayoutReconciler
}

func NewWorker() (*Worker, error) {
	a := new(Worker)

	// Initialize config
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	a.cfg = cfg
	a.log = logger.New(cfg.Log)

	a.infra, err = newInfra(cfg, a.log)
	if err != nil {
		return nil, err
	}
	deps := a.infra.deps

	// Initialize services
	referralService := services.NewReferralService(deps, services.NewLedgerService(deps))
	orderService := services.NewOrderService(deps, referralService)
	a.sweeper = worker.NewOrderSweeper(orderService, cfg.Worker.PendingOrderTTL, cfg.Worker.SweepInterval, a.log)
	a.reconciler = worker.NewPayoutReconciler(services.NewWalletService(deps),
		cfg.Worker.WithdrawalSettleAfter, cfg.Worker.SettleInterval, a.log)

	// Partition Manager
	if cfg.Kafka.Enabled() {
		a.group, err = broker.NewConsumerGroup(cfg.Kafka)
		if err != nil {
			a.infra.Close()
			return nil, fmt.Errorf("broker connection error: %w", err)
		}
		a.partitionManager = worker.NewPartitionManager(a.group, cfg.Kafka.Topic, cfg.Worker.ProcessingInterval,
			services.NewProjectionService(deps), a.log)
	} else {
		a.log.Warn("kafka is not configured, wallet events will not be consumed")
	}

	return a, nil
}

func (a *Worker) Run() error {
	defer a.infra.Close()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.sweeper.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		a.reconciler.Run(ctx)
	}()

	var err error
	if a.partitionManager != nil {
		err = a.partitionManager.Start(ctx)
		if closeErr := a.group.Close(); closeErr != nil {
			a.log.WithError(closeErr).Warn("consumer group close failed")
		}
		stop()
	} else {
		<-ctx.Done()
	}

	if err == nil {
		a.log.Info("received shutdown signal")
	}
	wg.Wait()
	return err
}
