package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/logger"
	"loyalty-ledger/internal/services"
	"loyalty-ledger/internal/transport/http/handler"
	"loyalty-ledger/internal/transport/http/middleware"

	"github.com/sirupsen/logrus"
)

type App struct {
	cfg        *config.Config
	log        *logrus.Logger
	infra      *infra
	httpServer *http.Server
}

// @title Loyalty Ledger API
// @version 1.0
// @description Wallets, escrowed orders, the loyalty exchange and referrals.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func New() (*App, error) {
	a := new(App)

	// Initialize config
	cfg, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	a.cfg = cfg
	a.log = logger.New(cfg.Log)

	// Connect storage, cache and broker
	a.infra, err = newInfra(cfg, a.log)
	if err != nil {
		return nil, err
	}
	deps := a.infra.deps

	// Initialize services
	walletService := services.NewWalletService(deps)
	ledgerService := services.NewLedgerService(deps)
	referralService := services.NewReferralService(deps, ledgerService)
	adminService := services.NewAdminService(deps, walletService)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminService.EnsurePlatformWallet(ctx); err != nil {
		a.infra.Close()
		return nil, fmt.Errorf("platform wallet: %w", err)
	}

	// Initialize router and handlers
	router := handler.NewRouter(handler.Services{
		Wallet:       walletService,
		Ledger:       ledgerService,
		Referral:     referralService,
		Order:        services.NewOrderService(deps, referralService),
		Product:      services.NewProductService(deps),
		Exchange:     services.NewExchangeService(deps),
		Admin:        adminService,
		Notification: services.NewNotificationService(deps),
	}, handler.RouterConfig{
		Auth: middleware.AuthConfig{
			HMACSecret: cfg.Auth.JWTSecret,
			Issuer:     cfg.Auth.JWTIssuer,
		},
		RateLimit: cfg.Server.RateLimit,
		RateBurst: cfg.Server.RateBurst,
		Ready:     a.infra.ready,
	}, a.log)

	// Initialize http server
	a.httpServer = &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	return a, nil
}

// Run serves until SIGINT or SIGTERM, then drains in-flight requests.
func (a *App) Run() error {
	defer a.infra.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", a.cfg.Server.Port).Info("starting HTTP server")
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
