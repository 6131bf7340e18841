package handler

import (
	"context"
	"net/http"

	_ "loyalty-ledger/docs"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"
	"loyalty-ledger/internal/transport/http/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Services struct {
	Wallet       *services.WalletService
	Ledger       *services.LedgerService
	Referral     *services.ReferralService
	Order        *services.OrderService
	Product      *services.ProductService
	Exchange     *services.ExchangeService
	Admin        *services.AdminService
	Notification *services.NotificationService
}

type RouterConfig struct {
	Auth      middleware.AuthConfig
	RateLimit float64
	RateBurst int
	// Ready is probed by /health when set.
	Ready func(ctx context.Context) error
}

// NewRouter mounts the authenticated API under /api/v1 next to the public health,
// metrics and swagger endpoints.
func NewRouter(svc Services, cfg RouterConfig, log logrus.FieldLogger) http.Handler {
	api := http.NewServeMux()
	NewWallet(api, svc.Wallet, svc.Ledger, svc.Referral, log)
	NewOrder(api, svc.Order, log)
	NewProduct(api, svc.Product, log)
	NewExchange(api, svc.Exchange, log)
	NewAdmin(api, svc.Admin, svc.Wallet, svc.Ledger, svc.Notification, log)

	auth := middleware.NewAuthenticator(cfg.Auth, log)
	limiter := middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	protected := auth.Middleware(limiter.Middleware(middleware.Route(api)))

	root := http.NewServeMux()
	root.Handle(apiPrefix+"/", protected)
	root.HandleFunc("GET /health", health(cfg.Ready))
	root.Handle("GET /metrics", promhttp.Handler())
	root.Handle("/swagger/", httpSwagger.WrapHandler)

	return middleware.Logging(log)(root)
}

func health(ready func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				middleware.WriteError(w, http.StatusServiceUnavailable, err.Error(), true)
				return
			}
		}
		base{}.writeJSON(w, http.StatusOK, models.StatusResponse{Status: "ok"})
	}
}
