package handler

import (
	"net/http"
	"strconv"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

type Admin struct {
	base
	adminService        *services.AdminService
	walletService       *services.WalletService
	ledgerService       *services.LedgerService
	notificationService *services.NotificationService
}

func NewAdmin(mux *http.ServeMux, adminService *services.AdminService, walletService *services.WalletService, ledgerService *services.LedgerService, notificationService *services.NotificationService, log logrus.FieldLogger) *Admin {
	h := &Admin{
		base:                newBase(log),
		adminService:        adminService,
		walletService:       walletService,
		ledgerService:       ledgerService,
		notificationService: notificationService,
	}

	mux.HandleFunc("GET "+apiPrefix+"/notifications", h.notifications)
	mux.HandleFunc("GET "+apiPrefix+"/admin/summary", h.requireAdmin(h.summary))
	mux.HandleFunc("GET "+apiPrefix+"/admin/escrow_summary", h.requireAdmin(h.escrowSummary))
	mux.HandleFunc("POST "+apiPrefix+"/admin/adjust", h.requireAdmin(h.adjust))
	mux.HandleFunc("POST "+apiPrefix+"/admin/freeze", h.requireAdmin(h.freeze))
	mux.HandleFunc("GET "+apiPrefix+"/admin/reconcile/{userId}", h.requireAdmin(h.reconcile))

	return h
}

func (h *Admin) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := h.actor(w, r)
		if !ok {
			return
		}
		if !actor.Admin {
			h.writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next(w, r)
	}
}

// @Summary My notifications
// @Tags notifications
// @Produce json
// @Param limit query int false "Maximum entries (default 50, max 200)"
// @Success 200 {array} models.Notification
// @Router /notifications [get]
func (h *Admin) notifications(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	notifications, err := h.notificationService.List(r.Context(), actor.UserID, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, notifications)
}

// @Summary Platform summary
// @Description Totals across user wallets and the fees collected by the platform wallet
// @Tags admin
// @Produce json
// @Success 200 {object} models.PlatformSummary
// @Failure 403 {object} middleware.ErrorResponse
// @Router /admin/summary [get]
func (h *Admin) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.adminService.Summary(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// @Summary Escrow per seller
// @Description Value held in escrow for each seller's paid, undelivered orders
// @Tags admin
// @Produce json
// @Success 200 {array} models.SellerEscrow
// @Failure 403 {object} middleware.ErrorResponse
// @Router /admin/escrow_summary [get]
func (h *Admin) escrowSummary(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.adminService.EscrowSummary(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, escrow)
}

// @Summary Freeze or unfreeze a wallet
// @Tags admin
// @Accept json
// @Produce json
// @Param request body models.FreezeRequest true "Freeze"
// @Success 200 {object} models.StatusResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /admin/freeze [post]
func (h *Admin) freeze(w http.ResponseWriter, r *http.Request) {
	var req models.FreezeRequest
	if !h.decode(w, r, &req) {
		return
	}

	wallet, err := h.adminService.SetFrozen(r.Context(), req.UserID, req.Frozen)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := "active"
	if wallet.Frozen {
		status = "frozen"
	}
	h.writeJSON(w, http.StatusOK, models.StatusResponse{Status: status})
}

// @Summary Adjust a balance
// @Tags admin
// @Accept json
// @Produce json
// @Param request body models.AdminAdjustRequest true "Adjustment"
// @Success 200 {object} models.WalletBalanceResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 422 {object} middleware.ErrorResponse
// @Router /admin/adjust [post]
func (h *Admin) adjust(w http.ResponseWriter, r *http.Request) {
	var req models.AdminAdjustRequest
	if !h.decode(w, r, &req) {
		return
	}

	wallet, err := h.adminService.Adjust(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.walletService.Snapshot(wallet))
}

// @Summary Reconcile a wallet
// @Description Compares stored balances with the sum of the wallet's ledger
// @Tags admin
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} services.Reconciliation
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /admin/reconcile/{userId} [get]
func (h *Admin) reconcile(w http.ResponseWriter, r *http.Request) {
	rec, err := h.ledgerService.Reconcile(r.Context(), r.PathValue("userId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, struct {
		*services.Reconciliation
		Balanced bool `json:"balanced"`
	}{rec, rec.Balanced()})
}
