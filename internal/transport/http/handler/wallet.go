package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/sirupsen/logrus"
)

type Wallet struct {
	base
	walletService   *services.WalletService
	ledgerService   *services.LedgerService
	referralService *services.ReferralService
}

func NewWallet(mux *http.ServeMux, walletService *services.WalletService, ledgerService *services.LedgerService, referralService *services.ReferralService, log logrus.FieldLogger) *Wallet {
	h := &Wallet{
		base:            newBase(log),
		walletService:   walletService,
		ledgerService:   ledgerService,
		referralService: referralService,
	}

	mux.HandleFunc("POST "+apiPrefix+"/wallets", h.createWallet)
	mux.HandleFunc("GET "+apiPrefix+"/wallet", h.getWallet)
	mux.HandleFunc("GET "+apiPrefix+"/wallet/ledger", h.getLedger)
	mux.HandleFunc("POST "+apiPrefix+"/wallet/deposit", h.deposit)
	mux.HandleFunc("POST "+apiPrefix+"/wallet/withdraw", h.withdraw)
	mux.HandleFunc("POST "+apiPrefix+"/wallet/generate", h.generateCode)
	mux.HandleFunc("POST "+apiPrefix+"/wallet/apply", h.applyCode)
	mux.HandleFunc("GET "+apiPrefix+"/wallet/my_referrals", h.myReferrals)
	mux.HandleFunc("GET "+apiPrefix+"/wallet/rewards", h.rewards)

	return h
}

// @Summary Register a wallet
// @Description Creates the caller's wallet funded with the tier's initial loyalty allocation
// @Tags wallets
// @Accept json
// @Produce json
// @Param request body models.RegisterWalletRequest true "Account type"
// @Success 201 {object} models.WalletBalanceResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /wallets [post]
func (h *Wallet) createWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.RegisterWalletRequest
	if !h.decode(w, r, &req) {
		return
	}

	wallet, err := h.walletService.Register(r.Context(), actor.UserID, models.AccountType(req.AccountType))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, h.walletService.Snapshot(wallet))
}

// @Summary Get wallet balance
// @Description Returns both balances, the initial allocation and the current selling power
// @Tags wallets
// @Produce json
// @Success 200 {object} models.WalletBalanceResponse
// @Failure 404 {object} middleware.ErrorResponse
// @Router /wallet [get]
func (h *Wallet) getWallet(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	balance, err := h.walletService.GetBalance(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, balance)
}

// @Summary Get wallet ledger
// @Description Ledger entries in commit order, optionally filtered
// @Tags wallets
// @Produce json
// @Param reason query string false "Comma separated reasons"
// @Param currency query string false "FIAT or LOYALTY"
// @Param from query string false "RFC3339 time or YYYY-MM-DD"
// @Param to query string false "RFC3339 time or YYYY-MM-DD"
// @Success 200 {object} models.LedgerResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Router /wallet/ledger [get]
func (h *Wallet) getLedger(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	filter, err := parseLedgerFilter(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ledgerService.HistoryForUser(r.Context(), actor.UserID, filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.LedgerResponse{Ledger: entries})
}

// @Summary Deposit fiat
// @Description Credits fiat after the payment gateway verifies the reference
// @Tags wallets
// @Accept json
// @Produce json
// @Param request body models.DepositRequest true "Deposit"
// @Success 200 {object} models.WalletBalanceResponse
// @Failure 402 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /wallet/deposit [post]
func (h *Wallet) deposit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.DepositRequest
	if !h.decode(w, r, &req) {
		return
	}

	wallet, err := h.walletService.Deposit(r.Context(), actor.UserID, req.Amount, req.PaymentReference)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.walletService.Snapshot(wallet))
}

// @Summary Withdraw fiat
// @Description Pays fiat out to a bank account once the initial allocation has been spent on purchases.
// @Description A payout whose outcome is not yet known is answered with 202 and settled later.
// @Tags wallets
// @Accept json
// @Produce json
// @Param request body models.WithdrawRequest true "Withdrawal"
// @Success 200 {object} models.WithdrawResponse
// @Success 202 {object} models.WithdrawResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 403 {object} middleware.ErrorResponse
// @Failure 422 {object} middleware.ErrorResponse
// @Failure 502 {object} middleware.ErrorResponse
// @Router /wallet/withdraw [post]
func (h *Wallet) withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.walletService.Withdraw(r.Context(), actor.UserID, req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if resp.Status == models.WithdrawalStatusPending {
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

// @Summary Generate referral code
// @Tags referrals
// @Produce json
// @Success 200 {object} models.ReferralCodeResponse
// @Router /wallet/generate [post]
func (h *Wallet) generateCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	code, err := h.referralService.GenerateCode(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.ReferralCodeResponse{Code: code})
}

// @Summary Apply referral code
// @Tags referrals
// @Accept json
// @Produce json
// @Param request body models.ApplyReferralRequest true "Referral code"
// @Success 200 {object} models.StatusResponse
// @Failure 400 {object} middleware.ErrorResponse
// @Failure 409 {object} middleware.ErrorResponse
// @Router /wallet/apply [post]
func (h *Wallet) applyCode(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req models.ApplyReferralRequest
	if !h.decode(w, r, &req) {
		return
	}

	if _, err := h.referralService.Apply(r.Context(), actor.UserID, req.ReferralCode); err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, models.StatusResponse{Status: "applied", Message: models.MessageReferralApplied})
}

// @Summary List my referrals
// @Tags referrals
// @Produce json
// @Success 200 {array} models.Referral
// @Router /wallet/my_referrals [get]
func (h *Wallet) myReferrals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	referrals, err := h.referralService.MyReferrals(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, referrals)
}

// @Summary Referral rewards
// @Tags referrals
// @Produce json
// @Success 200 {object} models.RewardsResponse
// @Router /wallet/rewards [get]
func (h *Wallet) rewards(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rewards, err := h.referralService.Rewards(r.Context(), actor.UserID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rewards)
}

func parseLedgerFilter(r *http.Request) (models.LedgerFilter, error) {
	q := r.URL.Query()
	var filter models.LedgerFilter

	if raw := strings.TrimSpace(q.Get("currency")); raw != "" {
		filter.Currency = models.Currency(strings.ToUpper(raw))
		if !filter.Currency.Valid() {
			return filter, fmt.Errorf("unknown currency %q", raw)
		}
	}
	for _, raw := range q["reason"] {
		for _, reason := range strings.Split(raw, ",") {
			if reason = strings.TrimSpace(reason); reason != "" {
				filter.Reasons = append(filter.Reasons, models.Reason(strings.ToUpper(reason)))
			}
		}
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from"), false); err != nil {
		return filter, fmt.Errorf("invalid from: %w", err)
	}
	if filter.To, err = parseTimeParam(q.Get("to"), true); err != nil {
		return filter, fmt.Errorf("invalid to: %w", err)
	}
	return filter, nil
}

// parseTimeParam accepts RFC3339 or a bare date. A bare upper bound covers the whole day.
func parseTimeParam(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
