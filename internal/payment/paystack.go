package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"loyalty-ledger/internal/config"
	"loyalty-ledger/internal/models"
	"loyalty-ledger/internal/services"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

var errNotFound = errors.New("paystack: not found")

// apiError is a request Paystack answered and refused.
type apiError struct {
	path    string
	status  int
	message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("paystack %s failed: status=%d message=%q", e.path, e.status, e.message)
}

// Paystack implements services.PaymentGateway against the Paystack REST API.
// Amounts on the wire are in kobo.
type Paystack struct {
	baseURL    string
	secret     string
	http       *http.Client
	maxRetries uint64
	backoff    time.Duration
}

var _ services.PaymentGateway = (*Paystack)(nil)

func NewPaystack(cfg config.PaystackConfig) *Paystack {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Paystack{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.SecretKey,
		http:       &http.Client{Timeout: timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    200 * time.Millisecond,
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transaction struct {
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// VerifyPayment reports whether reference is a successful charge of at least amount.
func (p *Paystack) VerifyPayment(ctx context.Context, reference string, amount decimal.Decimal) (bool, error) {
	var tx transaction
	err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &tx)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if tx.Status != "success" {
		return false, nil
	}
	return tx.Amount >= toKobo(amount), nil
}

// Payout resolves the account, registers it as a transfer recipient and starts a
// transfer under reference. Paystack rejects a reused reference, so retries of the
// transfer request are never paid twice.
func (p *Paystack) Payout(ctx context.Context, reference, bankCode, accountNumber string, amount decimal.Decimal) (string, error) {
	var account struct {
		AccountName string `json:"account_name"`
	}
	query := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}
	if err := p.do(ctx, http.MethodGet, "/bank/resolve?"+query.Encode(), nil, &account); err != nil {
		return "", fmt.Errorf("%w: resolve account: %v", models.ErrPayoutRejected, err)
	}

	var recipient struct {
		RecipientCode string `json:"recipient_code"`
	}
	err := p.do(ctx, http.MethodPost, "/transferrecipient", map[string]string{
		"type":           "nuban",
		"name":           account.AccountName,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}, &recipient)
	if err != nil {
		return "", fmt.Errorf("%w: create recipient: %v", models.ErrPayoutRejected, err)
	}

	var transfer struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
	}
	err = p.do(ctx, http.MethodPost, "/transfer", map[string]interface{}{
		"source":    "balance",
		"amount":    toKobo(amount),
		"recipient": recipient.RecipientCode,
		"reason":    "Wallet withdrawal",
		"reference": reference,
	}, &transfer)
	if err == nil {
		return transfer.TransferCode, nil
	}

	// A refusal is only final when Paystack holds no live transfer under the reference:
	// an earlier attempt may have timed out after the transfer was created.
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		state, statusErr := p.TransferStatus(ctx, reference)
		if statusErr == nil && (state == services.TransferUnknown || state == services.TransferFailed) {
			return "", fmt.Errorf("%w: initiate transfer: %v", models.ErrPayoutRejected, err)
		}
	}
	return "", fmt.Errorf("initiate transfer: %w", err)
}

// TransferStatus looks up a transfer by the reference given to Payout.
func (p *Paystack) TransferStatus(ctx context.Context, reference string) (services.TransferState, error) {
	var transfer struct {
		Status string `json:"status"`
	}
	err := p.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &transfer)
	if errors.Is(err, errNotFound) {
		return services.TransferUnknown, nil
	}
	if err != nil {
		return "", err
	}

	switch transfer.Status {
	case "success":
		return services.TransferSucceeded, nil
	case "failed", "reversed", "abandoned", "rejected":
		return services.TransferFailed, nil
	default:
		return services.TransferPending, nil
	}
}

func (p *Paystack) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("paystack: marshal request: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(p.maxRetries, retry.NewExponential(p.backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+p.secret)
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.http.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("paystack %s: %w", path, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return errNotFound
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("paystack %s failed: status=%d", path, resp.StatusCode))
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("paystack %s: read body: %w", path, err))
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return fmt.Errorf("paystack %s: decode response: %w", path, err)
		}
		if resp.StatusCode >= 300 || !env.Status {
			return &apiError{path: path, status: resp.StatusCode, message: env.Message}
		}
		if out != nil && len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return fmt.Errorf("paystack %s: decode data: %w", path, err)
			}
		}
		return nil
	})
}

func toKobo(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
