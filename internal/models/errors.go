package models

import "errors"

var (
	ErrInvalidAmount             = errors.New("amount must be positive")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrInvalidState              = errors.New("invalid state transition")
	ErrContention                = errors.New("resource busy, retry later")
	ErrValidation                = errors.New("validation error")
	ErrExternalService           = errors.New("external service failure")
	ErrPaymentVerificationFailed = errors.New("payment verification failed")
	// ErrPayoutRejected means the provider did not start the transfer, so no money moved.
	ErrPayoutRejected = errors.New("payout rejected")

	ErrNotFound           = errors.New("not found")
	ErrWalletNotFound     = notFound("wallet not found")
	ErrOrderNotFound      = notFound("order not found")
	ErrListingNotFound    = notFound("listing not found")
	ErrProductNotFound    = notFound("product not found")
	ErrWithdrawalNotFound = notFound("withdrawal not found")

	ErrInvalidQuantity         = validation("quantity must be at least 1")
	ErrSelfDealing             = validation("buyer and seller must differ")
	ErrSellingCapacityExceeded = validation("price exceeds selling power")
	ErrWalletExists            = validation("wallet already exists")
	ErrDuplicateReference      = validation("payment reference already used")
	ErrUnsupportedAccountType  = validation("unsupported account type")
	ErrInvalidCode             = validation("invalid referral code")
	ErrWithdrawalLocked        = validation("initial allocation not yet spent")
	ErrListingAlreadySold      = errors.New("listing already sold")
	ErrReferralAlreadyApplied  = errors.New("referral already applied")
	ErrForbidden               = errors.New("forbidden")
	ErrAccountFrozen           = forbidden("account is frozen")
)

// kindError keeps the specific message while matching its family with errors.Is.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func notFound(msg string) error   { return &kindError{msg: msg, kind: ErrNotFound} }
func validation(msg string) error { return &kindError{msg: msg, kind: ErrValidation} }
func forbidden(msg string) error  { return &kindError{msg: msg, kind: ErrForbidden} }

// IsRetryable reports whether the caller may safely retry the same request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrExternalService)
}
