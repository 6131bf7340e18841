package postgresrepo

import (
	"errors"
	"fmt"

	"loyalty-ledger/internal/models"

	"github.com/lib/pq"
)

const (
	codeUniqueViolation  = "23505"
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeSerialization    = "40001"
)

// mapError translates driver errors into domain errors. onDuplicate is returned for
// unique violations when set.
func mapError(err error, onDuplicate error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeLockNotAvailable, codeDeadlock, codeSerialization:
		return fmt.Errorf("%w: %s", models.ErrContention, pqErr.Message)
	case codeUniqueViolation:
		if onDuplicate != nil {
			return onDuplicate
		}
	}
	return err
}
