package exchange

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSettlementFailed = errors.New("settlement failed")
	ErrMatchingFailed   = errors.New("matching failed")
	ErrNotOwner         = errors.New("order not owned by user")
)

// MatchingError reports a pass that stopped after a crossing pair was found
// and storage failed. When SettlementRef is set the trade was settled
// externally without a local record and must be reconciled.
type MatchingError struct {
	OrderID       uuid.UUID
	SettlementRef string
	Err           error
}

func (e *MatchingError) Error() string {
	if e.SettlementRef != "" {
		return fmt.Sprintf("matching failed for order %s (settlement %s): %v", e.OrderID, e.SettlementRef, e.Err)
	}
	return fmt.Sprintf("matching failed for order %s: %v", e.OrderID, e.Err)
}

func (e *MatchingError) Unwrap() []error {
	return []error{ErrMatchingFailed, e.Err}
}
