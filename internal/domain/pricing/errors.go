package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Validation errors. They are always answered as client errors and never
// repaired silently.
var (
	ErrInvalidItems        = errors.New("invalid items")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidPrice        = errors.New("invalid price")
	ErrInvalidProduct      = errors.New("invalid product")
	ErrInvalidSubtotal     = errors.New("invalid subtotal")
	ErrMissingDeliveryZone = errors.New("select a delivery zone")
	ErrTotalMismatch       = errors.New("order total does not match server calculation")
)

// ItemError describes which cart line failed validation.
type ItemError struct {
	Index     int
	ProductID string
	Err       error
}

func (e *ItemError) Error() string {
	if e.ProductID == "" {
		return fmt.Sprintf("item %d: %s", e.Index, e.Err)
	}
	return fmt.Sprintf("item %d (product %s): %s", e.Index, e.ProductID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
