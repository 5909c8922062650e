package session

import "errors"

var (
	ErrNotAuthenticated    = errors.New("session: not authenticated")
	ErrAuth                = errors.New("session: authentication failed")
	ErrOrderNotFound       = errors.New("session: order not found")
	ErrCorrelationConflict = errors.New("session: venue order id already paired with another own order id")
	ErrMissingOrderRef     = errors.New("session: ownOrderId or venueOrderId required")
	ErrInvalidOrder        = errors.New("session: invalid order")
)
