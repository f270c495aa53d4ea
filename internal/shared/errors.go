package shared

import (
	"fmt"

	"github.com/odyssey-erp/fulfillment/internal/platform/httpx"
)

var (
	// ErrInvalidTransition occurs when a document status change is not allowed.
	ErrInvalidTransition = fmt.Errorf("invalid status transition: %w", httpx.ErrConflict)
	// ErrSubmissionInProgress occurs when another submission holds the invoice lock.
	ErrSubmissionInProgress = fmt.Errorf("submission already in progress: %w", httpx.ErrConflict)
	// ErrUnauthenticated occurs when the request carries no principal.
	ErrUnauthenticated = fmt.Errorf("no principal on request: %w", httpx.ErrUnauthorized)
)
