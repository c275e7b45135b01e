package ports

import (
	"errors"
	"fmt"
)

// ErrPageNotFound is returned by Publisher.Read for a missing page.
var ErrPageNotFound = errors.New("page not found")

// ValidationError rejects input before any external call is made.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// LedgerError wraps a storage-layer failure. Fatal during setup, logged and
// skipped per message in steady state.
type LedgerError struct {
	Op  string
	Err error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error { return e.Err }

// GatewayError is an analysis transport or parse failure. Raw keeps the
// upstream response for diagnostics.
type GatewayError struct {
	Reason string
	Status int
	Raw    string
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("analysis gateway: %s (status %d)", e.Reason, e.Status)
	}
	return "analysis gateway: " + e.Reason
}

func (e *GatewayError) Unwrap() error { return e.Err }

// PublicationError is a document-store failure for a specific title.
type PublicationError struct {
	Title string
	Err   error
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("publish %q: %v", e.Title, e.Err)
}

func (e *PublicationError) Unwrap() error { return e.Err }
