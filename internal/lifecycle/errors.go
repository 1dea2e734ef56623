// Package lifecycle holds the transition rules shared by every store
// implementation: shift gating, route status changes, stop updates and
// incident resolution. Functions here are pure; callers apply them under
// their own lock or transaction.
package lifecycle

import "errors"

// Sentinel errors. Guards wrap them with a human readable detail.
var (
    ErrNotFound     = errors.New("not found")
    ErrInvalid      = errors.New("invalid request")
    ErrForbidden    = errors.New("forbidden")
    ErrConflict     = errors.New("conflict")
    ErrPrecondition = errors.New("precondition failed")
)
