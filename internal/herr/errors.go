// Package herr defines the error kinds shared across the bot core.
//
// Every package surfaces failures as one of these sentinels (possibly
// wrapped with fmt.Errorf + %w) so that callers can branch on kind with
// errors.Is without depending on concrete types.
package herr

import "errors"

// ErrValidation marks bad user input. Commands translate it into a
// localized message; the caller retries with corrected input.
var ErrValidation = errors.New("validation error")

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden marks a permission failure on the chat platform.
var ErrForbidden = errors.New("forbidden")

// ErrTransient marks a failure worth retrying with backoff (network
// errors, 5xx-equivalents, rate-limit signals).
var ErrTransient = errors.New("transient failure")

// ErrCircuitOpen is returned by the store gateway while its circuit
// breaker is open. No store round-trip was attempted.
var ErrCircuitOpen = errors.New("circuit open")

// ErrStoreTimeout marks a store call that exceeded its deadline.
var ErrStoreTimeout = errors.New("store timeout")

// ErrConstraint marks a duplicate-key or foreign-key violation. Loops
// log it at WARNING and continue.
var ErrConstraint = errors.New("constraint violation")

// ErrPoolExhausted is returned when no connection could be acquired
// within the configured wait.
var ErrPoolExhausted = errors.New("connection pool exhausted")

// ErrCooldown is returned when the global command bucket or a
// per-admin cooldown rejects an invocation.
var ErrCooldown = errors.New("cooldown active")

// ErrMalformedRow flags a store row whose JSON payload failed strict
// validation. The row needs manual repair; loaders never coerce it.
var ErrMalformedRow = errors.New("malformed row")

// Transient reports whether err should be retried by the resilience
// envelope. Context cancellation is never transient.
func Transient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrStoreTimeout)
}
