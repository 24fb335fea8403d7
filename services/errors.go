package services

import (
	"errors"
	"fmt"
)

// Reason is the stable, caller-facing code attached to every engine failure.
type Reason string

const (
	// validation
	ReasonInvalidMaxUses Reason = "invalid_max_uses"
	ReasonInvalidExpiry  Reason = "invalid_expires_in_days"
	ReasonInvalidCount   Reason = "invalid_count"
	ReasonInvalidCode    Reason = "invalid_code"
	ReasonInvalidStatus  Reason = "invalid_status"
	ReasonInvalidLevel   Reason = "invalid_level"
	ReasonInvalidEXP     Reason = "invalid_exp"
	ReasonInvalidBadge   Reason = "invalid_badge"
	ReasonUnknownAction  Reason = "unknown_action"
	ReasonUnknownBadge   Reason = "unknown_badge"

	// state conflicts
	ReasonNotFound          Reason = "not_found"
	ReasonRevoked           Reason = "revoked"
	ReasonExpired           Reason = "expired"
	ReasonExhausted         Reason = "exhausted"
	ReasonNotRevoked        Reason = "not_revoked"
	ReasonCodeTaken         Reason = "code_taken"
	ReasonDailyLimitReached Reason = "daily_limit_reached"
	ReasonAlreadyHeld       Reason = "already_held"
	ReasonNotHeld           Reason = "not_held"
	ReasonBadgeExists       Reason = "badge_exists"
)

// Failure is an expected, typed outcome. Store errors are never wrapped in
// a Failure; they surface as plain errors.
type Failure struct {
	Op     string
	Reason Reason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", f.Op, f.Reason, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Op, f.Reason)
}

// Is matches any *Failure carrying the same Reason, so the sentinels below
// work with errors.Is regardless of Op/Detail.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Reason == f.Reason
}

func fail(op string, reason Reason, detail string) *Failure {
	return &Failure{Op: op, Reason: reason, Detail: detail}
}

var (
	ErrNotFound          = &Failure{Reason: ReasonNotFound}
	ErrRevoked           = &Failure{Reason: ReasonRevoked}
	ErrExpired           = &Failure{Reason: ReasonExpired}
	ErrExhausted         = &Failure{Reason: ReasonExhausted}
	ErrNotRevoked        = &Failure{Reason: ReasonNotRevoked}
	ErrDailyLimitReached = &Failure{Reason: ReasonDailyLimitReached}
	ErrUnknownAction     = &Failure{Reason: ReasonUnknownAction}
	ErrUnknownBadge      = &Failure{Reason: ReasonUnknownBadge}
	ErrAlreadyHeld       = &Failure{Reason: ReasonAlreadyHeld}
	ErrNotHeld           = &Failure{Reason: ReasonNotHeld}
)

// ReasonOf extracts the Reason of a Failure anywhere in err's chain.
func ReasonOf(err error) (Reason, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason, true
	}
	return "", false
}

// IsValidation reports whether the reason is an input validation failure.
func (r Reason) IsValidation() bool {
	switch r {
	case ReasonInvalidMaxUses, ReasonInvalidExpiry, ReasonInvalidCount, ReasonInvalidCode, ReasonInvalidStatus,
		ReasonInvalidLevel, ReasonInvalidEXP, ReasonInvalidBadge, ReasonUnknownAction, ReasonUnknownBadge:
		return true
	}
	return false
}
