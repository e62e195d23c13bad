// Package errs defines the platform's error taxonomy as sentinel errors
// rather than a generic error-code enum. Components wrap these with
// fmt.Errorf("...: %w", err) at each boundary; callers test with errors.Is.
package errs

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrPlanNotFound     = errors.New("plan not found")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyExists    = errors.New("already exists")
	ErrTimeout          = errors.New("timed out")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrInternal         = errors.New("internal error")
	ErrDowngradeBlocked = errors.New("downgrade blocked")

	ErrSessionExpired      = errors.New("session expired")
	ErrSessionNotFound     = errors.New("session not found")
	ErrMessageLimitReached = errors.New("message limit reached")
	ErrTooManySessions     = errors.New("too many sessions")
	ErrFingerprintRequired = errors.New("fingerprint required")
	ErrUpgradeNotAllowed   = errors.New("upgrade not allowed")
	ErrAlreadyUpgraded     = errors.New("already upgraded")

	ErrInvalidCertificate  = errors.New("invalid certificate")
	ErrInvalidKey          = errors.New("invalid key")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrKeyNotFound         = errors.New("key not found")
)

// Code returns the stable machine-readable code for a taxonomy error, or
// "INTERNAL" if err doesn't match any known sentinel.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrPlanNotFound):
		return "PLAN_NOT_FOUND"
	case errors.Is(err, ErrQuotaExceeded):
		return "QUOTA_EXCEEDED"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrDowngradeBlocked):
		return "DOWNGRADE_BLOCKED"
	case errors.Is(err, ErrSessionExpired):
		return "SESSION_EXPIRED"
	case errors.Is(err, ErrSessionNotFound):
		return "SESSION_NOT_FOUND"
	case errors.Is(err, ErrMessageLimitReached):
		return "MESSAGE_LIMIT_REACHED"
	case errors.Is(err, ErrTooManySessions):
		return "TOO_MANY_SESSIONS"
	case errors.Is(err, ErrFingerprintRequired):
		return "FINGERPRINT_REQUIRED"
	case errors.Is(err, ErrUpgradeNotAllowed):
		return "UPGRADE_NOT_ALLOWED"
	case errors.Is(err, ErrAlreadyUpgraded):
		return "ALREADY_UPGRADED"
	case errors.Is(err, ErrInvalidCertificate):
		return "INVALID_CERTIFICATE"
	case errors.Is(err, ErrInvalidKey):
		return "INVALID_KEY"
	case errors.Is(err, ErrCertificateNotFound):
		return "CERTIFICATE_NOT_FOUND"
	case errors.Is(err, ErrKeyNotFound):
		return "KEY_NOT_FOUND"
	default:
		return "INTERNAL"
	}
}

// Sanitize collapses any non-taxonomy error to a fixed "internal error"
// message so handlers never leak internal messages verbatim. Taxonomy
// errors pass through with their own pre-written message.
func Sanitize(err error) string {
	if Code(err) == "INTERNAL" {
		return "internal error"
	}
	return err.Error()
}
