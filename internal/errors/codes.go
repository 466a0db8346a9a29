package errors

// Machine-readable error codes returned in APIError.Code. Clients match on
// these strings, so they are append-only.
const (
	CodeInvalidCredentials = "RGP.AUTH.INVALID_CREDENTIALS"
	CodeDisabledUser       = "RGP.AUTH.DISABLED"
	CodeSessionExpired     = "RGP.AUTH.SESSION_EXPIRED"
	CodeAbsoluteExpired    = "RGP.AUTH.ABSOLUTE_EXPIRED"
	CodeInvalidSession     = "RGP.AUTH.INVALID_SESSION"
	CodeCSRF               = "RGP.AUTH.CSRF"
	CodeRotationFailed     = "RGP.AUTH.ROTATION_FAILED"
	CodeSuspiciousActivity = "RGP.AUTH.SUSPICIOUS_ACTIVITY"

	CodeForbidden   = "RGP.FORBIDDEN"
	CodeNotFound    = "RGP.NOT_FOUND"
	CodeValidation  = "RGP.VALIDATION"
	CodeInvalidStop = "RGP.V1.INVALID_STOP"

	CodeRateLimited = "RGP.RATE_LIMITED"
	CodeInternal    = "RGP.INTERNAL"
)
