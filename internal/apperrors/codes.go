package apperrors

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
	CodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"
	CodeConfigError          ErrorCode = "CONFIG_ERROR"

	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodePaymentFailed    ErrorCode = "PAYMENT_FAILED"

	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeTokenExpired       ErrorCode = "TOKEN_EXPIRED"
)
