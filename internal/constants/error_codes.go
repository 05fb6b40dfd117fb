package constants

const (
	// Shared REST/WS transport-agnostic errors
	ErrCodeAuthFailed      = "AUTH_FAILED"
	ErrCodeAuthExpired     = "AUTH_EXPIRED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeConflict        = "CONFLICT"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeInternal        = "INTERNAL_ERROR"

	// Feed domain errors
	ErrCodeMessageTooLong   = "MESSAGE_TOO_LONG"
	ErrCodeChannelNotFound  = "CHANNEL_NOT_FOUND"
	ErrCodeUnknownOperation = "UNKNOWN_OPERATION"
	ErrCodeCursorNotFound   = "CURSOR_NOT_FOUND"
)
