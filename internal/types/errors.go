package types

// Error codes returned in ErrorBody.Code.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeOutOfRange     = "OUT_OF_RANGE"
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeConnected      = "ALREADY_CONNECTED"
	ErrCodeDeviceError    = "DEVICE_ERROR"
	ErrCodeTimeout        = "DEVICE_TIMEOUT"
	ErrCodeStale          = "STATE_STALE"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
