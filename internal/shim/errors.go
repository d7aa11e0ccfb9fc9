package shim

// OpenAI-compatible error type strings.
const (
	TypeInvalidRequest     = "invalid_request_error"
	TypeAuthentication     = "authentication_error"
	TypeRateLimit          = "rate_limit_error"
	TypeUpstream           = "upstream_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternal           = "internal_error"
)

// Machine-readable error codes carried alongside the type.
const (
	CodeInvalidAPIKey          = "invalid_api_key"
	CodeAuthServiceUnavailable = "auth_service_unavailable"
	CodeRateLimitExceeded      = "rate_limit_exceeded"
)

// ErrorDetail is the inner error object of the envelope.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// ErrorResponse is the OpenAI-compatible error envelope returned on every
// non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// NewError builds an error envelope.
func NewError(errType, message, code string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Message: message, Type: errType, Code: code}}
}
