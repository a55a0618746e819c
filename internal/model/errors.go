package model

import "net/http"

// ErrorKind classifies a gateway-side failure.
type ErrorKind string

const (
	KindUpstreamConnect ErrorKind = "upstream_connect_error"
	KindUpstreamTimeout ErrorKind = "upstream_timeout"
	KindInternal        ErrorKind = "internal_error"

	// Rejections in front of the forwarder.
	KindAuthentication ErrorKind = "authentication_error"
	KindAuthorization  ErrorKind = "authorization_error"
	KindRateLimit      ErrorKind = "rate_limit_error"
	KindInvalidRequest ErrorKind = "invalid_request_error"
	KindTooLarge       ErrorKind = "request_too_large"
)

// GatewayError is the single error type that crosses the dispatch boundary.
type GatewayError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Status returns the HTTP status code the error is surfaced with.
func (e *GatewayError) Status() int {
	switch e.Kind {
	case KindUpstreamConnect:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindInvalidRequest:
		return http.StatusBadRequest
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Response returns the JSON envelope sent to the caller.
func (e *GatewayError) Response() ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Type: string(e.Kind), Message: e.Message}}
}

// ErrorResponse is the JSON error envelope: {"error": {"type": ..., "message": ...}}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the inner object of ErrorResponse.
type ErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
