package dto

import "net/http"

// Generic error codes
const (
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeConflict     = "CONFLICT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Webhook and outbox error codes
const (
	ErrCodeWebhookNotFound    = "WEBHOOK_NOT_FOUND"
	ErrCodeJobNotFound        = "JOB_NOT_FOUND"
	ErrCodeInvalidEventType   = "INVALID_EVENT_TYPE"
	ErrCodeInvalidStatus      = "INVALID_STATUS"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeTestDeliveryFailed = "TEST_DELIVERY_FAILED"
	ErrCodeTenantRequired     = "TENANT_REQUIRED"
	ErrCodeInvalidTenant      = "INVALID_TENANT"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
	ErrCodeInternal:     http.StatusInternalServerError,

	ErrCodeWebhookNotFound:    http.StatusNotFound,
	ErrCodeJobNotFound:        http.StatusNotFound,
	ErrCodeInvalidEventType:   http.StatusBadRequest,
	ErrCodeInvalidStatus:      http.StatusBadRequest,
	ErrCodeInvalidPayload:     http.StatusBadRequest,
	ErrCodeTestDeliveryFailed: http.StatusBadGateway,
	ErrCodeTenantRequired:     http.StatusUnauthorized,
	ErrCodeInvalidTenant:      http.StatusUnauthorized,
}

// GetHTTPStatus returns the HTTP status for an error code, defaulting to 500
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
