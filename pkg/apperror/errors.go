package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Request validation (VAL) ----

// Validation returns a 400 error with a human-readable reason.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Gateway interaction (GW) ----

// ErrGatewayAuth is returned when the gateway rejects our credentials.
func ErrGatewayAuth(err error) *AppError {
	return Wrap("GW_001", "Payment gateway authentication failed", http.StatusBadGateway, err)
}

// ErrOrderSubmission carries the gateway's rejection detail for an order.
func ErrOrderSubmission(detail string, err error) *AppError {
	msg := "Payment gateway rejected the order"
	if detail != "" {
		msg = fmt.Sprintf("Payment gateway rejected the order: %s", detail)
	}
	return Wrap("GW_002", msg, http.StatusBadGateway, err)
}

// ErrStatusQuery is a transient failure fetching transaction status.
func ErrStatusQuery(err error) *AppError {
	return Wrap("GW_003", "Failed to fetch transaction status from gateway", http.StatusBadGateway, err)
}

// ---- Payment records (PAY) ----

func ErrPaymentNotFound() *AppError {
	return New("PAY_001", "Payment not found", http.StatusNotFound)
}

// ErrStatusConflict marks a terminal status that contradicts an
// already-recorded different terminal status. Logged, never surfaced
// through the asynchronous channels.
func ErrStatusConflict(recorded, reported string) *AppError {
	return New("PAY_002",
		fmt.Sprintf("Terminal status conflict: recorded %s, reported %s", recorded, reported),
		http.StatusConflict)
}

func ErrDuplicateReference(reference string) *AppError {
	return New("PAY_003",
		fmt.Sprintf("Merchant reference already exists: %s", reference),
		http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidAPIKey() *AppError {
	return New("AUTH_001", "Invalid API key", http.StatusUnauthorized)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}
