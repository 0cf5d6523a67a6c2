package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the lifecycle state of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

// IsTerminal returns true if no further transition is accepted from s.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted ||
		s == PaymentStatusFailed ||
		s == PaymentStatusCanceled
}

// MapGatewayStatus maps a Pesapal status keyword onto a local status.
// Unrecognized keywords (including PENDING) map to pending — they never
// terminate a payment.
func MapGatewayStatus(keyword string) PaymentStatus {
	switch strings.ToUpper(strings.TrimSpace(keyword)) {
	case "COMPLETED":
		return PaymentStatusCompleted
	case "FAILED", "INVALID":
		return PaymentStatusFailed
	case "CANCELLED":
		return PaymentStatusCanceled
	default:
		return PaymentStatusPending
	}
}

// Payment is the locally persisted record of one payment attempt.
// MerchantReference is generated before the gateway is contacted and is
// the primary correlation key; TrackingID is assigned by the gateway on
// successful order submission and never changes afterwards.
type Payment struct {
	ID                      uuid.UUID     `json:"id"`
	MerchantReference       string        `json:"merchant_reference"`
	TrackingID              *string       `json:"tracking_id,omitempty"`
	Amount                  int64         `json:"amount"`
	Currency                string        `json:"currency"`
	Status                  PaymentStatus `json:"status"`
	PaymentMethod           *string       `json:"payment_method,omitempty"`
	CustomerEmail           string        `json:"customer_email"`
	CustomerName            string        `json:"customer_name"`
	CustomerPhone           string        `json:"customer_phone,omitempty"`
	Description             string        `json:"description"`
	NotificationReceived    bool          `json:"notification_received"`
	LastNotificationPayload []byte        `json:"-"` // raw IPN body, audit only
	CreatedAt               time.Time     `json:"created_at"`
	UpdatedAt               time.Time     `json:"updated_at"`
}

// IsTerminal returns true if the payment reached a final state.
func (p *Payment) IsTerminal() bool {
	return p.Status.IsTerminal()
}
