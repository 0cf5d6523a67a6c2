package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"

	"pesaflow/internal/core/domain"
)

// PaymentService is the reconciliation engine: it owns the payment state
// machine and applies every inbound signal as an idempotent transition.
type PaymentService interface {
	// CreatePayment validates the request, persists a pending record,
	// submits the order to the gateway, and stores the tracking id.
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResponse, error)

	// ApplyCallback processes the browser redirect callback.
	ApplyCallback(ctx context.Context, sig CallbackSignal) error

	// ApplyCancel processes the browser cancellation redirect.
	ApplyCancel(ctx context.Context, merchantReference string) error

	// ApplyNotification processes a server-to-server push notification.
	ApplyNotification(ctx context.Context, n Notification) error

	// GetStatus returns the persisted record plus a live gateway
	// re-query, reconciling any newly-reported terminal status.
	GetStatus(ctx context.Context, merchantReference string) (*PaymentStatusResult, error)

	// ListPayments returns persisted records, newest first.
	ListPayments(ctx context.Context, params PaymentListParams) ([]domain.Payment, int64, error)
}

// CreatePaymentRequest holds validated input for payment creation.
type CreatePaymentRequest struct {
	Amount        int64
	Currency      string
	CustomerEmail string
	CustomerName  string
	CustomerPhone string
	Description   string
}

// CreatePaymentResponse holds the identifiers the caller needs to send
// the customer to the hosted payment page.
type CreatePaymentResponse struct {
	MerchantReference string
	TrackingID        string
	RedirectURL       string
}

// CallbackSignal carries the fields of the browser redirect callback.
type CallbackSignal struct {
	MerchantReference string
	TrackingID        string
	Status            string // raw gateway keyword
}

// Notification carries the fields of one push notification plus the raw
// body retained for audit.
type Notification struct {
	TrackingID        string
	MerchantReference string
	PaymentStatus     string // raw gateway keyword
	PaymentMethod     string
	Amount            int64
	Currency          string
	Raw               []byte
}

// PaymentStatusResult pairs the persisted record with the gateway's live
// view. Gateway is nil when the record has no tracking id yet.
type PaymentStatusResult struct {
	Payment *domain.Payment
	Gateway *GatewayStatus
}
