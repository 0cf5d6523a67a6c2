package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"pesaflow/internal/core/domain"

	"github.com/google/uuid"
)

// PaymentRepository defines persistence operations for payment records.
//
// Updates to the same record must be linearizable: UpdateStatusIf is a
// per-record compare-and-set so a read-decide-write transition cannot race
// a concurrent transition on the same payment.
type PaymentRepository interface {
	// Create inserts a new record. A reused merchant reference fails with
	// apperror PAY_003.
	Create(ctx context.Context, p *domain.Payment) error

	// GetByReference returns nil, nil when no record exists.
	GetByReference(ctx context.Context, merchantReference string) (*domain.Payment, error)

	// GetByTrackingID returns nil, nil when no record exists.
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Payment, error)

	// SetTrackingID fills the tracking id if it is not yet assigned.
	// A record whose tracking id is already set is left untouched.
	SetTrackingID(ctx context.Context, id uuid.UUID, trackingID string) error

	// UpdateStatusIf applies change only if the record's status still
	// equals expected. Returns false when the guard failed (concurrent
	// transition won); the caller re-reads and re-decides.
	UpdateStatusIf(ctx context.Context, id uuid.UUID, expected domain.PaymentStatus, change StatusChange) (bool, error)

	// MarkNotified records that a push notification was applied without a
	// status transition (audit fields only).
	MarkNotified(ctx context.Context, id uuid.UUID, paymentMethod *string, rawPayload []byte) error

	// List fetches payments with filtering and pagination, newest first.
	List(ctx context.Context, params PaymentListParams) ([]domain.Payment, int64, error)
}

// StatusChange is the full effect of one accepted transition.
type StatusChange struct {
	Status               domain.PaymentStatus
	PaymentMethod        *string // nil = leave unchanged
	NotificationReceived bool    // true when the signal came over the push channel
	RawPayload           []byte  // retained raw notification body, nil = leave unchanged
}

// PaymentListParams holds filter + pagination for listing payments.
type PaymentListParams struct {
	Status   *domain.PaymentStatus
	Page     int
	PageSize int
}

// NotificationCache deduplicates push-notification deliveries (best-effort;
// the store's compare-and-set is the correctness backstop).
type NotificationCache interface {
	// MarkSeen records a payload fingerprint. Returns true when this is
	// the first sighting within the TTL.
	MarkSeen(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}
