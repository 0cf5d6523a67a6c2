package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"pesaflow/internal/core/domain"
	"pesaflow/internal/core/ports"
	"pesaflow/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// notificationDedupTTL bounds the redis fingerprint window for redelivered
// push notifications. The store's compare-and-set catches anything older.
const notificationDedupTTL = 24 * time.Hour

const (
	defaultCurrency = "KES"
	maxPageSize     = 100
	defaultPageSize = 20
)

// PaymentServiceImpl implements ports.PaymentService. It owns the payment
// state machine: every inbound signal, over any channel and in any order,
// is applied as an idempotent transition guarded by the repository's
// per-record compare-and-set.
type PaymentServiceImpl struct {
	repo     ports.PaymentRepository
	gateway  ports.GatewayClient
	ipnCache ports.NotificationCache
	log      zerolog.Logger
}

// NewPaymentService creates a new PaymentServiceImpl. ipnCache may be nil;
// deduplication then falls entirely on the store's compare-and-set.
func NewPaymentService(
	repo ports.PaymentRepository,
	gateway ports.GatewayClient,
	ipnCache ports.NotificationCache,
	log zerolog.Logger,
) *PaymentServiceImpl {
	return &PaymentServiceImpl{
		repo:     repo,
		gateway:  gateway,
		ipnCache: ipnCache,
		log:      log,
	}
}

// CreatePayment persists a pending record, registers the order with the
// gateway, and stores the assigned tracking id.
func (s *PaymentServiceImpl) CreatePayment(ctx context.Context, req ports.CreatePaymentRequest) (*ports.CreatePaymentResponse, error) {
	if req.Amount <= 0 {
		return nil, apperror.Validation("amount must be greater than zero")
	}
	if strings.TrimSpace(req.CustomerEmail) == "" {
		return nil, apperror.Validation("customer email is required")
	}
	if strings.TrimSpace(req.CustomerName) == "" {
		return nil, apperror.Validation("customer name is required")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = fmt.Sprintf("Payment - %d %s", req.Amount, currency)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:                uuid.New(),
		MerchantReference: newMerchantReference(),
		Amount:            req.Amount,
		Currency:          currency,
		Status:            domain.PaymentStatusPending,
		CustomerEmail:     req.CustomerEmail,
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		Description:       description,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, err
	}

	order, err := s.gateway.SubmitOrder(ctx, ports.OrderRequest{
		MerchantReference: payment.MerchantReference,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		Description:       payment.Description,
		CustomerEmail:     payment.CustomerEmail,
		CustomerName:      payment.CustomerName,
		CustomerPhone:     payment.CustomerPhone,
	})
	if err != nil {
		// The pending record stays: the reference is already burned and
		// the failure is visible through the status endpoint.
		s.log.Error().Err(err).
			Str("merchant_reference", payment.MerchantReference).
			Msg("order submission failed")
		return nil, err
	}

	if err := s.repo.SetTrackingID(ctx, payment.ID, order.TrackingID); err != nil {
		s.log.Error().Err(err).
			Str("merchant_reference", payment.MerchantReference).
			Str("tracking_id", order.TrackingID).
			Msg("failed to persist tracking id")
		return nil, apperror.InternalError(err)
	}

	s.log.Info().
		Str("merchant_reference", payment.MerchantReference).
		Str("tracking_id", order.TrackingID).
		Int64("amount", payment.Amount).
		Str("currency", payment.Currency).
		Msg("payment created")

	return &ports.CreatePaymentResponse{
		MerchantReference: payment.MerchantReference,
		TrackingID:        order.TrackingID,
		RedirectURL:       order.RedirectURL,
	}, nil
}

// ApplyCallback processes the browser redirect. The callback's status
// keyword is advisory; it drives the same transition rules as every other
// channel.
func (s *PaymentServiceImpl) ApplyCallback(ctx context.Context, sig ports.CallbackSignal) error {
	payment, err := s.repo.GetByReference(ctx, sig.MerchantReference)
	if err != nil {
		return err
	}
	if payment == nil {
		s.log.Warn().
			Str("merchant_reference", sig.MerchantReference).
			Str("channel", "callback").
			Msg("signal for unknown reference dropped")
		return apperror.ErrPaymentNotFound()
	}

	if sig.TrackingID != "" && payment.TrackingID == nil {
		if err := s.repo.SetTrackingID(ctx, payment.ID, sig.TrackingID); err != nil {
			s.log.Warn().Err(err).
				Str("merchant_reference", payment.MerchantReference).
				Msg("could not backfill tracking id from callback")
		}
	}

	target := domain.MapGatewayStatus(sig.Status)
	if target == domain.PaymentStatusPending {
		return nil
	}

	return s.applyTransition(ctx, payment, "callback", ports.StatusChange{Status: target})
}

// ApplyCancel processes the browser cancellation redirect. Cancellation
// after a different terminal outcome is ignored; the earlier outcome wins.
func (s *PaymentServiceImpl) ApplyCancel(ctx context.Context, merchantReference string) error {
	payment, err := s.repo.GetByReference(ctx, merchantReference)
	if err != nil {
		return err
	}
	if payment == nil {
		s.log.Warn().
			Str("merchant_reference", merchantReference).
			Str("channel", "cancel").
			Msg("signal for unknown reference dropped")
		return apperror.ErrPaymentNotFound()
	}

	return s.applyTransition(ctx, payment, "cancel", ports.StatusChange{Status: domain.PaymentStatusCanceled})
}

// ApplyNotification processes one server-to-server push delivery. The
// caller acknowledges the delivery regardless of the outcome here, so
// every failure path logs and returns nil unless the store itself failed.
func (s *PaymentServiceImpl) ApplyNotification(ctx context.Context, n ports.Notification) error {
	if s.ipnCache != nil && len(n.Raw) > 0 {
		sum := sha256.Sum256(n.Raw)
		first, err := s.ipnCache.MarkSeen(ctx, hex.EncodeToString(sum[:]), notificationDedupTTL)
		if err != nil {
			s.log.Warn().Err(err).Msg("notification dedup cache unavailable, falling through to store")
		} else if !first {
			s.log.Debug().
				Str("tracking_id", n.TrackingID).
				Msg("duplicate notification delivery short-circuited")
			return nil
		}
	}

	payment, err := s.lookupForNotification(ctx, n)
	if err != nil {
		return err
	}
	if payment == nil {
		s.log.Error().
			Str("tracking_id", n.TrackingID).
			Str("merchant_reference", n.MerchantReference).
			Str("channel", "ipn").
			Msg("notification for unknown payment dropped")
		return nil
	}

	if n.TrackingID != "" && payment.TrackingID == nil {
		if err := s.repo.SetTrackingID(ctx, payment.ID, n.TrackingID); err != nil {
			s.log.Warn().Err(err).
				Str("merchant_reference", payment.MerchantReference).
				Msg("could not backfill tracking id from notification")
		}
	}

	var method *string
	if n.PaymentMethod != "" {
		m := n.PaymentMethod
		method = &m
	}

	target := domain.MapGatewayStatus(n.PaymentStatus)
	if target == domain.PaymentStatusPending {
		// No transition; record the delivery for audit.
		return s.repo.MarkNotified(ctx, payment.ID, method, n.Raw)
	}

	if payment.Status.IsTerminal() {
		if payment.Status == target {
			s.log.Debug().
				Str("merchant_reference", payment.MerchantReference).
				Str("status", string(target)).
				Msg("duplicate terminal notification ignored")
			return nil
		}
		s.logConflict(payment, target, "ipn")
		return s.repo.MarkNotified(ctx, payment.ID, method, n.Raw)
	}

	return s.applyTransition(ctx, payment, "ipn", ports.StatusChange{
		Status:               target,
		PaymentMethod:        method,
		NotificationReceived: true,
		RawPayload:           n.Raw,
	})
}

// GetStatus returns the persisted record plus a live gateway view. A new
// terminal status reported by the gateway is reconciled in before the
// record is returned; a gateway outage degrades to the persisted record.
func (s *PaymentServiceImpl) GetStatus(ctx context.Context, merchantReference string) (*ports.PaymentStatusResult, error) {
	payment, err := s.repo.GetByReference(ctx, merchantReference)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	if payment.TrackingID == nil {
		return &ports.PaymentStatusResult{Payment: payment}, nil
	}

	gwStatus, err := s.gateway.GetTransactionStatus(ctx, *payment.TrackingID)
	if err != nil {
		s.log.Warn().Err(err).
			Str("merchant_reference", merchantReference).
			Msg("gateway status query failed, returning persisted record")
		return &ports.PaymentStatusResult{Payment: payment}, nil
	}

	target := domain.MapGatewayStatus(gwStatus.PaymentStatus)
	if target != domain.PaymentStatusPending && !payment.Status.IsTerminal() {
		var method *string
		if gwStatus.PaymentMethod != "" {
			m := gwStatus.PaymentMethod
			method = &m
		}
		if err := s.applyTransition(ctx, payment, "poll", ports.StatusChange{
			Status:        target,
			PaymentMethod: method,
		}); err != nil {
			return nil, err
		}
		if fresh, err := s.repo.GetByReference(ctx, merchantReference); err == nil && fresh != nil {
			payment = fresh
		}
	}

	return &ports.PaymentStatusResult{Payment: payment, Gateway: gwStatus}, nil
}

// ListPayments returns persisted records, newest first.
func (s *PaymentServiceImpl) ListPayments(ctx context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		params.PageSize = defaultPageSize
	}
	return s.repo.List(ctx, params)
}

// applyTransition drives one signal through the state machine. A lost
// compare-and-set race triggers a single re-read and re-decide; a record
// that became terminal meanwhile is resolved under first-terminal-wins.
func (s *PaymentServiceImpl) applyTransition(ctx context.Context, payment *domain.Payment, channel string, change ports.StatusChange) error {
	for attempt := 0; attempt < 2; attempt++ {
		if payment.Status.IsTerminal() {
			if payment.Status == change.Status {
				s.log.Debug().
					Str("merchant_reference", payment.MerchantReference).
					Str("status", string(change.Status)).
					Str("channel", channel).
					Msg("duplicate terminal signal ignored")
				return nil
			}
			s.logConflict(payment, change.Status, channel)
			return nil
		}

		applied, err := s.repo.UpdateStatusIf(ctx, payment.ID, payment.Status, change)
		if err != nil {
			return err
		}
		if applied {
			s.log.Info().
				Str("merchant_reference", payment.MerchantReference).
				Str("from", string(payment.Status)).
				Str("to", string(change.Status)).
				Str("channel", channel).
				Msg("payment status transition applied")
			return nil
		}

		// Lost the race; re-read and re-decide.
		fresh, err := s.repo.GetByReference(ctx, payment.MerchantReference)
		if err != nil {
			return err
		}
		if fresh == nil {
			return apperror.ErrPaymentNotFound()
		}
		payment = fresh
	}

	s.log.Error().
		Str("merchant_reference", payment.MerchantReference).
		Str("channel", channel).
		Msg("status transition abandoned after repeated races")
	return apperror.InternalError(fmt.Errorf("transition contention on %s", payment.MerchantReference))
}

// logConflict records a terminal signal that contradicts the recorded
// terminal status. The signal is dropped; the record is never rewritten.
func (s *PaymentServiceImpl) logConflict(payment *domain.Payment, reported domain.PaymentStatus, channel string) {
	conflict := apperror.ErrStatusConflict(string(payment.Status), string(reported))
	s.log.Error().
		Str("error_code", conflict.Code).
		Str("merchant_reference", payment.MerchantReference).
		Str("recorded_status", string(payment.Status)).
		Str("reported_status", string(reported)).
		Str("channel", channel).
		Msg("conflicting terminal signal dropped")
}

// lookupForNotification resolves the record a notification refers to,
// preferring the gateway tracking id over the merchant reference.
func (s *PaymentServiceImpl) lookupForNotification(ctx context.Context, n ports.Notification) (*domain.Payment, error) {
	if n.TrackingID != "" {
		payment, err := s.repo.GetByTrackingID(ctx, n.TrackingID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}
	if n.MerchantReference != "" {
		return s.repo.GetByReference(ctx, n.MerchantReference)
	}
	return nil, nil
}

// newMerchantReference generates a unique, human-scannable order id.
func newMerchantReference() string {
	return fmt.Sprintf("PESA-%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
