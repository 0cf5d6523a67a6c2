package integration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pesaflow/internal/core/domain"
	"pesaflow/internal/core/ports"
	"pesaflow/pkg/apperror"

	"github.com/google/uuid"
)

// inMemoryPaymentRepo is a thread-safe PaymentRepository. UpdateStatusIf
// has the same compare-and-set semantics as the postgres implementation,
// so the concurrency tests exercise the real transition logic.
type inMemoryPaymentRepo struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]*domain.Payment
	byRef      map[string]uuid.UUID
	byTracking map[string]uuid.UUID
}

func newInMemoryPaymentRepo() *inMemoryPaymentRepo {
	return &inMemoryPaymentRepo{
		byID:       make(map[uuid.UUID]*domain.Payment),
		byRef:      make(map[string]uuid.UUID),
		byTracking: make(map[string]uuid.UUID),
	}
}

func (r *inMemoryPaymentRepo) Create(_ context.Context, p *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byRef[p.MerchantReference]; exists {
		return apperror.ErrDuplicateReference(p.MerchantReference)
	}
	cp := *p
	r.byID[p.ID] = &cp
	r.byRef[p.MerchantReference] = p.ID
	return nil
}

func (r *inMemoryPaymentRepo) GetByReference(_ context.Context, ref string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byRef[ref]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *inMemoryPaymentRepo) GetByTrackingID(_ context.Context, trackingID string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTracking[trackingID]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *inMemoryPaymentRepo) SetTrackingID(_ context.Context, id uuid.UUID, trackingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("no payment %s", id)
	}
	if p.TrackingID != nil {
		return nil
	}
	p.TrackingID = &trackingID
	p.UpdatedAt = time.Now().UTC()
	r.byTracking[trackingID] = id
	return nil
}

func (r *inMemoryPaymentRepo) UpdateStatusIf(_ context.Context, id uuid.UUID, expected domain.PaymentStatus, change ports.StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false, fmt.Errorf("no payment %s", id)
	}
	if p.Status != expected {
		return false, nil
	}
	p.Status = change.Status
	if change.PaymentMethod != nil {
		p.PaymentMethod = change.PaymentMethod
	}
	if change.NotificationReceived {
		p.NotificationReceived = true
	}
	if change.RawPayload != nil {
		p.LastNotificationPayload = change.RawPayload
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inMemoryPaymentRepo) MarkNotified(_ context.Context, id uuid.UUID, paymentMethod *string, rawPayload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("no payment %s", id)
	}
	p.NotificationReceived = true
	if paymentMethod != nil {
		p.PaymentMethod = paymentMethod
	}
	if rawPayload != nil {
		p.LastNotificationPayload = rawPayload
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryPaymentRepo) List(_ context.Context, params ports.PaymentListParams) ([]domain.Payment, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]domain.Payment, 0, len(r.byID))
	for _, p := range r.byID {
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		all = append(all, *p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	start := (params.Page - 1) * params.PageSize
	if start >= len(all) {
		return []domain.Payment{}, total, nil
	}
	end := start + params.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// fakeGateway implements ports.GatewayClient against scripted responses.
type fakeGateway struct {
	mu          sync.Mutex
	statuses    map[string]string // tracking id -> status keyword
	submitErr   error
	trackingSeq int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) SubmitOrder(_ context.Context, order ports.OrderRequest) (*ports.OrderResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	g.trackingSeq++
	trackingID := fmt.Sprintf("track-%d", g.trackingSeq)
	g.statuses[trackingID] = "PENDING"
	return &ports.OrderResponse{
		TrackingID:  trackingID,
		RedirectURL: "https://pay.pesapal.test/iframe/" + trackingID,
	}, nil
}

func (g *fakeGateway) GetTransactionStatus(_ context.Context, trackingID string) (*ports.GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	status, ok := g.statuses[trackingID]
	if !ok {
		return nil, apperror.ErrStatusQuery(fmt.Errorf("unknown tracking id %s", trackingID))
	}
	return &ports.GatewayStatus{
		TrackingID:    trackingID,
		PaymentStatus: status,
		PaymentMethod: "MPESA",
		Amount:        2500,
		Currency:      "KES",
	}, nil
}

func (g *fakeGateway) Ping(_ context.Context) error { return nil }

// setStatus scripts the status the gateway reports for a tracking id.
func (g *fakeGateway) setStatus(trackingID, status string) {
	g.mu.Lock()
	g.statuses[trackingID] = status
	g.mu.Unlock()
}
