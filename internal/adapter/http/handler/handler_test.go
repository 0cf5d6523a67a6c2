package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pesaflow/config"
	"pesaflow/internal/adapter/http/dto"
	"pesaflow/internal/core/domain"
	"pesaflow/internal/core/ports"
	"pesaflow/internal/core/ports/mocks"
	"pesaflow/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testFrontend = config.FrontendConfig{
	SuccessURL:  "http://localhost:3000/payment-success",
	CanceledURL: "http://localhost:3000/payment-canceled",
	ErrorURL:    "http://localhost:3000/payment-error",
}

func newTestRouter(svc ports.PaymentService, gateway ports.GatewayClient) *gin.Engine {
	return SetupRouter(RouterDeps{
		PaymentSvc:  svc,
		Gateway:     gateway,
		Frontend:    testFrontend,
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	})
}

func strPtr(s string) *string { return &s }

func samplePayment(status domain.PaymentStatus) *domain.Payment {
	return &domain.Payment{
		ID:                uuid.New(),
		MerchantReference: "PESA-1-abc",
		TrackingID:        strPtr("track-1"),
		Amount:            2500,
		Currency:          "KES",
		Status:            status,
		CustomerEmail:     "jane@example.com",
		CustomerName:      "Jane Doe",
		Description:       "Order 42",
	}
}

// --- Create ---

func TestCreatePayment_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().CreatePayment(gomock.Any(), ports.CreatePaymentRequest{
		Amount:        2500,
		Currency:      "KES",
		CustomerEmail: "jane@example.com",
		CustomerName:  "Jane Doe",
	}).Return(&ports.CreatePaymentResponse{
		MerchantReference: "PESA-1-abc",
		TrackingID:        "track-1",
		RedirectURL:       "https://pay.pesapal.test/iframe/track-1",
	}, nil)

	r := newTestRouter(mockSvc, nil)

	body, _ := json.Marshal(dto.CreatePaymentRequest{
		Amount:        2500,
		Currency:      "KES",
		CustomerEmail: "jane@example.com",
		CustomerName:  "Jane Doe",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "PESA-1-abc", data["merchant_reference"])
	assert.Equal(t, "https://pay.pesapal.test/iframe/track-1", data["redirect_url"])
}

func TestCreatePayment_ValidationError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	r := newTestRouter(mockSvc, nil)

	// Missing required fields => binding error, service never called
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount":0}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VAL_001")
}

func TestCreatePayment_GatewayRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().CreatePayment(gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrOrderSubmission("Currency not supported", nil))

	r := newTestRouter(mockSvc, nil)

	body, _ := json.Marshal(dto.CreatePaymentRequest{
		Amount:        100,
		Currency:      "XXX",
		CustomerEmail: "jane@example.com",
		CustomerName:  "Jane Doe",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "GW_002")
}

// --- API key ---

func TestCreatePayment_RequiresAPIKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	r := SetupRouter(RouterDeps{
		PaymentSvc:  mockSvc,
		Frontend:    testFrontend,
		APIKey:      "sk_test_123",
		Environment: "sandbox",
		Logger:      zerolog.Nop(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{}`))
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "AUTH_001")
}

// --- GetStatus ---

func TestGetStatus_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().GetStatus(gomock.Any(), "PESA-1-abc").Return(&ports.PaymentStatusResult{
		Payment: samplePayment(domain.PaymentStatusCompleted),
		Gateway: &ports.GatewayStatus{
			TrackingID:    "track-1",
			PaymentStatus: "Completed",
			PaymentMethod: "MPESA",
			Amount:        2500,
			Currency:      "KES",
		},
	}, nil)

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/PESA-1-abc", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	payment := data["payment"].(map[string]interface{})
	assert.Equal(t, "completed", payment["status"])
	gateway := data["gateway"].(map[string]interface{})
	assert.Equal(t, "Completed", gateway["payment_status"])
}

func TestGetStatus_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().GetStatus(gomock.Any(), "PESA-ghost").Return(nil, apperror.ErrPaymentNotFound())

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/PESA-ghost", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "PAY_001")
}

func TestGetStatus_RejectsUnsafeReference(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/status/%3Cscript%3E", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- List ---

func TestListPayments_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	completed := domain.PaymentStatusCompleted
	mockSvc.EXPECT().ListPayments(gomock.Any(), ports.PaymentListParams{
		Status:   &completed,
		Page:     2,
		PageSize: 10,
	}).Return([]domain.Payment{*samplePayment(completed)}, int64(11), nil)

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments?status=completed&page=2&page_size=10", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(11), data["total"])
	assert.Equal(t, float64(2), data["total_pages"])
}

func TestListPayments_RejectsUnknownStatus(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments?status=exploded", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Callback ---

func TestCallback_RedirectsToSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().ApplyCallback(gomock.Any(), ports.CallbackSignal{
		MerchantReference: "PESA-1-abc",
		TrackingID:        "track-1",
		Status:            "COMPLETED",
	}).Return(nil)

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/payments/callback?OrderTrackingId=track-1&OrderMerchantReference=PESA-1-abc&Status=COMPLETED", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend.SuccessURL+"?reference=PESA-1-abc", w.Header().Get("Location"))
}

func TestCallback_UnknownReferenceRedirectsToError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().ApplyCallback(gomock.Any(), gomock.Any()).Return(apperror.ErrPaymentNotFound())

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/payments/callback?OrderMerchantReference=PESA-ghost", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend.ErrorURL, w.Header().Get("Location"))
}

func TestCallback_MissingReferenceRedirectsToError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/callback", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend.ErrorURL, w.Header().Get("Location"))
}

// --- Cancel ---

func TestCancel_RedirectsToCanceled(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().ApplyCancel(gomock.Any(), "PESA-1-abc").Return(nil)

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/payments/cancel?OrderMerchantReference=PESA-1-abc", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, testFrontend.CanceledURL+"?reference=PESA-1-abc", w.Header().Get("Location"))
}

// --- IPN ---

func TestIPN_AcksAndApplies(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	body := `{"order_tracking_id":"track-1","order_merchant_reference":"PESA-1-abc","payment_status":"COMPLETED","payment_method":"MPESA","amount":2500,"currency":"KES"}`

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().ApplyNotification(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n ports.Notification) error {
			assert.Equal(t, "track-1", n.TrackingID)
			assert.Equal(t, "PESA-1-abc", n.MerchantReference)
			assert.Equal(t, "COMPLETED", n.PaymentStatus)
			assert.JSONEq(t, body, string(n.Raw))
			return nil
		})

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/ipn", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "success")
}

func TestIPN_AcksEvenWhenProcessingFails(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().ApplyNotification(gomock.Any(), gomock.Any()).
		Return(apperror.InternalError(nil))

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/ipn",
		strings.NewReader(`{"order_tracking_id":"track-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestIPN_QueryParameterDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := mocks.NewMockPaymentService(ctrl)
	mockSvc.EXPECT().ApplyNotification(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n ports.Notification) error {
			assert.Equal(t, "track-9", n.TrackingID)
			assert.Equal(t, "PESA-9", n.MerchantReference)
			return nil
		})

	r := newTestRouter(mockSvc, nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost,
		"/api/v1/payments/ipn?OrderTrackingId=track-9&OrderMerchantReference=PESA-9", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Health ---

type stubChecker struct {
	name string
	err  error
}

func (s stubChecker) Ping(_ context.Context) error { return s.err }
func (s stubChecker) Name() string                 { return s.name }

func TestHealthCheck_AllHealthy(t *testing.T) {
	r := SetupRouter(RouterDeps{
		Frontend:       testFrontend,
		Environment:    "sandbox",
		HealthCheckers: []ports.HealthChecker{stubChecker{name: "postgres"}, stubChecker{name: "redis"}},
		Logger:         zerolog.Nop(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"environment":"sandbox"`)
}

func TestHealthCheck_Degraded(t *testing.T) {
	r := SetupRouter(RouterDeps{
		Frontend:       testFrontend,
		Environment:    "sandbox",
		HealthCheckers: []ports.HealthChecker{stubChecker{name: "redis", err: errors.New("connection refused")}},
		Logger:         zerolog.Nop(),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}
