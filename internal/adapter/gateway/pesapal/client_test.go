package pesapal

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pesaflow/config"
	"pesaflow/internal/core/ports"
	"pesaflow/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.PesapalConfig {
	return config.PesapalConfig{
		BaseURL:         baseURL,
		ConsumerKey:     "key",
		ConsumerSecret:  "secret",
		IPNID:           "ipn-1234",
		CallbackURL:     "https://example.com/api/v1/payments/callback",
		CancellationURL: "https://example.com/api/v1/payments/cancel",
		CountryCode:     "KE",
		AuthTimeout:     10 * time.Second,
		SubmitTimeout:   15 * time.Second,
		StatusTimeout:   10 * time.Second,
		TokenTTL:        4 * time.Minute,
	}
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(testConfig(srv.URL), srv.Client(), zerolog.Nop())
	return client, srv
}

func authOK(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{
		"token":      "test-token",
		"expiryDate": time.Now().Add(5 * time.Minute).Format(time.RFC3339),
		"status":     "200",
	})
}

func TestClient_SubmitOrder(t *testing.T) {
	var gotOrder map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			authOK(w)
		case "/api/Transactions/SubmitOrderRequest":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotOrder))
			json.NewEncoder(w).Encode(map[string]any{
				"order_tracking_id":  "track-42",
				"merchant_reference": gotOrder["id"],
				"redirect_url":       "https://pay.pesapal.test/iframe/track-42",
				"status":             "200",
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))

	resp, err := client.SubmitOrder(context.Background(), ports.OrderRequest{
		MerchantReference: "PESA-1-abc",
		Amount:            2500,
		Currency:          "KES",
		Description:       "Order payment",
		CustomerEmail:     "jane@example.com",
		CustomerName:      "Jane Wanjiku Doe",
		CustomerPhone:     "+254700000000",
	})
	require.NoError(t, err)
	assert.Equal(t, "track-42", resp.TrackingID)
	assert.Equal(t, "https://pay.pesapal.test/iframe/track-42", resp.RedirectURL)

	// Verify the wire payload the gateway contract requires
	assert.Equal(t, "PESA-1-abc", gotOrder["id"])
	assert.Equal(t, "ipn-1234", gotOrder["notification_id"])
	assert.Equal(t, "https://example.com/api/v1/payments/callback", gotOrder["callback_url"])
	billing := gotOrder["billing_address"].(map[string]any)
	assert.Equal(t, "Jane", billing["first_name"])
	assert.Equal(t, "Wanjiku Doe", billing["last_name"])
	assert.Equal(t, "KE", billing["country_code"])
	assert.Equal(t, "jane@example.com", billing["email_address"])
}

func TestClient_SubmitOrder_GatewayRejection(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/Auth/RequestToken" {
			authOK(w)
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"error_type": "api_error",
				"code":       "invalid_currency",
				"message":    "Currency not supported",
			},
			"status": "500",
		})
	}))

	_, err := client.SubmitOrder(context.Background(), ports.OrderRequest{
		MerchantReference: "PESA-2-def",
		Amount:            100,
		Currency:          "XXX",
	})
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "GW_002", appErr.Code)
	assert.Contains(t, appErr.Message, "Currency not supported")
}

func TestClient_SubmitOrder_StaleTokenInvalidated(t *testing.T) {
	var authCalls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			atomic.AddInt32(&authCalls, 1)
			authOK(w)
		case "/api/Transactions/SubmitOrderRequest":
			if atomic.LoadInt32(&authCalls) < 2 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"order_tracking_id": "track-7",
				"redirect_url":      "https://pay.pesapal.test/iframe/track-7",
				"status":            "200",
			})
		}
	}))

	_, err := client.SubmitOrder(context.Background(), ports.OrderRequest{MerchantReference: "PESA-3", Amount: 10, Currency: "KES"})
	require.Error(t, err)

	// The 401 dropped the cached token, so the retry re-authenticates
	resp, err := client.SubmitOrder(context.Background(), ports.OrderRequest{MerchantReference: "PESA-3", Amount: 10, Currency: "KES"})
	require.NoError(t, err)
	assert.Equal(t, "track-7", resp.TrackingID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&authCalls))
}

func TestClient_GetTransactionStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			authOK(w)
		case "/api/Transactions/GetTransactionStatus":
			assert.Equal(t, "track-42", r.URL.Query().Get("orderTrackingId"))
			json.NewEncoder(w).Encode(map[string]any{
				"payment_method":             "MPESA",
				"amount":                     2500,
				"confirmation_code":          "QDT12345",
				"payment_status_description": "Completed",
				"merchant_reference":         "PESA-1-abc",
				"currency":                   "KES",
				"status":                     "200",
			})
		}
	}))

	status, err := client.GetTransactionStatus(context.Background(), "track-42")
	require.NoError(t, err)
	assert.Equal(t, "Completed", status.PaymentStatus)
	assert.Equal(t, "MPESA", status.PaymentMethod)
	assert.Equal(t, int64(2500), status.Amount)
	assert.Equal(t, "QDT12345", status.Confirmation)
}

func TestClient_GetTransactionStatus_GatewayError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/Auth/RequestToken" {
			authOK(w)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"error_type": "api_error",
				"code":       "invalid_order_tracking_id",
				"message":    "Order tracking id not found",
			},
			"status": "500",
		})
	}))

	_, err := client.GetTransactionStatus(context.Background(), "no-such-id")
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "GW_003", appErr.Code)
}

func TestClient_TokenCached(t *testing.T) {
	var authCalls int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/Auth/RequestToken":
			atomic.AddInt32(&authCalls, 1)
			authOK(w)
		case "/api/Transactions/GetTransactionStatus":
			json.NewEncoder(w).Encode(map[string]any{
				"payment_status_description": "Pending",
				"status":                     "200",
			})
		}
	}))

	for i := 0; i < 3; i++ {
		_, err := client.GetTransactionStatus(context.Background(), "track-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls), "token should be fetched once and reused")
}

func TestClient_AuthRejected(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"error_type": "api_error",
				"code":       "invalid_consumer_key_or_secret_provided",
				"message":    "Invalid Access Token",
			},
			"status": "500",
		})
	}))

	err := client.Ping(context.Background())
	require.Error(t, err)
	var appErr *apperror.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "GW_001", appErr.Code)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name  string
		full  string
		first string
		last  string
	}{
		{"two parts", "Jane Doe", "Jane", "Doe"},
		{"three parts", "Jane Wanjiku Doe", "Jane", "Wanjiku Doe"},
		{"single name", "Jane", "Jane", ""},
		{"empty", "", "", ""},
		{"whitespace", "  Jane Doe  ", "Jane", "Doe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := splitName(tt.full)
			assert.Equal(t, tt.first, first)
			assert.Equal(t, tt.last, last)
		})
	}
}
