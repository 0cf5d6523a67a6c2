package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pesaflow/config"
	"pesaflow/internal/core/ports"
	"pesaflow/pkg/apperror"

	"github.com/rs/zerolog"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the Pesapal v3 REST API. It caches the bearer token
// under a mutex and refreshes it before expiry.
type Client struct {
	cfg        config.PesapalConfig
	httpClient HTTPClient
	log        zerolog.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a Pesapal API client.
func NewClient(cfg config.PesapalConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log,
	}
}

type authRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type authResponse struct {
	Token      string        `json:"token"`
	ExpiryDate string        `json:"expiryDate"`
	Error      *gatewayError `json:"error"`
	Status     string        `json:"status"`
}

type gatewayError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *gatewayError) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type billingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	CountryCode  string `json:"country_code"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type submitOrderRequest struct {
	ID              string         `json:"id"`
	Currency        string         `json:"currency"`
	Amount          int64          `json:"amount"`
	Description     string         `json:"description"`
	CallbackURL     string         `json:"callback_url"`
	CancellationURL string         `json:"cancellation_url,omitempty"`
	NotificationID  string         `json:"notification_id"`
	BillingAddress  billingAddress `json:"billing_address"`
}

type submitOrderResponse struct {
	OrderTrackingID   string        `json:"order_tracking_id"`
	MerchantReference string        `json:"merchant_reference"`
	RedirectURL       string        `json:"redirect_url"`
	Error             *gatewayError `json:"error"`
	Status            string        `json:"status"`
}

type transactionStatusResponse struct {
	PaymentMethod            string        `json:"payment_method"`
	Amount                   int64         `json:"amount"`
	ConfirmationCode         string        `json:"confirmation_code"`
	PaymentStatusDescription string        `json:"payment_status_description"`
	MerchantReference        string        `json:"merchant_reference"`
	Currency                 string        `json:"currency"`
	Error                    *gatewayError `json:"error"`
	Status                   string        `json:"status"`
}

// getToken returns a cached bearer token, authenticating when the cached
// one is missing or about to expire.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}

	c.token = token
	c.tokenExpiry = time.Now().Add(c.cfg.TokenTTL)
	return token, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// authenticate requests a fresh bearer token. Caller holds the mutex.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.AuthTimeout)
	defer cancel()

	body, err := json.Marshal(authRequest{
		ConsumerKey:    c.cfg.ConsumerKey,
		ConsumerSecret: c.cfg.ConsumerSecret,
	})
	if err != nil {
		return "", apperror.InternalError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/Auth/RequestToken", bytes.NewReader(body))
	if err != nil {
		return "", apperror.InternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperror.ErrGatewayAuth(err)
	}
	defer resp.Body.Close()

	var authResp authResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", apperror.ErrGatewayAuth(fmt.Errorf("decoding auth response: %w", err))
	}

	if resp.StatusCode != http.StatusOK || authResp.Error != nil || authResp.Token == "" {
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("gateway_error", authResp.Error.String()).
			Msg("Pesapal authentication rejected")
		return "", apperror.ErrGatewayAuth(fmt.Errorf("gateway rejected credentials: %s", authResp.Error.String()))
	}

	c.log.Debug().Msg("Pesapal token refreshed")
	return authResp.Token, nil
}

// SubmitOrder registers a payment order with Pesapal and returns the
// tracking id plus the hosted payment page URL.
func (c *Client) SubmitOrder(ctx context.Context, order ports.OrderRequest) (*ports.OrderResponse, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, err
	}

	firstName, lastName := splitName(order.CustomerName)
	payload := submitOrderRequest{
		ID:              order.MerchantReference,
		Currency:        order.Currency,
		Amount:          order.Amount,
		Description:     order.Description,
		CallbackURL:     c.cfg.CallbackURL,
		CancellationURL: c.cfg.CancellationURL,
		NotificationID:  c.cfg.IPNID,
		BillingAddress: billingAddress{
			EmailAddress: order.CustomerEmail,
			PhoneNumber:  order.CustomerPhone,
			CountryCode:  c.cfg.CountryCode,
			FirstName:    firstName,
			LastName:     lastName,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperror.InternalError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/Transactions/SubmitOrderRequest", bytes.NewReader(body))
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.ErrOrderSubmission("transport failure", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Cached token went stale; the next call re-authenticates
		c.invalidateToken()
		return nil, apperror.ErrOrderSubmission("token rejected", fmt.Errorf("gateway returned 401"))
	}

	var orderResp submitOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&orderResp); err != nil {
		return nil, apperror.ErrOrderSubmission("unreadable response", err)
	}

	if orderResp.Error != nil || orderResp.OrderTrackingID == "" {
		detail := orderResp.Error.String()
		if detail == "" {
			detail = fmt.Sprintf("gateway returned status %d without a tracking id", resp.StatusCode)
		}
		c.log.Error().
			Str("merchant_reference", order.MerchantReference).
			Str("gateway_error", detail).
			Msg("Pesapal order submission rejected")
		return nil, apperror.ErrOrderSubmission(detail, nil)
	}

	return &ports.OrderResponse{
		TrackingID:  orderResp.OrderTrackingID,
		RedirectURL: orderResp.RedirectURL,
	}, nil
}

// GetTransactionStatus queries the authoritative status of a transaction.
func (c *Client) GetTransactionStatus(ctx context.Context, trackingID string) (*ports.GatewayStatus, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, apperror.ErrStatusQuery(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatusTimeout)
	defer cancel()

	endpoint := c.cfg.BaseURL + "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(trackingID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.ErrStatusQuery(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.invalidateToken()
		return nil, apperror.ErrStatusQuery(fmt.Errorf("gateway returned 401"))
	}

	var statusResp transactionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&statusResp); err != nil {
		return nil, apperror.ErrStatusQuery(fmt.Errorf("decoding status response: %w", err))
	}

	if statusResp.Error != nil && statusResp.Error.Code != "" {
		c.log.Error().
			Str("tracking_id", trackingID).
			Str("gateway_error", statusResp.Error.String()).
			Msg("Pesapal status query rejected")
		return nil, apperror.ErrStatusQuery(fmt.Errorf("gateway error: %s", statusResp.Error.String()))
	}

	return &ports.GatewayStatus{
		TrackingID:    trackingID,
		PaymentStatus: statusResp.PaymentStatusDescription,
		PaymentMethod: statusResp.PaymentMethod,
		Amount:        statusResp.Amount,
		Currency:      statusResp.Currency,
		Confirmation:  statusResp.ConfirmationCode,
	}, nil
}

// Ping verifies the configured credentials by forcing a fresh
// authentication round trip.
func (c *Client) Ping(ctx context.Context) error {
	c.invalidateToken()
	_, err := c.getToken(ctx)
	return err
}

// splitName separates a full name into the first and last name fields
// the gateway's billing address expects.
func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	parts := strings.SplitN(full, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
