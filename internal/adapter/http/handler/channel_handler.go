package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"pesaflow/config"
	"pesaflow/internal/adapter/http/dto"
	"pesaflow/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ChannelHandler handles the gateway-facing delivery channels: the
// browser callback, the cancellation redirect, and the server-to-server
// push notification. None of them are authenticated; all of them are
// at-least-once and may arrive in any order.
type ChannelHandler struct {
	paymentSvc ports.PaymentService
	frontend   config.FrontendConfig
	log        zerolog.Logger
}

// NewChannelHandler creates a new ChannelHandler.
func NewChannelHandler(paymentSvc ports.PaymentService, frontend config.FrontendConfig, log zerolog.Logger) *ChannelHandler {
	return &ChannelHandler{paymentSvc: paymentSvc, frontend: frontend, log: log}
}

// callbackQuery binds the query parameters of the browser redirect.
type callbackQuery struct {
	OrderTrackingID        string `form:"OrderTrackingId"`
	OrderMerchantReference string `form:"OrderMerchantReference"`
	Status                 string `form:"Status"`
}

// Callback handles GET /api/v1/payments/callback. The customer's browser
// lands here after the hosted payment page; the outcome is a redirect to
// a frontend landing page, never a JSON error.
func (h *ChannelHandler) Callback(c *gin.Context) {
	var q callbackQuery
	if err := c.ShouldBindQuery(&q); err != nil || q.OrderMerchantReference == "" {
		h.log.Warn().Msg("callback with unusable query parameters")
		c.Redirect(http.StatusFound, h.frontend.ErrorURL)
		return
	}

	err := h.paymentSvc.ApplyCallback(c.Request.Context(), ports.CallbackSignal{
		MerchantReference: q.OrderMerchantReference,
		TrackingID:        q.OrderTrackingID,
		Status:            q.Status,
	})
	if err != nil {
		c.Redirect(http.StatusFound, h.frontend.ErrorURL)
		return
	}

	c.Redirect(http.StatusFound, h.frontend.SuccessURL+"?reference="+q.OrderMerchantReference)
}

// Cancel handles GET /api/v1/payments/cancel.
func (h *ChannelHandler) Cancel(c *gin.Context) {
	reference := c.Query("OrderMerchantReference")
	if reference == "" {
		c.Redirect(http.StatusFound, h.frontend.ErrorURL)
		return
	}

	if err := h.paymentSvc.ApplyCancel(c.Request.Context(), reference); err != nil {
		c.Redirect(http.StatusFound, h.frontend.ErrorURL)
		return
	}

	c.Redirect(http.StatusFound, h.frontend.CanceledURL+"?reference="+reference)
}

// IPN handles POST /api/v1/payments/ipn. The gateway retries until it
// sees HTTP 200, so this endpoint acknowledges every delivery it managed
// to read, including ones it dropped.
func (h *ChannelHandler) IPN(c *gin.Context) {
	// The gateway must see 200 even if processing blows up; anything else
	// triggers an unbounded redelivery loop.
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Interface("panic", r).Msg("panic while processing notification")
			c.JSON(http.StatusOK, gin.H{"status": "success"})
		}
	}()

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Warn().Err(err).Msg("unreadable notification body")
		c.JSON(http.StatusOK, gin.H{"status": "success"})
		return
	}

	var req dto.IPNRequest
	if len(raw) == 0 || json.Unmarshal(raw, &req) != nil {
		// Some deliveries arrive as query parameters instead of a body
		req.OrderTrackingID = c.Query("OrderTrackingId")
		req.OrderMerchantReference = c.Query("OrderMerchantReference")
	}

	if err := h.paymentSvc.ApplyNotification(c.Request.Context(), ports.Notification{
		TrackingID:        req.OrderTrackingID,
		MerchantReference: req.Reference(),
		PaymentStatus:     req.PaymentStatus,
		PaymentMethod:     req.PaymentMethod,
		Amount:            req.Amount,
		Currency:          req.Currency,
		Raw:               raw,
	}); err != nil {
		h.log.Error().Err(err).Msg("notification processing failed")
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
