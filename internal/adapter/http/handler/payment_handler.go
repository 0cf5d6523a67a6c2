package handler

import (
	"pesaflow/internal/adapter/http/dto"
	"pesaflow/internal/core/domain"
	"pesaflow/internal/core/ports"
	"pesaflow/pkg/apperror"
	"pesaflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles the merchant-facing payment endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
	gateway    ports.GatewayClient
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService, gateway ports.GatewayClient) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc, gateway: gateway}
}

// Create handles POST /api/v1/payments.
func (h *PaymentHandler) Create(c *gin.Context) {
	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	result, err := h.paymentSvc.CreatePayment(c.Request.Context(), ports.CreatePaymentRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Description:   req.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.CreatePaymentResponse{
		MerchantReference: result.MerchantReference,
		TrackingID:        result.TrackingID,
		RedirectURL:       result.RedirectURL,
	})
}

// GetStatus handles GET /api/v1/payments/status/:reference.
func (h *PaymentHandler) GetStatus(c *gin.Context) {
	var uri dto.PaymentReferenceURI
	if err := c.ShouldBindUri(&uri); err != nil {
		response.Error(c, apperror.Validation("invalid merchant reference"))
		return
	}

	result, err := h.paymentSvc.GetStatus(c.Request.Context(), uri.Reference)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.PaymentStatusResponse{
		Payment: dto.FromPayment(result.Payment),
		Gateway: dto.FromGatewayStatus(result.Gateway),
	})
}

// List handles GET /api/v1/payments.
func (h *PaymentHandler) List(c *gin.Context) {
	var q dto.ListPaymentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	params := ports.PaymentListParams{Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status := domain.PaymentStatus(q.Status)
		params.Status = &status
	}
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 20
	}

	payments, total, err := h.paymentSvc.ListPayments(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.PaymentResponse, 0, len(payments))
	for i := range payments {
		items = append(items, dto.FromPayment(&payments[i]))
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))
	response.OK(c, dto.PaymentListResponse{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	})
}

// GatewayPing handles GET /api/v1/payments/gateway/ping. It verifies the
// configured gateway credentials with a live authentication round trip.
func (h *PaymentHandler) GatewayPing(c *gin.Context) {
	if err := h.gateway.Ping(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"gateway": "reachable"})
}
