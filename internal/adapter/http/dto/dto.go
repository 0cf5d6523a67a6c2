package dto

import (
	"time"

	"pesaflow/internal/core/domain"
	"pesaflow/internal/core/ports"
)

// CreatePaymentRequest is the request body for payment creation.
type CreatePaymentRequest struct {
	Amount        int64  `json:"amount" binding:"required,gt=0"`
	Currency      string `json:"currency" binding:"omitempty,len=3"`
	CustomerEmail string `json:"customer_email" binding:"required,email"`
	CustomerName  string `json:"customer_name" binding:"required,min=1,max=100"`
	CustomerPhone string `json:"customer_phone" binding:"omitempty,max=20"`
	Description   string `json:"description" binding:"omitempty,max=200"`
}

// CreatePaymentResponse is the response body for successful creation.
type CreatePaymentResponse struct {
	MerchantReference string `json:"merchant_reference"`
	TrackingID        string `json:"tracking_id"`
	RedirectURL       string `json:"redirect_url"`
}

// PaymentReferenceURI binds the merchant reference path parameter.
type PaymentReferenceURI struct {
	Reference string `uri:"reference" binding:"required,safe_id"`
}

// ListPaymentsQuery binds the list endpoint's query parameters.
type ListPaymentsQuery struct {
	Status   string `form:"status" binding:"omitempty,oneof=pending completed failed canceled"`
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// IPNRequest is the push notification body the gateway delivers.
// Every field is optional on the wire; correlation falls back from
// tracking id to merchant reference.
type IPNRequest struct {
	OrderTrackingID        string `json:"order_tracking_id"`
	OrderMerchantReference string `json:"order_merchant_reference"`
	MerchantReference      string `json:"merchant_reference"`
	PaymentStatus          string `json:"payment_status"`
	PaymentMethod          string `json:"payment_method"`
	Amount                 int64  `json:"amount"`
	Currency               string `json:"currency"`
	NotificationType       string `json:"notification_type"`
}

// Reference returns the merchant reference under whichever key the
// gateway used.
func (r IPNRequest) Reference() string {
	if r.OrderMerchantReference != "" {
		return r.OrderMerchantReference
	}
	return r.MerchantReference
}

// PaymentResponse is the serialized payment record.
type PaymentResponse struct {
	ID                   string  `json:"id"`
	MerchantReference    string  `json:"merchant_reference"`
	TrackingID           *string `json:"tracking_id,omitempty"`
	Amount               int64   `json:"amount"`
	Currency             string  `json:"currency"`
	Status               string  `json:"status"`
	PaymentMethod        *string `json:"payment_method,omitempty"`
	CustomerEmail        string  `json:"customer_email"`
	CustomerName         string  `json:"customer_name"`
	Description          string  `json:"description"`
	NotificationReceived bool    `json:"notification_received"`
	CreatedAt            string  `json:"created_at"`
	UpdatedAt            string  `json:"updated_at"`
}

// GatewayStatusResponse is the gateway's live view in a status response.
type GatewayStatusResponse struct {
	PaymentStatus string `json:"payment_status"`
	PaymentMethod string `json:"payment_method,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Confirmation  string `json:"confirmation_code,omitempty"`
}

// PaymentStatusResponse pairs the persisted record with the gateway view.
type PaymentStatusResponse struct {
	Payment PaymentResponse        `json:"payment"`
	Gateway *GatewayStatusResponse `json:"gateway,omitempty"`
}

// PaymentListResponse wraps a paginated payment list.
type PaymentListResponse struct {
	Items      []PaymentResponse `json:"items"`
	Total      int64             `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

// FromPayment maps a domain record onto the wire shape.
func FromPayment(p *domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                   p.ID.String(),
		MerchantReference:    p.MerchantReference,
		TrackingID:           p.TrackingID,
		Amount:               p.Amount,
		Currency:             p.Currency,
		Status:               string(p.Status),
		PaymentMethod:        p.PaymentMethod,
		CustomerEmail:        p.CustomerEmail,
		CustomerName:         p.CustomerName,
		Description:          p.Description,
		NotificationReceived: p.NotificationReceived,
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            p.UpdatedAt.Format(time.RFC3339),
	}
}

// FromGatewayStatus maps the gateway view onto the wire shape.
func FromGatewayStatus(g *ports.GatewayStatus) *GatewayStatusResponse {
	if g == nil {
		return nil
	}
	return &GatewayStatusResponse{
		PaymentStatus: g.PaymentStatus,
		PaymentMethod: g.PaymentMethod,
		Amount:        g.Amount,
		Currency:      g.Currency,
		Confirmation:  g.Confirmation,
	}
}
