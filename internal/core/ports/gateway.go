package ports

//go:generate mockgen -source=gateway.go -destination=mocks/mock_gateway.go -package=mocks

import "context"

// OrderRequest describes an order to submit to the payment gateway.
type OrderRequest struct {
	MerchantReference string
	Amount            int64
	Currency          string
	Description       string
	CustomerEmail     string
	CustomerName      string
	CustomerPhone     string
}

// OrderResponse is the gateway's answer to a successful order submission.
type OrderResponse struct {
	TrackingID  string
	RedirectURL string
}

// GatewayStatus is the gateway's current view of one transaction.
// PaymentStatus carries the raw gateway keyword; mapping onto local
// statuses is the reconciliation engine's job.
type GatewayStatus struct {
	TrackingID    string
	PaymentStatus string
	PaymentMethod string
	Amount        int64
	Currency      string
	Confirmation  string
}

// GatewayClient hides authentication and wire shape of the external
// payment gateway. Implementations cache credentials internally; callers
// never handle tokens.
type GatewayClient interface {
	// SubmitOrder posts an order and returns the assigned tracking id and
	// the hosted payment page URL. GW_001 on credential rejection, GW_002
	// on order rejection.
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// GetTransactionStatus queries the current status. GW_003 on
	// transport or gateway-side failure. Never mutates local state.
	GetTransactionStatus(ctx context.Context, trackingID string) (*GatewayStatus, error)

	// Ping verifies gateway credentials by forcing an authentication
	// round-trip.
	Ping(ctx context.Context) error
}
