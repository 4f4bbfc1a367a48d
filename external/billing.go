package external

import "context"

// BillingGateway is the subscription/payment provider contract:
// webhook signature verification and subscription lookups.
type BillingGateway interface {
	Name() string
	VerifyWebhookSignature(payload []byte, signatureHeader string) error
	FetchSubscriptionStatus(ctx context.Context, providerSubscriptionID string) (status string, err error)
}

// NoopBillingGateway accepts every webhook and reports every
// subscription as active, for environments with no payment provider
// wired up yet.
type NoopBillingGateway struct{}

func NewNoopBillingGateway() *NoopBillingGateway { return &NoopBillingGateway{} }

func (g *NoopBillingGateway) Name() string { return "noop-billing" }

func (g *NoopBillingGateway) VerifyWebhookSignature([]byte, string) error { return nil }

func (g *NoopBillingGateway) FetchSubscriptionStatus(context.Context, string) (string, error) {
	return "active", nil
}

var _ BillingGateway = (*NoopBillingGateway)(nil)
