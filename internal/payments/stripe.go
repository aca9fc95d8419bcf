package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Gateway is the payment collaborator consumed by the booking lifecycle.
// Calls are best-effort: a gateway failure is logged by the caller and
// never rolls back a booking transition.
type Gateway interface {
	// Hold places a manual-capture hold and returns its id.
	Hold(ctx context.Context, amountCents int64, currency, customerID string) (string, error)
	// Capture finalizes a previously-held amount after completion.
	Capture(ctx context.Context, holdID string) error
	// Release cancels the hold after a cancellation.
	Release(ctx context.Context, holdID string) error
}

// StripeGateway is a thin wrapper around stripe-go PaymentIntents.
type StripeGateway struct{}

// NewStripeGateway initializes the stripe client with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (s *StripeGateway) Hold(ctx context.Context, amountCents int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

func (s *StripeGateway) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

func (s *StripeGateway) Release(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
