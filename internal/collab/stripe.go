package collab

import (
	"context"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripePayments opens one PaymentIntent per share. The booking and user ids
// travel in metadata so webhook-side events can be routed back to the share.
type StripePayments struct {
	currency string
}

// NewStripePayments sets the stripe API key.
func NewStripePayments(apiKey, currency string) *StripePayments {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripePayments{currency: strings.ToLower(currency)}
}

func (s *StripePayments) CreatePayment(ctx context.Context, bookingID, userID string, amount int64, method string) (*Transaction, error) {
	defer observe("payments", "create_payment", time.Now())
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.currency),
	}
	if method != "" {
		params.PaymentMethodTypes = stripe.StringSlice([]string{method})
	}
	params.Context = ctx
	params.AddMetadata("booking_id", bookingID)
	params.AddMetadata("user_id", userID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &Transaction{
		ID:        pi.ID,
		BookingID: bookingID,
		UserID:    userID,
		Amount:    pi.Amount,
		Currency:  string(pi.Currency),
		Status:    string(pi.Status),
	}, nil
}

func (s *StripePayments) UpdateTransactionAmount(ctx context.Context, transactionID string, amount int64) error {
	defer observe("payments", "update_amount", time.Now())
	params := &stripe.PaymentIntentParams{Amount: stripe.Int64(amount)}
	params.Context = ctx
	if _, err := paymentintent.Update(transactionID, params); err != nil {
		return fmt.Errorf("update payment intent %s: %w", transactionID, err)
	}
	return nil
}

// CancelTransaction releases an intent that will never be paid.
func (s *StripePayments) CancelTransaction(ctx context.Context, transactionID string) error {
	defer observe("payments", "cancel", time.Now())
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := paymentintent.Cancel(transactionID, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", transactionID, err)
	}
	return nil
}
