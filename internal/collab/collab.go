// Package collab holds the narrow contracts of the services the matching core
// calls but does not own: booking holds, payments, notifications and the
// business directory.
package collab

import (
	"context"
	"errors"
	"time"

	"github.com/example/court-matching/internal/observability"
)

var ErrUnknownBooking = errors.New("unknown booking")

type HoldRequest struct {
	MatchID   string `json:"matchId"`
	FieldID   string `json:"fieldId"`
	CourtID   string `json:"courtId,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	// Amount is the client's quoted price; the booking service may override it.
	Amount   int64  `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// Hold is a reserved but unpaid booking slot. TransactionID, when set, is the
// pending payment the booking service opened for the holder.
type Hold struct {
	ID            string `json:"id"`
	Amount        int64  `json:"amount"`
	Fee           int64  `json:"fee"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transactionId,omitempty"`
}

func (h *Hold) Total() int64 { return h.Amount + h.Fee }

type Booking interface {
	CreateHold(ctx context.Context, userID string, req HoldRequest) (*Hold, error)
	CancelHold(ctx context.Context, bookingID, reason string) error
}

type Transaction struct {
	ID        string `json:"id"`
	BookingID string `json:"bookingId"`
	UserID    string `json:"userId"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
}

type Payments interface {
	CreatePayment(ctx context.Context, bookingID, userID string, amount int64, method string) (*Transaction, error)
	UpdateTransactionAmount(ctx context.Context, transactionID string, amount int64) error
	CancelTransaction(ctx context.Context, transactionID string) error
}

type Notification struct {
	UserID   string            `json:"userId"`
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Type     string            `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// BusinessDirectory resolves which users act for a business profile.
type BusinessDirectory interface {
	OwnsProfile(ctx context.Context, userID, businessProfileID string) (bool, error)
}

func observe(collaborator, op string, start time.Time) {
	observability.CollaboratorLatency.WithLabelValues(collaborator, op).Observe(time.Since(start).Seconds())
}
