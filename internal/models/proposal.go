package models

import "time"

type ProposalStatus string

const (
	ProposalPending         ProposalStatus = "pending"
	ProposalAccepted        ProposalStatus = "accepted"
	ProposalRejected        ProposalStatus = "rejected"
	ProposalCompleted       ProposalStatus = "completed"
	ProposalPartiallyFailed ProposalStatus = "partially_failed"
	ProposalExpired         ProposalStatus = "expired"
)

// Open statuses hold a booking and block a second proposal on the match.
func (s ProposalStatus) Open() bool { return s == ProposalPending || s == ProposalAccepted }

type ShareStatus string

const (
	ShareUnpaid ShareStatus = "unpaid"
	SharePaid   ShareStatus = "paid"
)

type Share struct {
	UserID        string      `json:"userId"`
	Amount        int64       `json:"amount"`
	TransactionID string      `json:"transactionId,omitempty"`
	Status        ShareStatus `json:"status"`
	PaidAt        *time.Time  `json:"paidAt,omitempty"`
}

type Proposal struct {
	BookingID   string         `json:"bookingId"`
	MatchID     string         `json:"matchId"`
	ProposerID  string         `json:"proposerId"`
	ReceiverID  string         `json:"receiverId"`
	TotalAmount int64          `json:"totalAmount"`
	ShareAmount int64          `json:"shareAmount"`
	Currency    string         `json:"currency"`
	Proposer    Share          `json:"proposerShare"`
	Receiver    Share          `json:"receiverShare"`
	Status      ProposalStatus `json:"status"`
	Slot        Schedule       `json:"slot"`
	Note        string         `json:"note,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ShareFor returns the share of userID, or nil when the user is not a party.
func (p *Proposal) ShareFor(userID string) *Share {
	switch userID {
	case p.ProposerID:
		return &p.Proposer
	case p.ReceiverID:
		return &p.Receiver
	}
	return nil
}

func (p *Proposal) PaidUserIDs() []string {
	var out []string
	if p.Proposer.Status == SharePaid {
		out = append(out, p.ProposerID)
	}
	if p.Receiver.Status == SharePaid {
		out = append(out, p.ReceiverID)
	}
	return out
}

func (p *Proposal) FullyPaid() bool {
	return p.Proposer.Status == SharePaid && p.Receiver.Status == SharePaid
}

// SplitShare returns the per-side share of total, rounding up on odd totals.
func SplitShare(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return (total + 1) / 2
}

func (p *Proposal) Body() ProposalBody {
	return ProposalBody{
		BookingID:   p.BookingID,
		MatchID:     p.MatchID,
		ProposerID:  p.ProposerID,
		ReceiverID:  p.ReceiverID,
		FieldID:     p.Slot.FieldID,
		CourtID:     p.Slot.CourtID,
		Date:        p.Slot.Date,
		StartTime:   p.Slot.StartTime,
		EndTime:     p.Slot.EndTime,
		TotalAmount: p.TotalAmount,
		ShareAmount: p.ShareAmount,
		Currency:    p.Currency,
		Status:      p.Status,
		Note:        p.Note,
	}
}

// PaymentEventType enumerates events published by the payment gateway side.
type PaymentEventType string

const (
	PaymentSucceeded      PaymentEventType = "payment.succeeded"
	PaymentFailed         PaymentEventType = "payment.failed"
	BookingPaymentExpired PaymentEventType = "booking.payment_expired"
)

type PaymentEvent struct {
	ID            string           `json:"id"`
	Type          PaymentEventType `json:"type"`
	BookingID     string           `json:"bookingId"`
	UserID        string           `json:"userId,omitempty"`
	TransactionID string           `json:"transactionId,omitempty"`
	Amount        int64            `json:"amount,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	OccurredAt    time.Time        `json:"occurredAt"`
}

// MatchEvent is published for downstream collaborators (billing, wallet).
type MatchEvent struct {
	Type        string    `json:"type"`
	MatchID     string    `json:"matchId"`
	BookingID   string    `json:"bookingId"`
	PaidUserIDs []string  `json:"paidUserIds,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

const (
	EventSplitPaymentComplete = "match.split_payment_complete"
	EventSplitPaymentPartial  = "match.split_payment_partial"
	EventSplitPaymentFailed   = "match.split_payment_failed"
)
