// Package proposal runs the split-payment booking negotiation attached to a
// match: a hold is reserved, each side owes half, and external payment events
// drive the proposal to completion or failure.
package proposal

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/collab"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
	"github.com/example/court-matching/internal/storage"
)

// Realtime events sent to the match room.
const (
	EventUpdated        = "proposal:updated"
	EventPartialPayment = "proposal:partial_payment"
)

var (
	ErrProcessed   = apperr.New(apperr.KindConflict, "proposal_processed", "proposal is no longer in the expected state")
	ErrNotReceiver = apperr.New(apperr.KindForbidden, "not_receiver", "only the receiver can accept this proposal")
	errSharePaid   = apperr.New(apperr.KindConflict, "share_paid", "share already paid")
)

type Matches interface {
	Get(ctx context.Context, userID, matchID string) (*models.Match, error)
	Confirm(ctx context.Context, matchID string, sch models.Schedule) (*models.Match, error)
}

type Chat interface {
	PostProposal(ctx context.Context, roomID, proposerID string, body models.ProposalBody) (*models.Message, error)
	SystemMessage(ctx context.Context, roomID string, body models.SystemBody) (*models.Message, error)
}

type Emitter interface {
	EmitToRoom(ctx context.Context, room, event string, payload any)
}

// Publisher forwards match events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt models.MatchEvent) error
}

type Options struct {
	// BookingTimeout bounds each booking service call, PaymentTimeout each
	// payment call.
	BookingTimeout time.Duration
	PaymentTimeout time.Duration
	PaymentMethod  string
}

type Workflow struct {
	store    storage.ProposalStore
	matches  Matches
	chat     Chat
	rt       Emitter
	booking  collab.Booking
	payments collab.Payments
	notifier collab.Notifier
	pub      Publisher
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

type Deps struct {
	Store    storage.ProposalStore
	Matches  Matches
	Chat     Chat
	Realtime Emitter
	Booking  collab.Booking
	Payments collab.Payments
	Notifier collab.Notifier
	Events   Publisher
}

func NewWorkflow(d Deps, opts Options, logger *slog.Logger) *Workflow {
	if opts.BookingTimeout <= 0 {
		opts.BookingTimeout = 5 * time.Second
	}
	if opts.PaymentTimeout <= 0 {
		opts.PaymentTimeout = 5 * time.Second
	}
	if opts.PaymentMethod == "" {
		opts.PaymentMethod = "card"
	}
	return &Workflow{
		store:    d.Store,
		matches:  d.Matches,
		chat:     d.Chat,
		rt:       d.Realtime,
		booking:  d.Booking,
		payments: d.Payments,
		notifier: d.Notifier,
		pub:      d.Events,
		opts:     opts,
		logger:   logging.OrDiscard(logger),
		now:      time.Now,
	}
}

// Input is the booking the proposer wants to share.
type Input struct {
	FieldID   string `json:"fieldId"`
	CourtID   string `json:"courtId,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Amount    int64  `json:"amount,omitempty"`
	Currency  string `json:"currency,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (in Input) slot() models.Schedule {
	return models.Schedule{Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime, FieldID: in.FieldID, CourtID: in.CourtID}
}

// Update is the payload of proposal room events.
type Update struct {
	Proposal *models.Proposal `json:"proposal"`
	By       string           `json:"by,omitempty"`
}

// Propose reserves a hold, charges the proposer half of it and posts the
// proposal card. Every step after the hold undoes the hold when it fails.
func (w *Workflow) Propose(ctx context.Context, userID, matchID string, in Input) (*models.Proposal, error) {
	slot := in.slot()
	if in.FieldID == "" || !slot.Valid() {
		return nil, apperr.New(apperr.KindValidation, "invalid_booking", "fieldId, date (YYYY-MM-DD) and an HH:MM range are required")
	}
	if in.Amount < 0 {
		return nil, apperr.New(apperr.KindValidation, "invalid_booking", "amount cannot be negative")
	}
	mt, err := w.matches.Get(ctx, userID, matchID)
	if err != nil {
		return nil, err
	}
	if mt.Unmatched() {
		return nil, apperr.New(apperr.KindInvalidState, "match_unmatched", "match has ended")
	}
	if mt.Status == models.MatchScheduled && mt.Schedule != nil && mt.Schedule.BookingID != "" {
		return nil, apperr.New(apperr.KindInvalidState, "match_booked", "match already has a paid booking")
	}
	if open, err := w.hasOpen(ctx, matchID); err != nil {
		return nil, err
	} else if open {
		return nil, apperr.ErrProposalOpen
	}

	hold, err := w.createHold(ctx, userID, collab.HoldRequest{
		MatchID: matchID, FieldID: in.FieldID, CourtID: in.CourtID,
		Date: in.Date, StartTime: in.StartTime, EndTime: in.EndTime,
		Amount: in.Amount, Currency: in.Currency,
	})
	if err != nil {
		observability.ProposalsTotal.WithLabelValues("hold_failed").Inc()
		return nil, apperr.Wrap(apperr.KindDependency, "booking_unavailable", err, "could not reserve the court")
	}
	total := hold.Total()
	if total <= 0 {
		w.compensate(ctx, hold.ID, "", "invalid hold amount")
		return nil, apperr.Newf(apperr.KindDependency, "booking_invalid", "booking service returned total %d", total)
	}
	share := models.SplitShare(total)

	txID, err := w.chargeProposer(ctx, hold, userID, share)
	if err != nil {
		w.compensate(ctx, hold.ID, hold.TransactionID, "proposer payment failed")
		return nil, apperr.Wrap(apperr.KindDependency, "payment_unavailable", err, "could not set up your payment")
	}

	now := w.now().UTC()
	slot.BookingID = hold.ID
	p := &models.Proposal{
		BookingID:   hold.ID,
		MatchID:     matchID,
		ProposerID:  userID,
		ReceiverID:  mt.Counterpart(userID),
		TotalAmount: total,
		ShareAmount: share,
		Currency:    hold.Currency,
		Proposer:    models.Share{UserID: userID, Amount: share, TransactionID: txID, Status: models.ShareUnpaid},
		Receiver:    models.Share{UserID: mt.Counterpart(userID), Amount: share, Status: models.ShareUnpaid},
		Status:      models.ProposalPending,
		Slot:        slot,
		Note:        in.Note,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := w.store.InsertProposal(ctx, p); err != nil {
		w.compensate(ctx, hold.ID, txID, "proposal not recorded")
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.ErrProposalOpen
		}
		return nil, err
	}

	if _, err := w.chat.PostProposal(ctx, mt.ChatRoomID, userID, p.Body()); err != nil {
		if _, terr := w.store.TransitionProposal(ctx, p.BookingID, []models.ProposalStatus{models.ProposalPending}, func(p *models.Proposal) error {
			p.Status = models.ProposalExpired
			return nil
		}); terr != nil {
			w.logger.Error("proposal expiry failed", "booking_id", p.BookingID, "error", terr)
		}
		w.compensate(ctx, hold.ID, txID, "proposal message failed")
		return nil, apperr.Wrap(apperr.KindDependency, "chat_unavailable", err, "could not post the proposal")
	}
	observability.ProposalsTotal.WithLabelValues("proposed").Inc()
	w.logger.Info("proposal created", "booking_id", p.BookingID, "match_id", matchID, "total", total, "share", share)
	return p, nil
}

func (w *Workflow) hasOpen(ctx context.Context, matchID string) (bool, error) {
	all, err := w.store.ListProposals(ctx, matchID)
	if err != nil {
		return false, err
	}
	for _, p := range all {
		if p.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (w *Workflow) createHold(ctx context.Context, userID string, req collab.HoldRequest) (*collab.Hold, error) {
	cctx, cancel := context.WithTimeout(ctx, w.opts.BookingTimeout)
	defer cancel()
	return w.booking.CreateHold(cctx, userID, req)
}

// chargeProposer cuts the holder's transaction down to the share, or opens a
// fresh one when the booking service did not.
func (w *Workflow) chargeProposer(ctx context.Context, hold *collab.Hold, userID string, share int64) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, w.opts.PaymentTimeout)
	defer cancel()
	if hold.TransactionID != "" {
		return hold.TransactionID, w.payments.UpdateTransactionAmount(cctx, hold.TransactionID, share)
	}
	tx, err := w.payments.CreatePayment(cctx, hold.ID, userID, share, w.opts.PaymentMethod)
	if err != nil {
		return "", err
	}
	return tx.ID, nil
}

// compensate releases a hold and its pending transactions on a context that
// outlives the caller's.
func (w *Workflow) compensate(ctx context.Context, bookingID, txID, reason string) {
	observability.ProposalsTotal.WithLabelValues("compensated").Inc()
	w.release(ctx, bookingID, reason, txID)
}

func (w *Workflow) release(ctx context.Context, bookingID, reason string, txIDs ...string) {
	ctx = context.WithoutCancel(ctx)
	bctx, cancel := context.WithTimeout(ctx, w.opts.BookingTimeout)
	err := w.booking.CancelHold(bctx, bookingID, reason)
	cancel()
	if err != nil {
		w.logger.Error("hold release failed", "booking_id", bookingID, "reason", reason, "error", err)
	}
	pctx, cancel := context.WithTimeout(ctx, w.opts.PaymentTimeout)
	defer cancel()
	for _, id := range txIDs {
		if id == "" {
			continue
		}
		if err := w.payments.CancelTransaction(pctx, id); err != nil {
			w.logger.Warn("transaction cancel failed", "booking_id", bookingID, "transaction_id", id, "error", err)
		}
	}
}

// Accept claims the proposal for the receiver before opening the receiver's
// payment, so a failed payment leaves nothing owed.
func (w *Workflow) Accept(ctx context.Context, userID, matchID, bookingID string) (*models.Proposal, error) {
	p, err := w.lookup(ctx, matchID, bookingID)
	if err != nil {
		return nil, err
	}
	if userID != p.ReceiverID {
		if userID == p.ProposerID {
			return nil, ErrNotReceiver
		}
		return nil, apperr.ErrNotParticipant
	}
	pending := []models.ProposalStatus{models.ProposalPending}
	if _, err := w.store.TransitionProposal(ctx, bookingID, pending, func(p *models.Proposal) error {
		p.Status = models.ProposalAccepted
		return nil
	}); err != nil {
		return nil, w.transitionErr(err)
	}

	cctx, cancel := context.WithTimeout(ctx, w.opts.PaymentTimeout)
	tx, err := w.payments.CreatePayment(cctx, bookingID, userID, p.ShareAmount, w.opts.PaymentMethod)
	cancel()
	if err != nil {
		if _, rerr := w.store.TransitionProposal(ctx, bookingID, []models.ProposalStatus{models.ProposalAccepted}, func(p *models.Proposal) error {
			p.Status = models.ProposalPending
			return nil
		}); rerr != nil {
			w.logger.Error("accept revert failed", "booking_id", bookingID, "error", rerr)
		}
		return nil, apperr.Wrap(apperr.KindDependency, "payment_unavailable", err, "could not set up your payment")
	}

	p, err = w.store.TransitionProposal(ctx, bookingID, []models.ProposalStatus{models.ProposalAccepted}, func(p *models.Proposal) error {
		p.Receiver.TransactionID = tx.ID
		return nil
	})
	if err != nil {
		// the proposal ended while the payment was being opened
		w.release(ctx, bookingID, "proposal ended during accept", tx.ID)
		return nil, w.transitionErr(err)
	}
	observability.ProposalsTotal.WithLabelValues("accepted").Inc()
	w.announce(ctx, p, userID, models.SystemBody{
		Code: "proposal_accepted",
		Text: "Booking accepted. Each of you pays " + amount(p.ShareAmount, p.Currency) + ".",
		Data: map[string]any{"bookingId": p.BookingID},
	})
	return p, nil
}

// Reject lets either party drop a pending proposal; the hold is released.
// A share the proposer already paid stays owed to them, so the proposal
// ends partially_failed and the refund is reported downstream.
func (w *Workflow) Reject(ctx context.Context, userID, matchID, bookingID string) (*models.Proposal, error) {
	p, err := w.lookup(ctx, matchID, bookingID)
	if err != nil {
		return nil, err
	}
	if p.ShareFor(userID) == nil {
		return nil, apperr.ErrNotParticipant
	}
	p, err = w.store.TransitionProposal(ctx, bookingID, []models.ProposalStatus{models.ProposalPending}, func(p *models.Proposal) error {
		if len(p.PaidUserIDs()) > 0 {
			p.Status = models.ProposalPartiallyFailed
		} else {
			p.Status = models.ProposalRejected
		}
		return nil
	})
	if err != nil {
		return nil, w.transitionErr(err)
	}
	observability.ProposalsTotal.WithLabelValues("rejected").Inc()
	paid := w.settleUnpaid(ctx, p, "proposal rejected",
		"The booking was declined. Your "+amount(p.ShareAmount, p.Currency)+" will be refunded, or you can report it from your booking history.")
	w.announce(ctx, p, userID, models.SystemBody{
		Code: "proposal_rejected",
		Text: "The booking proposal was declined.",
		Data: map[string]any{"bookingId": p.BookingID, "paidUserIds": paid},
	})
	if len(paid) > 0 {
		w.publish(ctx, p, models.EventSplitPaymentFailed)
	}
	return p, nil
}

// settleUnpaid releases the hold and every unpaid transaction of a proposal
// that ended short of full payment, and tells each paid user a refund is
// owed. It returns the paid user ids.
func (w *Workflow) settleUnpaid(ctx context.Context, p *models.Proposal, reason, refundMsg string) []string {
	var unpaid []string
	for _, s := range []models.Share{p.Proposer, p.Receiver} {
		if s.Status != models.SharePaid {
			unpaid = append(unpaid, s.TransactionID)
		}
	}
	w.release(ctx, p.BookingID, reason, unpaid...)

	paid := p.PaidUserIDs()
	for _, uid := range paid {
		w.notify(ctx, collab.Notification{
			UserID:  uid,
			Title:   "Booking cancelled",
			Message: refundMsg,
			Type:    "split_payment_failed",
			Metadata: map[string]string{
				"bookingId": p.BookingID,
				"matchId":   p.MatchID,
			},
		})
	}
	return paid
}

// HandlePaymentEvent applies one payment gateway event. A repeated event
// finds the proposal past its expected state and returns a Conflict.
func (w *Workflow) HandlePaymentEvent(ctx context.Context, evt models.PaymentEvent) error {
	if evt.BookingID == "" {
		return apperr.New(apperr.KindValidation, "invalid_event", "bookingId is required")
	}
	switch evt.Type {
	case models.PaymentSucceeded:
		return w.paid(ctx, evt)
	case models.PaymentFailed, models.BookingPaymentExpired:
		return w.failed(ctx, evt)
	}
	return apperr.Newf(apperr.KindValidation, "invalid_event", "unknown payment event %q", evt.Type)
}

func (w *Workflow) paid(ctx context.Context, evt models.PaymentEvent) error {
	if evt.UserID == "" {
		return apperr.New(apperr.KindValidation, "invalid_event", "userId is required")
	}
	open := []models.ProposalStatus{models.ProposalPending, models.ProposalAccepted}
	p, err := w.store.TransitionProposal(ctx, evt.BookingID, open, func(p *models.Proposal) error {
		s := p.ShareFor(evt.UserID)
		if s == nil {
			return apperr.New(apperr.KindValidation, "unknown_payer", "payer is not a party to the proposal")
		}
		if s.Status == models.SharePaid {
			return errSharePaid
		}
		at := evt.OccurredAt
		if at.IsZero() {
			at = w.now().UTC()
		}
		s.Status, s.PaidAt = models.SharePaid, &at
		if s.TransactionID == "" {
			s.TransactionID = evt.TransactionID
		}
		if p.FullyPaid() {
			p.Status = models.ProposalCompleted
		}
		return nil
	})
	if errors.Is(err, storage.ErrStale) {
		return w.resumeCompleted(ctx, evt)
	}
	if err != nil {
		return w.transitionErr(err)
	}

	if p.Status != models.ProposalCompleted {
		observability.ProposalsTotal.WithLabelValues("partial").Inc()
		w.emit(ctx, p, EventPartialPayment, evt.UserID)
		w.publish(ctx, p, models.EventSplitPaymentPartial)
		return nil
	}
	observability.ProposalsTotal.WithLabelValues("completed").Inc()
	return w.complete(ctx, p, evt.UserID)
}

// resumeCompleted handles a success event for a proposal that is no longer
// open. A completed proposal whose match was never scheduled with it gets
// the confirmation retried; anything else is a repeat.
func (w *Workflow) resumeCompleted(ctx context.Context, evt models.PaymentEvent) error {
	p, err := w.store.GetProposal(ctx, evt.BookingID)
	if err != nil {
		return w.transitionErr(err)
	}
	if p.Status != models.ProposalCompleted {
		return ErrProcessed
	}
	if p.ShareFor(evt.UserID) == nil {
		return apperr.New(apperr.KindValidation, "unknown_payer", "payer is not a party to the proposal")
	}
	mt, err := w.matches.Get(ctx, p.ProposerID, p.MatchID)
	if err != nil {
		return apperr.Wrap(apperr.KindDependency, "confirm_failed", err, "could not load the match")
	}
	if mt.Status == models.MatchScheduled && mt.Schedule != nil && mt.Schedule.BookingID == p.BookingID {
		return ErrProcessed
	}
	w.logger.Info("resuming match confirmation", "booking_id", p.BookingID, "match_id", p.MatchID)
	return w.complete(ctx, p, evt.UserID)
}

// complete schedules the match for a fully paid proposal. A failed
// confirmation is a Dependency error so the event is delivered again.
func (w *Workflow) complete(ctx context.Context, p *models.Proposal, by string) error {
	mt, err := w.matches.Confirm(ctx, p.MatchID, p.Slot)
	if err != nil {
		w.logger.Error("match confirm failed", "booking_id", p.BookingID, "match_id", p.MatchID, "error", err)
		return apperr.Wrap(apperr.KindDependency, "confirm_failed", err, "could not schedule the match")
	}
	w.system(ctx, mt.ChatRoomID, models.SystemBody{
		Code: "booking_confirmed",
		Text: "Both shares are paid. Your game on " + p.Slot.Date + " at " + p.Slot.StartTime + " is booked.",
		Data: map[string]any{"bookingId": p.BookingID},
	})
	w.rt.EmitToRoom(ctx, mt.ChatRoomID, EventUpdated, Update{Proposal: p, By: by})
	w.publish(ctx, p, models.EventSplitPaymentComplete)
	return nil
}

func (w *Workflow) failed(ctx context.Context, evt models.PaymentEvent) error {
	open := []models.ProposalStatus{models.ProposalPending, models.ProposalAccepted}
	p, err := w.store.TransitionProposal(ctx, evt.BookingID, open, func(p *models.Proposal) error {
		if len(p.PaidUserIDs()) > 0 {
			p.Status = models.ProposalPartiallyFailed
		} else {
			p.Status = models.ProposalExpired
		}
		return nil
	})
	if err != nil {
		return w.transitionErr(err)
	}
	observability.ProposalsTotal.WithLabelValues(string(p.Status)).Inc()

	paid := w.settleUnpaid(ctx, p, string(evt.Type),
		"Your partner did not complete their payment. Your "+amount(p.ShareAmount, p.Currency)+" will be refunded, or you can report it from your booking history.")
	w.announce(ctx, p, "", models.SystemBody{
		Code: "booking_cancelled",
		Text: "The booking was cancelled because payment was not completed in time.",
		Data: map[string]any{"bookingId": p.BookingID, "paidUserIds": paid},
	})
	w.publish(ctx, p, models.EventSplitPaymentFailed)
	return nil
}

func (w *Workflow) Get(ctx context.Context, userID, bookingID string) (*models.Proposal, error) {
	p, err := w.store.GetProposal(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	if p.ShareFor(userID) == nil {
		return nil, apperr.ErrNotParticipant
	}
	return p, nil
}

// ListForMatch returns the match's proposals newest first.
func (w *Workflow) ListForMatch(ctx context.Context, userID, matchID string) ([]*models.Proposal, error) {
	if _, err := w.matches.Get(ctx, userID, matchID); err != nil {
		return nil, err
	}
	return w.store.ListProposals(ctx, matchID)
}

func (w *Workflow) lookup(ctx context.Context, matchID, bookingID string) (*models.Proposal, error) {
	p, err := w.store.GetProposal(ctx, bookingID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, notFound()
	}
	if err != nil {
		return nil, err
	}
	if p.MatchID != matchID {
		return nil, notFound()
	}
	return p, nil
}

func (w *Workflow) transitionErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrStale):
		return ErrProcessed
	case errors.Is(err, storage.ErrNotFound):
		return notFound()
	}
	return err
}

// announce posts a system message to the match room and refreshes clients.
func (w *Workflow) announce(ctx context.Context, p *models.Proposal, by string, body models.SystemBody) {
	mt, err := w.matches.Get(ctx, p.ProposerID, p.MatchID)
	if err != nil {
		w.logger.Warn("match lookup failed", "booking_id", p.BookingID, "match_id", p.MatchID, "error", err)
		return
	}
	w.system(ctx, mt.ChatRoomID, body)
	w.rt.EmitToRoom(ctx, mt.ChatRoomID, EventUpdated, Update{Proposal: p, By: by})
}

func (w *Workflow) emit(ctx context.Context, p *models.Proposal, event, by string) {
	mt, err := w.matches.Get(ctx, p.ProposerID, p.MatchID)
	if err != nil {
		w.logger.Warn("match lookup failed", "booking_id", p.BookingID, "match_id", p.MatchID, "error", err)
		return
	}
	w.rt.EmitToRoom(ctx, mt.ChatRoomID, event, Update{Proposal: p, By: by})
}

func (w *Workflow) system(ctx context.Context, roomID string, body models.SystemBody) {
	if _, err := w.chat.SystemMessage(ctx, roomID, body); err != nil {
		w.logger.Warn("system message failed", "room_id", roomID, "code", body.Code, "error", err)
	}
}

func (w *Workflow) notify(ctx context.Context, n collab.Notification) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, n); err != nil {
		w.logger.Warn("notification failed", "user_id", n.UserID, "type", n.Type, "error", err)
	}
}

func (w *Workflow) publish(ctx context.Context, p *models.Proposal, typ string) {
	if w.pub == nil {
		return
	}
	evt := models.MatchEvent{
		Type:       typ,
		MatchID:    p.MatchID,
		BookingID:  p.BookingID,
		OccurredAt: w.now().UTC(),
	}
	if typ != models.EventSplitPaymentComplete {
		evt.PaidUserIDs = p.PaidUserIDs()
	}
	if err := w.pub.Publish(ctx, evt); err != nil {
		w.logger.Error("match event publish failed", "type", typ, "booking_id", p.BookingID, "error", err)
	}
}

func notFound() error {
	return apperr.New(apperr.KindNotFound, "booking_not_found", "proposal not found")
}

// amount renders minor units, e.g. 1051 usd as "10.51 USD".
func amount(minor int64, currency string) string {
	cents := minor % 100
	s := strconv.FormatInt(minor/100, 10) + "."
	if cents < 10 {
		s += "0"
	}
	s += strconv.FormatInt(cents, 10)
	if currency != "" {
		s += " " + strings.ToUpper(currency)
	}
	return s
}
