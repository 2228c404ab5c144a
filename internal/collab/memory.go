package collab

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBooking is an in-process booking service for local runs and tests.
// When Payments is set, each hold opens a pending transaction for the holder
// at the full total, as the real booking service does.
type MemoryBooking struct {
	Fee           int64
	DefaultAmount int64
	Currency      string
	Payments      *MemoryPayments

	mu        sync.Mutex
	holds     map[string]*Hold
	cancelled map[string][]string
	createErr error
	cancelErr error
}

func NewMemoryBooking() *MemoryBooking {
	return &MemoryBooking{
		Currency:  "usd",
		holds:     make(map[string]*Hold),
		cancelled: make(map[string][]string),
	}
}

func (b *MemoryBooking) FailCreate(err error) { b.mu.Lock(); b.createErr = err; b.mu.Unlock() }
func (b *MemoryBooking) FailCancel(err error) { b.mu.Lock(); b.cancelErr = err; b.mu.Unlock() }

func (b *MemoryBooking) CreateHold(ctx context.Context, userID string, req HoldRequest) (*Hold, error) {
	b.mu.Lock()
	if err := b.createErr; err != nil {
		b.mu.Unlock()
		return nil, err
	}
	amount := req.Amount
	if amount <= 0 {
		amount = b.DefaultAmount
	}
	cur := req.Currency
	if cur == "" {
		cur = b.Currency
	}
	h := &Hold{ID: uuid.NewString(), Amount: amount, Fee: b.Fee, Currency: cur}
	b.holds[h.ID] = h
	b.mu.Unlock()

	if b.Payments != nil {
		tx, err := b.Payments.CreatePayment(ctx, h.ID, userID, h.Total(), "")
		if err != nil {
			return nil, err
		}
		h.TransactionID = tx.ID
	}
	out := *h
	return &out, nil
}

func (b *MemoryBooking) CancelHold(_ context.Context, bookingID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelErr != nil {
		return b.cancelErr
	}
	if _, ok := b.holds[bookingID]; !ok {
		return ErrUnknownBooking
	}
	b.cancelled[bookingID] = append(b.cancelled[bookingID], reason)
	return nil
}

// Cancellations returns the reasons CancelHold was called with for bookingID.
func (b *MemoryBooking) Cancellations(bookingID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.cancelled[bookingID]...)
}

// Released counts holds CancelHold was called on at least once.
func (b *MemoryBooking) Released() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancelled)
}

func (b *MemoryBooking) Holds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.holds)
}

// MemoryPayments records transactions in process. Delay makes every call wait
// for it or for ctx, whichever ends first.
type MemoryPayments struct {
	Delay time.Duration

	mu        sync.Mutex
	txs       map[string]*Transaction
	order     []string
	createErr error
	updateErr error
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{txs: make(map[string]*Transaction)}
}

func (p *MemoryPayments) FailCreate(err error) { p.mu.Lock(); p.createErr = err; p.mu.Unlock() }
func (p *MemoryPayments) FailUpdate(err error) { p.mu.Lock(); p.updateErr = err; p.mu.Unlock() }

func (p *MemoryPayments) wait(ctx context.Context) error {
	if p.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(p.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *MemoryPayments) CreatePayment(ctx context.Context, bookingID, userID string, amount int64, _ string) (*Transaction, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	tx := &Transaction{ID: uuid.NewString(), BookingID: bookingID, UserID: userID, Amount: amount, Status: "pending"}
	p.txs[tx.ID] = tx
	p.order = append(p.order, tx.ID)
	out := *tx
	return &out, nil
}

func (p *MemoryPayments) UpdateTransactionAmount(ctx context.Context, transactionID string, amount int64) error {
	if err := p.wait(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	tx, ok := p.txs[transactionID]
	if !ok {
		return ErrUnknownBooking
	}
	tx.Amount = amount
	return nil
}

func (p *MemoryPayments) CancelTransaction(_ context.Context, transactionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tx, ok := p.txs[transactionID]; ok {
		tx.Status = "cancelled"
	}
	return nil
}

// ForBooking lists the transactions of bookingID in creation order.
func (p *MemoryPayments) ForBooking(bookingID string) []Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Transaction
	for _, id := range p.order {
		if tx := p.txs[id]; tx.BookingID == bookingID {
			out = append(out, *tx)
		}
	}
	return out
}

type MemoryNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *MemoryNotifier) Fail(err error) { n.mu.Lock(); n.err = err; n.mu.Unlock() }

func (n *MemoryNotifier) Notify(_ context.Context, note Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, note)
	return nil
}

// Sent returns the notifications delivered to userID, or all when userID is "".
func (n *MemoryNotifier) Sent(userID string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Notification
	for _, s := range n.sent {
		if userID == "" || s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}
