package webhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"

	"lessonpay/internal/db"
	"lessonpay/internal/status"
)

// fakeLedger hands out a canned begin decision and records marks.
type fakeLedger struct {
	decision  *db.BeginDecision
	beginErr  error
	markErr   error
	prior     *db.LedgerEntry
	succeeded []string
	failed    []ledgerMark
}

type ledgerMark struct {
	eventID  string
	code     string
	reason   string
	terminal bool
}

func processDecision() *db.BeginDecision {
	return &db.BeginDecision{Action: db.ActionProcess, Status: db.LedgerProcessing}
}

func (l *fakeLedger) BeginProcessing(_ context.Context, eventID, eventType, objectID string) (*db.BeginDecision, error) {
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	if l.decision != nil {
		return l.decision, nil
	}
	return &db.BeginDecision{
		Action:    db.ActionProcess,
		DedupeKey: db.DedupeKey(eventType, objectID),
		ObjectID:  objectID,
		Status:    db.LedgerProcessing,
	}, nil
}

func (l *fakeLedger) MarkLedgerSucceeded(_ context.Context, eventID string) error {
	if l.markErr != nil {
		return l.markErr
	}
	l.succeeded = append(l.succeeded, eventID)
	return nil
}

func (l *fakeLedger) MarkLedgerFailed(_ context.Context, eventID, errorCode, reason string, terminal bool) error {
	if l.markErr != nil {
		return l.markErr
	}
	l.failed = append(l.failed, ledgerMark{eventID: eventID, code: errorCode, reason: reason, terminal: terminal})
	return nil
}

func (l *fakeLedger) FindLatestLedgerEntryByDedupeKey(context.Context, string, string) (*db.LedgerEntry, error) {
	return l.prior, nil
}

// fakeStore is an in-memory PaymentStore recording every updater call.
type fakeStore struct {
	payments []*db.Payment

	findErr   error
	updateErr error

	checkoutLinks   []db.CheckoutLinkParams
	paidIntents     []db.PaidFromIntentParams
	failedIntents   []string
	failedSessions  []string
	chargeSnapshots []db.ChargeSnapshotParams
	failedCharges   []string
	refundUpdates   []db.RefundAggregateParams
	feeUpdates      []feeAggregateCall
	disputes        []db.DisputeParams
}

type feeAggregateCall struct {
	paymentID uuid.UUID
	amount    int64
	refundID  *string
	eventID   string
}

func (s *fakeStore) find(match func(*db.Payment) bool) (*db.Payment, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, p := range s.payments {
		if match(p) {
			return p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindPaymentByID(_ context.Context, id uuid.UUID) (*db.Payment, error) {
	return s.find(func(p *db.Payment) bool { return p.ID == id })
}

func (s *fakeStore) FindPaymentByPaymentIntentID(_ context.Context, piID string) (*db.Payment, error) {
	return s.find(func(p *db.Payment) bool { return p.PaymentIntentID != nil && *p.PaymentIntentID == piID })
}

func (s *fakeStore) FindPaymentByChargeID(_ context.Context, chargeID string) (*db.Payment, error) {
	return s.find(func(p *db.Payment) bool { return p.ChargeID != nil && *p.ChargeID == chargeID })
}

func (s *fakeStore) FindPaymentByCheckoutSessionID(_ context.Context, sessionID string) (*db.Payment, error) {
	return s.find(func(p *db.Payment) bool { return p.CheckoutSessionID != nil && *p.CheckoutSessionID == sessionID })
}

func (s *fakeStore) FindPaymentByApplicationFeeID(_ context.Context, feeID string) (*db.Payment, error) {
	return s.find(func(p *db.Payment) bool { return p.ApplicationFeeID != nil && *p.ApplicationFeeID == feeID })
}

func (s *fakeStore) SaveCheckoutSessionLink(_ context.Context, p db.CheckoutLinkParams) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.checkoutLinks = append(s.checkoutLinks, p)
	return nil
}

func (s *fakeStore) MarkPaidFromPaymentIntent(_ context.Context, p db.PaidFromIntentParams) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.paidIntents = append(s.paidIntents, p)
	return nil
}

func (s *fakeStore) MarkFailedFromPaymentIntent(_ context.Context, paymentID uuid.UUID, piID, eventID string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.failedIntents = append(s.failedIntents, piID)
	return nil
}

func (s *fakeStore) MarkFailedFromCheckoutSession(_ context.Context, paymentID uuid.UUID, sessionID, eventID string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.failedSessions = append(s.failedSessions, sessionID)
	return nil
}

func (s *fakeStore) MarkPaidFromChargeSnapshot(_ context.Context, p db.ChargeSnapshotParams) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.chargeSnapshots = append(s.chargeSnapshots, p)
	return nil
}

func (s *fakeStore) MarkFailedFromCharge(_ context.Context, paymentID uuid.UUID, chargeID, eventID string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.failedCharges = append(s.failedCharges, chargeID)
	return nil
}

func (s *fakeStore) UpdateRefundAggregate(_ context.Context, p db.RefundAggregateParams) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.refundUpdates = append(s.refundUpdates, p)
	return nil
}

func (s *fakeStore) UpdateApplicationFeeRefundAggregate(_ context.Context, paymentID uuid.UUID, amount int64, refundID *string, eventID string) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.feeUpdates = append(s.feeUpdates, feeAggregateCall{paymentID: paymentID, amount: amount, refundID: refundID, eventID: eventID})
	return nil
}

func (s *fakeStore) UpsertDispute(_ context.Context, p db.DisputeParams) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.disputes = append(s.disputes, p)
	return nil
}

// fakeFetcher returns canned provider objects.
type fakeFetcher struct {
	charge    *stripe.Charge
	chargeErr error
	pi        *stripe.PaymentIntent
	piErr     error
	feeSum    int64
	feeLatest string
	feeErr    error
	feeCalls  int
}

func (f *fakeFetcher) RetrieveCharge(context.Context, string) (*stripe.Charge, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	return f.charge, nil
}

func (f *fakeFetcher) RetrievePaymentIntent(context.Context, string) (*stripe.PaymentIntent, error) {
	if f.piErr != nil {
		return nil, f.piErr
	}
	return f.pi, nil
}

func (f *fakeFetcher) SumApplicationFeeRefunds(context.Context, string) (int64, string, error) {
	f.feeCalls++
	if f.feeErr != nil {
		return 0, "", f.feeErr
	}
	return f.feeSum, f.feeLatest, nil
}

// fakeEffects records scheduled side effects.
type fakeEffects struct {
	completed []uuid.UUID
	refunded  []uuid.UUID
	checkouts []string
}

func (f *fakeEffects) PaymentCompleted(paymentID uuid.UUID, _ *uuid.UUID, _ int64, _ string) {
	f.completed = append(f.completed, paymentID)
}

func (f *fakeEffects) PaymentRefunded(paymentID uuid.UUID, _ *uuid.UUID) {
	f.refunded = append(f.refunded, paymentID)
}

func (f *fakeEffects) TrackCheckout(gaClientID string, _ uuid.UUID, _ int64, _ string) {
	f.checkouts = append(f.checkouts, gaClientID)
}

// harness bundles a processor with its fakes.
type harness struct {
	ledger  *fakeLedger
	store   *fakeStore
	fetcher *fakeFetcher
	effects *fakeEffects
	proc    *Processor
}

func newHarness() *harness {
	h := &harness{
		ledger:  &fakeLedger{},
		store:   &fakeStore{},
		fetcher: &fakeFetcher{},
		effects: &fakeEffects{},
	}
	h.proc = NewProcessor(h.ledger, h.store, h.fetcher, h.effects)
	return h
}

func makeEvent(id, eventType string, object map[string]interface{}) *stripe.Event {
	raw, err := json.Marshal(object)
	if err != nil {
		panic(err)
	}
	return &stripe.Event{
		ID:   id,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func newPayment(st status.Status, amount int64) *db.Payment {
	return &db.Payment{ID: uuid.New(), Status: st, Amount: amount}
}

func strPtr(s string) *string { return &s }
