package payment

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"legalbot/internal/cache"
	"legalbot/internal/domain"
	"legalbot/internal/repository"
)

// fakeProvider is a scriptable provider adapter.
type fakeProvider struct {
	name        domain.PaymentProvider
	checkoutURL string
	checkoutErr error
	verifyOK    bool
	refundOK    bool

	mu          sync.Mutex
	refundCalls int
}

func (f *fakeProvider) Name() domain.PaymentProvider { return f.name }

func (f *fakeProvider) CreateCheckout(_ context.Context, _ domain.Money, orderID, _ string) (string, error) {
	if f.checkoutErr != nil {
		return "", f.checkoutErr
	}
	return f.checkoutURL + "?order=" + orderID, nil
}

func (f *fakeProvider) VerifyCallback(map[string]string) bool { return f.verifyOK }

func (f *fakeProvider) ParseCallback(payload map[string]string) *CallbackData {
	orderID := payload["order_id"]
	txnID := payload["transaction_id"]
	if orderID == "" || txnID == "" {
		return nil
	}
	status := domain.PaymentStatus(payload["status"])
	return &CallbackData{OrderID: orderID, Status: status, TransactionID: txnID}
}

func (f *fakeProvider) Refund(context.Context, string, *domain.Money) bool {
	f.mu.Lock()
	f.refundCalls++
	f.mu.Unlock()
	return f.refundOK
}

type sentMessage struct {
	userID int64
	key    string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, key string, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{userID: userID, key: key})
	return nil
}

func (f *fakeNotifier) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.key)
	}
	return out
}

type serviceFixture struct {
	svc           *Service
	db            *gorm.DB
	payments      *repository.PaymentRepository
	consultations *repository.ConsultationRepository
	provider      *fakeProvider
	notifier      *fakeNotifier
	redis         *miniredis.Miniredis
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db, err := gorm.Open(
		sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: ":memory:"}),
		&gorm.Config{TranslateError: true},
	)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Consultation{}, &domain.Payment{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	provider := &fakeProvider{
		name:        domain.ProviderClick,
		checkoutURL: "https://pay.example/checkout",
		verifyOK:    true,
		refundOK:    true,
	}
	notifier := &fakeNotifier{}
	payments := repository.NewPaymentRepository(db)
	consultations := repository.NewConsultationRepository(db)

	svc := NewService(payments, consultations, NewRegistry(provider), cache.NewFromClient(client), notifier)

	return &serviceFixture{
		svc:           svc,
		db:            db,
		payments:      payments,
		consultations: consultations,
		provider:      provider,
		notifier:      notifier,
		redis:         mr,
	}
}

func (f *serviceFixture) seedConsultation(t *testing.T, status domain.ConsultationStatus) *domain.Consultation {
	t.Helper()

	c := &domain.Consultation{
		UserID:             7,
		Type:               domain.ConsultationOnline,
		Status:             status,
		Amount:             5_000_000,
		Currency:           domain.CurrencyUZS,
		PhoneNumber:        "+998901234567",
		ProblemDescription: "contract dispute with landlord",
	}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func completedCallback(orderID string) map[string]string {
	return map[string]string{
		"order_id":       orderID,
		"transaction_id": "txn-1",
		"status":         string(domain.PaymentCompleted),
	}
}

func TestHappyPathSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)

	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{
		ConsultationID: c.ID,
		Provider:       "click",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, created.Status)
	assert.Contains(t, created.CheckoutURL, "order=order_")
	assert.Equal(t, "50000.00", created.Amount)

	// The snapshot is cached for reads.
	snap, err := f.svc.GetPayment(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, snap.Status)

	result, err := f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)
	assert.Equal(t, CallbackProcessed, result.Outcome)
	assert.Equal(t, domain.PaymentCompleted, result.Status)

	// The consultation flipped to paid in the same pass.
	got, err := f.consultations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationPaid, got.Status)
	assert.True(t, got.IsPaid)

	// The stale snapshot was invalidated; the next read sees completed.
	snap, err = f.svc.GetPayment(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, snap.Status)

	assert.Contains(t, f.notifier.keys(), "payment_completed")
}

// flakyConsultations fails the first N MarkPaid calls and then delegates.
type flakyConsultations struct {
	consultationStore
	failures int
	calls    int
}

func (fc *flakyConsultations) MarkPaid(ctx context.Context, id int64, paymentRef, changedBy string) (bool, error) {
	fc.calls++
	if fc.calls <= fc.failures {
		return false, errors.New("deadlock detected")
	}
	return fc.consultationStore.MarkPaid(ctx, id, paymentRef, changedBy)
}

func TestSettlementRetriesMarkPaidOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flaky := &flakyConsultations{consultationStore: f.consultations, failures: 1}
	svc := NewService(f.payments, flaky, f.svc.providers, f.svc.cache, f.notifier)

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)

	result, err := svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)
	assert.Equal(t, CallbackProcessed, result.Outcome)

	// The transient failure is absorbed by the immediate retry.
	assert.Equal(t, 2, flaky.calls)
	got, err := f.consultations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationPaid, got.Status)
	assert.Contains(t, f.notifier.keys(), "payment_completed")
}

func TestSettlementDefersToReconcileAfterRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	flaky := &flakyConsultations{consultationStore: f.consultations, failures: 2}
	svc := NewService(f.payments, flaky, f.svc.providers, f.svc.cache, f.notifier)

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)

	result, err := svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)
	assert.Equal(t, CallbackProcessed, result.Outcome)
	assert.Equal(t, 2, flaky.calls)

	// The payment is completed but the consultation stayed pending until
	// the sweep picks it up.
	got, err := f.consultations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationPending, got.Status)

	res, err := svc.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)

	got, err = f.consultations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationPaid, got.Status)
}

func TestDuplicateCallbackDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)

	payload := completedCallback("order_" + itoa(created.ID))

	first, err := f.svc.ProcessCallback(ctx, "click", payload)
	require.NoError(t, err)
	assert.Equal(t, CallbackProcessed, first.Outcome)

	second, err := f.svc.ProcessCallback(ctx, "click", payload)
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, second.Outcome)

	// Exactly one transition was recorded and one notification sent.
	p, err := f.payments.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, domain.StatusHistory(p.Metadata), 1)

	keys := f.notifier.keys()
	count := 0
	for _, k := range keys {
		if k == "payment_completed" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRejectedSignatureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)

	f.provider.verifyOK = false
	result, err := f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, CallbackRejected, result.Outcome)

	p, err := f.payments.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, p.Status)
	assert.Empty(t, domain.StatusHistory(p.Metadata))
}

func TestCallbackForUnknownOrder(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.ProcessCallback(context.Background(), "click", completedCallback("order_999999"))
	require.Error(t, err)
	assert.Equal(t, CallbackRejected, result.Outcome)
}

func TestCancelAndRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)
	_, err = f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)

	got, err := f.svc.CancelAndRefund(ctx, c.ID, "client request", "user:7")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationCancelled, got.Status)

	p, err := f.payments.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, p.Status)
	require.NotNil(t, p.RefundAmount)
	assert.Equal(t, int64(5_000_000), *p.RefundAmount)
	assert.NotEmpty(t, p.RefundTransactionID)

	// The refund mirrors onto the consultation row.
	cRow, err := f.consultations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, cRow.RefundAmount)
	assert.Equal(t, int64(5_000_000), *cRow.RefundAmount)

	assert.Contains(t, f.notifier.keys(), "refund_processed")
}

func TestCancelWithoutCompletedPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)

	got, err := f.svc.CancelAndRefund(ctx, c.ID, "changed my mind", "user:7")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationCancelled, got.Status)
	assert.Equal(t, 0, f.provider.refundCalls)
}

func TestCancelWithNoRefundFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)
	_, err = f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)

	_, err = f.svc.SetNoRefund(ctx, created.ID, true, "staff:anna")
	require.NoError(t, err)

	got, err := f.svc.CancelAndRefund(ctx, c.ID, "client request", "user:7")
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationCancelled, got.Status)
	assert.Equal(t, 0, f.provider.refundCalls, "policy flag blocks the provider call")

	p, err := f.payments.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, p.Status)
}

func TestRefundProviderRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)
	_, err = f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)

	f.provider.refundOK = false
	_, err = f.svc.RefundPayment(ctx, created.ID, "client request", "staff")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefundFailed)

	// The payment stays completed with the failure on record for retry.
	p, err := f.payments.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentCompleted, p.Status)

	history := domain.StatusHistory(p.Metadata)
	var failed bool
	for _, h := range history {
		if h.To == "refund_failed" {
			failed = true
		}
	}
	assert.True(t, failed)

	// Retry succeeds once the provider accepts.
	f.provider.refundOK = true
	refunded, err := f.svc.RefundPayment(ctx, created.ID, "client request", "staff")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefunded, refunded.Status)
}

func TestRefundOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)
	_, err = f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(31 * 24 * time.Hour) }

	_, err = f.svc.RefundPayment(ctx, created.ID, "too late", "staff")
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
	assert.Equal(t, 0, f.provider.refundCalls)
}

func TestCreatePaymentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)

	_, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "stripe"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = f.svc.CreatePayment(ctx, 999, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	paid := f.seedConsultation(t, domain.ConsultationPaid)
	_, err = f.svc.CreatePayment(ctx, paid.UserID, CreatePaymentRequest{ConsultationID: paid.ID, Provider: "click"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestReissueCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)

	f.provider.checkoutURL = "https://pay.example/v2"
	got, err := f.svc.ReissueCheckout(ctx, created.ID)
	require.NoError(t, err)
	assert.Contains(t, got.CheckoutURL, "https://pay.example/v2")

	// Settled payments get no new checkout.
	_, err = f.svc.ProcessCallback(ctx, "click", completedCallback("order_"+itoa(created.ID)))
	require.NoError(t, err)
	_, err = f.svc.ReissueCheckout(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)
}

func TestReconcileRepairsOrphanedSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	p := &domain.Payment{
		ConsultationID: c.ID,
		UserID:         c.UserID,
		Amount:         5_000_000,
		Currency:       domain.CurrencyUZS,
		Provider:       domain.ProviderClick,
		Status:         domain.PaymentCompleted,
	}
	require.NoError(t, f.db.Create(p).Error)

	res, err := f.svc.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Repaired)

	got, err := f.consultations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ConsultationPaid, got.Status)

	// A second sweep finds nothing left to repair.
	res, err = f.svc.Reconcile(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Scanned)
}

func TestGetPaymentCacheFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c := f.seedConsultation(t, domain.ConsultationPending)
	created, err := f.svc.CreatePayment(ctx, c.UserID, CreatePaymentRequest{ConsultationID: c.ID, Provider: "click"})
	require.NoError(t, err)

	// Flush the cache; the read must fall back to the database.
	f.redis.FlushAll()

	got, err := f.svc.GetPayment(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.PaymentPending, got.Status)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
