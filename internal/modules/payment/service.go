package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"legalbot/internal/cache"
	"legalbot/internal/domain"
	"legalbot/internal/pkg/logger"
	"legalbot/internal/pkg/metrics"
)

// Service is the settlement orchestrator. It owns the payment lifecycle and
// drives the consultation-side effects of settlement (paid, refunded); money
// amounts come from the consultation and are never client-supplied.
type Service struct {
	payments      paymentStore
	consultations consultationStore
	providers     *Registry
	cache         snapshotCache
	notify        notifier
	now           func() time.Time
}

func NewService(payments paymentStore, consultations consultationStore, providers *Registry, c snapshotCache, n notifier) *Service {
	return &Service{
		payments:      payments,
		consultations: consultations,
		providers:     providers,
		cache:         c,
		notify:        n,
		now:           time.Now,
	}
}

// CreatePayment opens a payment attempt for a pending consultation and
// returns the provider checkout URL. The amount is copied from the
// consultation row.
func (s *Service) CreatePayment(ctx context.Context, userID int64, req CreatePaymentRequest) (*PaymentResponse, error) {
	providerKey, ok := domain.ParseProvider(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, req.Provider)
	}
	provider, err := s.providers.Lookup(providerKey)
	if err != nil {
		return nil, err
	}

	c, err := s.consultations.GetByID(ctx, req.ConsultationID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, fmt.Errorf("%w: consultation %d does not belong to user %d", domain.ErrValidation, c.ID, userID)
	}
	if c.Status != domain.ConsultationPending || c.IsPaid {
		return nil, fmt.Errorf("%w: consultation %d is not awaiting payment", domain.ErrInvalidStatus, c.ID)
	}

	money := c.Money()
	if err := money.Validate(); err != nil {
		return nil, err
	}

	p := &domain.Payment{
		ConsultationID: c.ID,
		UserID:         c.UserID,
		Amount:         money.Amount,
		Currency:       money.Currency,
		Provider:       providerKey,
		Status:         domain.PaymentPending,
	}
	if err := s.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	checkoutURL, err := provider.CreateCheckout(ctx, money, p.OrderReference(), req.ReturnURL)
	if err != nil {
		logger.Error().Err(err).Int64("payment_id", p.ID).Str("provider", string(providerKey)).
			Msg("checkout creation failed")
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if err := s.payments.SetCheckoutURL(ctx, p.ID, checkoutURL); err != nil {
		return nil, err
	}
	p.CheckoutURL = checkoutURL

	resp := toPaymentResponse(p)
	s.cacheSnapshot(ctx, resp)

	logger.Info().Int64("payment_id", p.ID).Int64("consultation_id", c.ID).
		Str("provider", string(providerKey)).Str("amount", money.String()).
		Msg("payment created")
	return resp, nil
}

// ReissueCheckout rebuilds the checkout URL for a still-open payment, e.g.
// after the provider session expired.
func (s *Service) ReissueCheckout(ctx context.Context, paymentID int64) (*PaymentResponse, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != domain.PaymentPending && p.Status != domain.PaymentProcessing {
		return nil, fmt.Errorf("%w: payment %d is %s", domain.ErrInvalidStatus, p.ID, p.Status)
	}
	provider, err := s.providers.Lookup(p.Provider)
	if err != nil {
		return nil, err
	}

	checkoutURL, err := provider.CreateCheckout(ctx, p.Money(), p.OrderReference(), "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckoutFailed, err)
	}
	if err := s.payments.SetCheckoutURL(ctx, p.ID, checkoutURL); err != nil {
		return nil, err
	}
	p.CheckoutURL = checkoutURL

	resp := toPaymentResponse(p)
	s.cacheSnapshot(ctx, resp)
	return resp, nil
}

// GetPayment serves the cached snapshot when present and falls back to
// storage, repopulating the cache on a miss.
func (s *Service) GetPayment(ctx context.Context, paymentID int64) (*PaymentResponse, error) {
	var cached PaymentResponse
	hit, err := s.cache.Get(ctx, cache.PaymentKey(paymentID), &cached)
	if err != nil {
		logger.Warn().Err(err).Int64("payment_id", paymentID).Msg("snapshot read failed")
	}
	if hit {
		return &cached, nil
	}

	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	resp := toPaymentResponse(p)
	s.cacheSnapshot(ctx, resp)
	return resp, nil
}

// ProcessCallback settles one provider webhook delivery. Signature failures
// and unparseable payloads are rejected without touching state; a repeated
// delivery of an already-applied status reports duplicate and changes
// nothing. A COMPLETED settlement marks the consultation paid in the same
// call.
func (s *Service) ProcessCallback(ctx context.Context, providerKey string, payload map[string]string) (*CallbackResult, error) {
	provider, err := s.providers.LookupKey(providerKey)
	if err != nil {
		metrics.CallbackObserved(providerKey, metrics.OutcomeRejected)
		return &CallbackResult{Outcome: CallbackRejected}, err
	}
	name := string(provider.Name())

	if !provider.VerifyCallback(payload) {
		metrics.CallbackObserved(name, metrics.OutcomeRejected)
		logger.Warn().Str("provider", name).Msg("callback signature rejected")
		return &CallbackResult{Outcome: CallbackRejected},
			fmt.Errorf("%w: invalid callback signature", domain.ErrValidation)
	}

	data := provider.ParseCallback(payload)
	if data == nil {
		metrics.CallbackObserved(name, metrics.OutcomeRejected)
		return &CallbackResult{Outcome: CallbackRejected},
			fmt.Errorf("%w: malformed callback payload", domain.ErrValidation)
	}

	p, err := s.payments.FindByOrderReference(ctx, data.OrderID)
	if err != nil {
		metrics.CallbackObserved(name, metrics.OutcomeRejected)
		return &CallbackResult{Outcome: CallbackRejected}, err
	}
	if p.Provider != provider.Name() {
		metrics.CallbackObserved(name, metrics.OutcomeRejected)
		return &CallbackResult{Outcome: CallbackRejected},
			fmt.Errorf("%w: payment %d belongs to %s", domain.ErrValidation, p.ID, p.Provider)
	}

	raw := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		raw[k] = v
	}

	p, changed, err := s.payments.Transition(ctx, p.ID, data.Status, data.TransactionID, raw, "provider:"+name)
	if err != nil {
		metrics.CallbackObserved(name, metrics.OutcomeRejected)
		return &CallbackResult{Outcome: CallbackRejected}, err
	}
	if !changed {
		metrics.CallbackObserved(name, metrics.OutcomeDuplicate)
		logger.Info().Int64("payment_id", p.ID).Str("provider", name).
			Str("status", string(p.Status)).Msg("duplicate callback delivery")
		return &CallbackResult{Outcome: CallbackDuplicate, PaymentID: p.ID, Status: p.Status}, nil
	}

	s.invalidateSnapshot(ctx, p.ID)

	if p.Status == domain.PaymentCompleted {
		s.settleConsultation(ctx, p)
	}
	if p.Status == domain.PaymentFailed || p.Status == domain.PaymentCancelled {
		s.send(ctx, p.UserID, "payment_failed", map[string]string{
			"payment_id": fmt.Sprint(p.ID),
			"status":     string(p.Status),
		})
	}

	metrics.CallbackObserved(name, metrics.OutcomeProcessed)
	logger.Info().Int64("payment_id", p.ID).Str("provider", name).
		Str("status", string(p.Status)).Msg("callback processed")
	return &CallbackResult{Outcome: CallbackProcessed, PaymentID: p.ID, Status: p.Status}, nil
}

// settleConsultation applies the paid side effect of a completed payment.
// A failed MarkPaid is retried once immediately; a second failure leaves a
// completed payment with a pending consultation, which the reconciliation
// sweep repairs.
func (s *Service) settleConsultation(ctx context.Context, p *domain.Payment) {
	changed, err := s.consultations.MarkPaid(ctx, p.ConsultationID, p.OrderReference(), "system")
	if err != nil {
		logger.Warn().Err(err).Int64("consultation_id", p.ConsultationID).Msg("retrying consultation settlement")
		changed, err = s.consultations.MarkPaid(ctx, p.ConsultationID, p.OrderReference(), "system")
	}
	if err != nil {
		logger.Error().Err(err).Int64("payment_id", p.ID).Int64("consultation_id", p.ConsultationID).
			Msg("consultation settlement deferred to reconcile")
		return
	}
	if !changed {
		logger.Info().Int64("consultation_id", p.ConsultationID).Msg("consultation already settled")
		return
	}
	s.send(ctx, p.UserID, "payment_completed", map[string]string{
		"consultation_id": fmt.Sprint(p.ConsultationID),
		"amount":          p.Money().String(),
	})
}

// RefundPayment is the staff entry point for refunding one payment.
func (s *Service) RefundPayment(ctx context.Context, paymentID int64, reason, actor string) (*PaymentResponse, error) {
	p, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	p, err = s.refund(ctx, p, reason, actor)
	if err != nil {
		return nil, err
	}
	return toPaymentResponse(p), nil
}

// refund runs the provider reversal and records the outcome. A provider
// rejection leaves the payment COMPLETED with a refund_failed history entry
// for staff retry.
func (s *Service) refund(ctx context.Context, p *domain.Payment, reason, actor string) (*domain.Payment, error) {
	if !p.IsRefundable(s.now().UTC()) {
		return nil, fmt.Errorf("%w: payment %d is not refundable", domain.ErrInvalidStatus, p.ID)
	}
	if p.ProviderTransactionID == nil {
		return nil, fmt.Errorf("%w: payment %d has no provider transaction", domain.ErrInvalidStatus, p.ID)
	}
	provider, err := s.providers.Lookup(p.Provider)
	if err != nil {
		return nil, err
	}

	money := p.Money()
	if !provider.Refund(ctx, *p.ProviderTransactionID, &money) {
		metrics.RefundObserved(string(p.Provider), metrics.OutcomeFailure)
		if recErr := s.payments.RecordRefundFailure(ctx, p.ID, reason, actor); recErr != nil {
			logger.Error().Err(recErr).Int64("payment_id", p.ID).Msg("recording refund failure failed")
		}
		return nil, fmt.Errorf("%w: provider rejected refund of payment %d", ErrRefundFailed, p.ID)
	}

	refundTxnID := uuid.NewString()
	p, err = s.payments.MarkRefunded(ctx, p.ID, p.Amount, reason, refundTxnID, actor)
	if err != nil {
		return nil, err
	}
	if err := s.consultations.RecordRefund(ctx, p.ConsultationID, p.Amount, reason); err != nil {
		logger.Error().Err(err).Int64("consultation_id", p.ConsultationID).Msg("recording consultation refund failed")
	}

	s.invalidateSnapshot(ctx, p.ID)
	metrics.RefundObserved(string(p.Provider), metrics.OutcomeSuccess)
	s.send(ctx, p.UserID, "refund_processed", map[string]string{
		"consultation_id": fmt.Sprint(p.ConsultationID),
		"amount":          p.Money().String(),
	})
	logger.Info().Int64("payment_id", p.ID).Str("provider", string(p.Provider)).
		Str("refund_txn_id", refundTxnID).Msg("payment refunded")
	return p, nil
}

// CancelAndRefund cancels a consultation and refunds its completed payment
// when one exists and policy allows. Called by the consultation module; the
// deadline check happens there.
func (s *Service) CancelAndRefund(ctx context.Context, consultationID int64, reason, actor string) (*domain.Consultation, error) {
	c, err := s.consultations.Cancel(ctx, consultationID, reason, actor)
	if err != nil {
		return nil, err
	}

	p, err := s.payments.FindCompletedByConsultation(ctx, consultationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	if p.NoRefund() {
		logger.Info().Int64("payment_id", p.ID).Msg("refund blocked by no_refund policy")
		return c, nil
	}
	if _, err := s.refund(ctx, p, reason, actor); err != nil {
		// Cancellation stands; the refund stays on the staff queue.
		logger.Error().Err(err).Int64("payment_id", p.ID).Msg("refund during cancellation failed")
	}
	return c, nil
}

// SetNoRefund flips the staff policy flag that blocks automated refunds.
func (s *Service) SetNoRefund(ctx context.Context, paymentID int64, flag bool, actor string) (*PaymentResponse, error) {
	p, err := s.payments.SetNoRefund(ctx, paymentID, flag, actor)
	if err != nil {
		return nil, err
	}
	s.invalidateSnapshot(ctx, p.ID)
	return toPaymentResponse(p), nil
}

// Reconcile re-derives consultation state from settled payments: any
// COMPLETED payment whose consultation is still PENDING gets the paid side
// effect applied.
func (s *Service) Reconcile(ctx context.Context, batchSize int) (*ReconcileResult, error) {
	rows, err := s.payments.ListUnreconciled(ctx, batchSize)
	if err != nil {
		return nil, err
	}

	res := &ReconcileResult{Scanned: len(rows)}
	for i := range rows {
		p := &rows[i]
		changed, err := s.consultations.MarkPaid(ctx, p.ConsultationID, p.OrderReference(), "reconcile")
		if err != nil {
			logger.Error().Err(err).Int64("payment_id", p.ID).Msg("reconcile repair failed")
			continue
		}
		if changed {
			res.Repaired++
			logger.Info().Int64("payment_id", p.ID).Int64("consultation_id", p.ConsultationID).
				Msg("reconciled orphaned settlement")
		}
	}
	return res, nil
}

func (s *Service) cacheSnapshot(ctx context.Context, resp *PaymentResponse) {
	if err := s.cache.Set(ctx, cache.PaymentKey(resp.ID), resp, cache.PaymentSnapshotTTL); err != nil {
		logger.Warn().Err(err).Int64("payment_id", resp.ID).Msg("snapshot write failed")
	}
}

func (s *Service) invalidateSnapshot(ctx context.Context, paymentID int64) {
	if err := s.cache.Delete(ctx, cache.PaymentKey(paymentID)); err != nil {
		logger.Warn().Err(err).Int64("payment_id", paymentID).Msg("snapshot invalidation failed")
	}
}

func (s *Service) send(ctx context.Context, userID int64, key string, params map[string]string) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Notify(ctx, userID, key, params); err != nil {
		logger.Warn().Err(err).Int64("user_id", userID).Str("message", key).Msg("notification failed")
	}
}
