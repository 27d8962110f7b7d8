package payment

import (
	"context"
	"time"

	"legalbot/internal/domain"
)

// paymentStore is the slice of the payment repository the orchestrator needs.
type paymentStore interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	FindByOrderReference(ctx context.Context, orderID string) (*domain.Payment, error)
	FindCompletedByConsultation(ctx context.Context, consultationID int64) (*domain.Payment, error)
	SetCheckoutURL(ctx context.Context, id int64, url string) error
	SetNoRefund(ctx context.Context, id int64, flag bool, changedBy string) (*domain.Payment, error)
	Transition(ctx context.Context, id int64, newStatus domain.PaymentStatus, providerTxnID string, providerResponse map[string]interface{}, changedBy string) (*domain.Payment, bool, error)
	MarkRefunded(ctx context.Context, id int64, amount int64, reason, refundTxnID, changedBy string) (*domain.Payment, error)
	RecordRefundFailure(ctx context.Context, id int64, reason, changedBy string) error
	ListUnreconciled(ctx context.Context, limit int) ([]domain.Payment, error)
}

// consultationStore covers the consultation-side effects of settlement.
type consultationStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Consultation, error)
	MarkPaid(ctx context.Context, id int64, paymentRef, changedBy string) (bool, error)
	Cancel(ctx context.Context, id int64, reason, cancelledBy string) (*domain.Consultation, error)
	RecordRefund(ctx context.Context, id int64, amount int64, reason string) error
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// notifier delivers user-facing messages; a nil notifier disables delivery.
type notifier interface {
	Notify(ctx context.Context, userID int64, key string, params map[string]string) error
}
