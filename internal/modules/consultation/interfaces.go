package consultation

import (
	"context"
	"time"

	"legalbot/internal/domain"
)

type consultationStore interface {
	Create(ctx context.Context, c *domain.Consultation) error
	GetByID(ctx context.Context, id int64) (*domain.Consultation, error)
	BookedTimes(ctx context.Context, from, to time.Time) ([]time.Time, error)
	ClaimSlot(ctx context.Context, id int64, slot time.Time, changedBy string) (*domain.Consultation, error)
	Complete(ctx context.Context, id int64, notes string, rating *int, feedback, changedBy string) (*domain.Consultation, error)
	SetFeedback(ctx context.Context, id int64, rating int, feedback string) error
}

// refunder is the settlement side of cancellation: it retires the
// consultation and refunds its completed payment in one pass. Implemented by
// the payment orchestrator.
type refunder interface {
	CancelAndRefund(ctx context.Context, consultationID int64, reason, actor string) (*domain.Consultation, error)
}

type slotCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) error
}

type notifier interface {
	Notify(ctx context.Context, userID int64, key string, params map[string]string) error
	NotifyAdmins(ctx context.Context, key string, params map[string]string) error
}
