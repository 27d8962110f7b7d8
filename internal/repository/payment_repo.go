package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"legalbot/internal/domain"
)

var (
	ErrNotFound = gorm.ErrRecordNotFound

	// ErrDuplicateTransaction signals a second payment row claiming the same
	// (provider, provider_transaction_id) pair.
	ErrDuplicateTransaction = errors.New("duplicate provider transaction")
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	if p.Metadata == nil {
		p.Metadata = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	var p domain.Payment
	if err := r.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// FindByOrderReference resolves an "order_<id>" reference to its payment row.
// The reference encodes the primary key, so this is a plain PK lookup.
func (r *PaymentRepository) FindByOrderReference(ctx context.Context, orderID string) (*domain.Payment, error) {
	id, ok := domain.PaymentIDFromOrderReference(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: order reference %q", domain.ErrValidation, orderID)
	}
	return r.GetByID(ctx, id)
}

func (r *PaymentRepository) FindCompletedByConsultation(ctx context.Context, consultationID int64) (*domain.Payment, error) {
	var p domain.Payment
	err := r.db.WithContext(ctx).
		Where("consultation_id = ? AND status = ?", consultationID, domain.PaymentCompleted).
		Order("id DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) SetCheckoutURL(ctx context.Context, id int64, url string) error {
	return r.db.WithContext(ctx).Model(&domain.Payment{}).
		Where("id = ?", id).
		Update("checkout_url", url).Error
}

// SetNoRefund flips the staff policy flag that blocks automated refunds.
func (r *PaymentRepository) SetNoRefund(ctx context.Context, id int64, flag bool, changedBy string) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		if p.Metadata == nil {
			p.Metadata = datatypes.JSONMap{}
		}
		p.Metadata[domain.MetaNoRefund] = flag
		p.Metadata["no_refund_set_by"] = changedBy
		if err := tx.Model(p).Update("metadata", p.Metadata).Error; err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// Transition moves a payment along the status graph under a row lock.
// Returns (payment, changed, err): changed=false means the row already
// carried newStatus, which is how duplicate webhook deliveries short-circuit.
// Every successful change appends one status_history entry.
func (r *PaymentRepository) Transition(
	ctx context.Context,
	id int64,
	newStatus domain.PaymentStatus,
	providerTxnID string,
	providerResponse map[string]interface{},
	changedBy string,
) (*domain.Payment, bool, error) {
	var (
		out     *domain.Payment
		changed bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}

		if p.Status == newStatus {
			out, changed = p, false
			return nil
		}
		if !p.Status.CanTransitionTo(newStatus) {
			return fmt.Errorf("%w: payment %d %s -> %s", domain.ErrInvalidStatus, p.ID, p.Status, newStatus)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status": newStatus,
			"metadata": domain.AppendStatusHistory(
				p.Metadata, string(p.Status), string(newStatus), changedBy, "", now),
		}
		if providerTxnID != "" && p.ProviderTransactionID == nil {
			updates["provider_transaction_id"] = providerTxnID
		}
		if len(providerResponse) > 0 {
			resp := p.ProviderResponse
			if resp == nil {
				resp = datatypes.JSONMap{}
			}
			resp[domain.MetaCallbackData] = providerResponse
			resp[domain.MetaProcessedAt] = now.Format(time.RFC3339)
			updates["provider_response"] = resp
		}

		res := tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(updates)
		if res.Error != nil {
			if isUniqueViolation(res.Error, "uq_provider_txn") {
				return ErrDuplicateTransaction
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errors.New("payment row not updated")
		}

		p, err = getPayment(tx, p.ID)
		if err != nil {
			return err
		}
		out, changed = p, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// MarkRefunded records a provider-confirmed refund: COMPLETED -> REFUNDED
// plus refund bookkeeping, in one locked write. A payment refunds at most
// once; a second call fails the transition guard.
func (r *PaymentRepository) MarkRefunded(
	ctx context.Context,
	id int64,
	amount int64,
	reason, refundTxnID, changedBy string,
) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		if !p.Status.CanTransitionTo(domain.PaymentRefunded) {
			return fmt.Errorf("%w: payment %d %s -> %s", domain.ErrInvalidStatus, p.ID, p.Status, domain.PaymentRefunded)
		}
		if p.RefundAmount != nil {
			return fmt.Errorf("%w: payment %d already refunded", domain.ErrInvalidStatus, p.ID)
		}

		now := time.Now().UTC()
		meta := domain.AppendStatusHistory(
			p.Metadata, string(p.Status), string(domain.PaymentRefunded), changedBy, reason, now)
		meta[domain.MetaRefund] = map[string]interface{}{
			"amount":         amount,
			"reason":         reason,
			"transaction_id": refundTxnID,
			"processed_at":   now.Format(time.RFC3339),
		}

		res := tx.Model(&domain.Payment{}).Where("id = ?", p.ID).Updates(map[string]interface{}{
			"status":                domain.PaymentRefunded,
			"refund_amount":         amount,
			"refund_reason":         reason,
			"refund_transaction_id": refundTxnID,
			"refunded_at":           now,
			"metadata":              meta,
		})
		if res.Error != nil {
			return res.Error
		}

		p, err = getPayment(tx, p.ID)
		if err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

// RecordRefundFailure appends a refund_failed history entry without touching
// the payment status, so staff can see the rejected attempt and retry.
func (r *PaymentRepository) RecordRefundFailure(ctx context.Context, id int64, reason, changedBy string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, id)
		if err != nil {
			return err
		}
		meta := domain.AppendStatusHistory(
			p.Metadata, string(p.Status), "refund_failed", changedBy, reason, time.Now().UTC())
		return tx.Model(&domain.Payment{}).Where("id = ?", p.ID).
			Update("metadata", meta).Error
	})
}

// ListUnreconciled returns COMPLETED payments whose consultation never left
// PENDING, the rows the reconciliation sweep re-derives consultation state
// from.
func (r *PaymentRepository) ListUnreconciled(ctx context.Context, limit int) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.PaymentCompleted).
		Where("consultation_id IN (?)",
			r.db.Model(&domain.Consultation{}).Select("id").
				Where("status = ?", domain.ConsultationPending)).
		Order("id").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func lockPayment(tx *gorm.DB, id int64) (*domain.Payment, error) {
	var p domain.Payment
	q := tx
	// sqlite has no FOR UPDATE; its write transactions serialize anyway.
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func getPayment(tx *gorm.DB, id int64) (*domain.Payment, error) {
	var p domain.Payment
	if err := tx.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && (constraint == "" || pgErr.ConstraintName == constraint)
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
