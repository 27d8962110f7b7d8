package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"legalbot/internal/domain"
)

// ErrSlotTaken signals a scheduling conflict: some other live consultation
// already claimed the slot.
var ErrSlotTaken = errors.New("time slot already booked")

type ConsultationRepository struct {
	db *gorm.DB
}

func NewConsultationRepository(db *gorm.DB) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

func (r *ConsultationRepository) Create(ctx context.Context, c *domain.Consultation) error {
	if c.Metadata == nil {
		c.Metadata = datatypes.JSONMap{}
	}
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *ConsultationRepository) GetByID(ctx context.Context, id int64) (*domain.Consultation, error) {
	var c domain.Consultation
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// BookedTimes lists the scheduled slot starts within [from, to).
func (r *ConsultationRepository) BookedTimes(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	var rows []domain.Consultation
	err := r.db.WithContext(ctx).
		Select("scheduled_time").
		Where("scheduled_time >= ? AND scheduled_time < ?", from, to).
		Where("status = ?", domain.ConsultationScheduled).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(rows))
	for _, c := range rows {
		if c.ScheduledTime != nil {
			out = append(out, *c.ScheduledTime)
		}
	}
	return out, nil
}

// ClaimSlot schedules a consultation onto a slot as one atomically-checked
// operation: the availability check and the claiming write share a
// transaction, and the partial unique index on (scheduled_time) among
// scheduled rows backstops concurrent claims on postgres. Any cached
// availability snapshot is advisory only; this is the source of truth.
func (r *ConsultationRepository) ClaimSlot(ctx context.Context, id int64, slot time.Time, changedBy string) (*domain.Consultation, error) {
	var out *domain.Consultation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockConsultation(tx, id)
		if err != nil {
			return err
		}

		// Scheduling requires a paid consultation; a reschedule re-enters
		// from SCHEDULED.
		if c.Status != domain.ConsultationPaid && c.Status != domain.ConsultationScheduled {
			return fmt.Errorf("%w: consultation %d %s -> %s", domain.ErrInvalidStatus, c.ID, c.Status, domain.ConsultationScheduled)
		}
		if c.Status == domain.ConsultationScheduled && c.RescheduleCount >= domain.MaxReschedules {
			return fmt.Errorf("%w: reschedule limit reached", domain.ErrValidation)
		}

		var taken int64
		if err := tx.Model(&domain.Consultation{}).
			Where("scheduled_time = ? AND status = ? AND id <> ?", slot, domain.ConsultationScheduled, c.ID).
			Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return ErrSlotTaken
		}

		from := c.Status
		c.ApplySchedule(slot)
		c.Metadata = domain.AppendStatusHistory(
			c.Metadata, string(from), string(c.Status), changedBy, "", time.Now().UTC())

		res := tx.Model(&domain.Consultation{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
			"scheduled_time":        c.ScheduledTime,
			"rescheduled_from":      c.RescheduledFrom,
			"reschedule_count":      c.RescheduleCount,
			"cancellation_deadline": c.CancellationDeadline,
			"status":                c.Status,
			"metadata":              c.Metadata,
		})
		if res.Error != nil {
			if isUniqueViolation(res.Error, "idx_no_double_booking") {
				return ErrSlotTaken
			}
			return res.Error
		}
		out = c
		return nil
	})
	return out, err
}

// MarkPaid advances PENDING -> PAID on a completed payment event. Any other
// current status makes it a no-op (false, nil) so duplicate webhook delivery
// cannot advance state twice; the caller logs the skip.
func (r *ConsultationRepository) MarkPaid(ctx context.Context, id int64, paymentRef, changedBy string) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockConsultation(tx, id)
		if err != nil {
			return err
		}
		if c.Status != domain.ConsultationPending {
			changed = false
			return nil
		}

		from := c.Status
		c.ApplyPaid(paymentRef, time.Now().UTC())
		c.Metadata = domain.AppendStatusHistory(
			c.Metadata, string(from), string(c.Status), changedBy, "", time.Now().UTC())

		res := tx.Model(&domain.Consultation{}).Where("id = ? AND status = ?", c.ID, domain.ConsultationPending).
			Updates(map[string]interface{}{
				"status":   c.Status,
				"is_paid":  true,
				"paid_at":  c.PaidAt,
				"metadata": c.Metadata,
			})
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	return changed, err
}

// Cancel retires a consultation with reason and actor. Permitted from any
// non-terminal status.
func (r *ConsultationRepository) Cancel(ctx context.Context, id int64, reason, cancelledBy string) (*domain.Consultation, error) {
	var out *domain.Consultation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockConsultation(tx, id)
		if err != nil {
			return err
		}
		if !c.Status.CanTransitionTo(domain.ConsultationCancelled) {
			return fmt.Errorf("%w: consultation %d %s -> %s", domain.ErrInvalidStatus, c.ID, c.Status, domain.ConsultationCancelled)
		}

		now := time.Now().UTC()
		meta := domain.AppendStatusHistory(
			c.Metadata, string(c.Status), string(domain.ConsultationCancelled), cancelledBy, reason, now)

		res := tx.Model(&domain.Consultation{}).Where("id = ?", c.ID).Updates(map[string]interface{}{
			"status":              domain.ConsultationCancelled,
			"cancelled_at":        now,
			"cancellation_reason": reason,
			"metadata":            meta,
		})
		if res.Error != nil {
			return res.Error
		}

		c, err = getConsultation(tx, c.ID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// Complete closes out a held consultation. Only SCHEDULED may complete;
// rating and feedback are optional here and may arrive later via SetFeedback.
func (r *ConsultationRepository) Complete(ctx context.Context, id int64, notes string, rating *int, feedback, changedBy string) (*domain.Consultation, error) {
	var out *domain.Consultation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := lockConsultation(tx, id)
		if err != nil {
			return err
		}
		if c.Status != domain.ConsultationScheduled {
			return fmt.Errorf("%w: consultation %d %s -> %s", domain.ErrInvalidStatus, c.ID, c.Status, domain.ConsultationCompleted)
		}

		now := time.Now().UTC()
		meta := domain.AppendStatusHistory(
			c.Metadata, string(c.Status), string(domain.ConsultationCompleted), changedBy, "", now)
		if notes != "" {
			meta["completion_notes"] = notes
		}

		updates := map[string]interface{}{
			"status":       domain.ConsultationCompleted,
			"completed_at": now,
			"metadata":     meta,
		}
		if rating != nil {
			updates["rating"] = *rating
			updates["client_feedback"] = feedback
		}

		if err := tx.Model(&domain.Consultation{}).Where("id = ?", c.ID).Updates(updates).Error; err != nil {
			return err
		}

		c, err = getConsultation(tx, c.ID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// SetFeedback stores the deferred completion rating/feedback.
func (r *ConsultationRepository) SetFeedback(ctx context.Context, id int64, rating int, feedback string) error {
	res := r.db.WithContext(ctx).Model(&domain.Consultation{}).
		Where("id = ? AND status = ?", id, domain.ConsultationCompleted).
		Updates(map[string]interface{}{
			"rating":          rating,
			"client_feedback": feedback,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: feedback requires a completed consultation", domain.ErrInvalidStatus)
	}
	return nil
}

// RecordRefund mirrors a payment refund onto the consultation row.
func (r *ConsultationRepository) RecordRefund(ctx context.Context, id int64, amount int64, reason string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&domain.Consultation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"refund_amount": amount,
			"refund_reason": reason,
			"refunded_at":   now,
		}).Error
}

func lockConsultation(tx *gorm.DB, id int64) (*domain.Consultation, error) {
	var c domain.Consultation
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func getConsultation(tx *gorm.DB, id int64) (*domain.Consultation, error) {
	var c domain.Consultation
	if err := tx.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}
