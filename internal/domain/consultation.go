package domain

import (
	"time"

	"gorm.io/datatypes"
)

type ConsultationType string

const (
	ConsultationOnline ConsultationType = "online"
	ConsultationOffice ConsultationType = "office"
)

type ConsultationStatus string

const (
	ConsultationPending   ConsultationStatus = "pending"
	ConsultationPaid      ConsultationStatus = "paid"
	ConsultationScheduled ConsultationStatus = "scheduled"
	ConsultationCompleted ConsultationStatus = "completed"
	ConsultationCancelled ConsultationStatus = "cancelled"
)

var consultationTransitions = map[ConsultationStatus][]ConsultationStatus{
	ConsultationPending:   {ConsultationPaid, ConsultationCancelled},
	ConsultationPaid:      {ConsultationScheduled, ConsultationCancelled},
	ConsultationScheduled: {ConsultationCompleted, ConsultationCancelled},
}

func (s ConsultationStatus) CanTransitionTo(next ConsultationStatus) bool {
	for _, t := range consultationTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s ConsultationStatus) Terminal() bool {
	return s == ConsultationCompleted || s == ConsultationCancelled
}

// Scheduling policy: one-hour slots, Mon-Sat 09:00-18:00, at most three
// reschedules, cancellation allowed until 24h before the slot.
const (
	WorkdayStartHour = 9
	WorkdayEndHour   = 18
	SlotDuration     = 60 * time.Minute
	MaxReschedules   = 3
	CancellationLead = 24 * time.Hour
)

// WorkingDay reports whether consultations run on that weekday.
func WorkingDay(d time.Weekday) bool {
	return d != time.Sunday
}

// ValidSlotTime checks the working-day/working-hours window.
func ValidSlotTime(t time.Time) bool {
	return WorkingDay(t.Weekday()) &&
		t.Hour() >= WorkdayStartHour && t.Hour() < WorkdayEndHour
}

// Consultation is a client's request for legal consultation. Rows are never
// deleted; COMPLETED/CANCELLED retire them.
type Consultation struct {
	ID     int64              `gorm:"primaryKey" json:"id"`
	UserID int64              `gorm:"index;not null" json:"user_id"`
	Type   ConsultationType   `gorm:"type:varchar(16);not null" json:"type"`
	Status ConsultationStatus `gorm:"type:varchar(20);default:'pending';index" json:"status"`

	Amount   int64    `gorm:"not null" json:"amount"` // tiyins
	Currency Currency `gorm:"type:varchar(3);default:'UZS';not null" json:"currency"`

	PhoneNumber        string `gorm:"type:varchar(20);not null" json:"phone_number"`
	ProblemDescription string `gorm:"type:text;not null" json:"problem_description"`

	ScheduledTime        *time.Time `gorm:"index" json:"scheduled_time"`
	DurationMinutes      int        `gorm:"default:60" json:"duration_minutes"`
	RescheduleCount      int        `gorm:"default:0" json:"reschedule_count"`
	RescheduledFrom      *time.Time `json:"rescheduled_from"`
	CancellationDeadline *time.Time `json:"cancellation_deadline"`

	IsPaid       bool       `gorm:"default:false" json:"is_paid"`
	PaidAt       *time.Time `json:"paid_at"`
	RefundAmount *int64     `json:"refund_amount"` // tiyins
	RefundReason string     `gorm:"type:text" json:"refund_reason"`
	RefundedAt   *time.Time `json:"refunded_at"`

	LawyerID       *int64 `gorm:"index" json:"lawyer_id"`
	Rating         *int   `json:"rating"` // 1..5
	ClientFeedback string `gorm:"type:text" json:"client_feedback"`

	CompletedAt        *time.Time `json:"completed_at"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason string     `gorm:"type:text" json:"cancellation_reason"`

	Metadata datatypes.JSONMap `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Consultation) TableName() string { return "consultations" }

func (c *Consultation) Money() Money {
	return Money{Amount: c.Amount, Currency: c.Currency}
}

// CanCancel: non-terminal and still before the cancellation deadline when
// one is set.
func (c *Consultation) CanCancel(now time.Time) bool {
	if c.Status.Terminal() {
		return false
	}
	return c.CancellationDeadline == nil || now.Before(*c.CancellationDeadline)
}

// CanReschedule: scheduled, under the reschedule cap, and more than the
// cancellation lead away from the current slot.
func (c *Consultation) CanReschedule(now time.Time) bool {
	if c.Status != ConsultationScheduled || c.ScheduledTime == nil {
		return false
	}
	return c.RescheduleCount < MaxReschedules &&
		now.Add(CancellationLead).Before(*c.ScheduledTime)
}

// ApplySchedule moves the consultation onto a slot: records reschedule
// lineage when a previous slot existed and derives the cancellation deadline.
// Validity of the slot itself is the caller's responsibility.
func (c *Consultation) ApplySchedule(t time.Time) {
	if c.ScheduledTime != nil {
		prev := *c.ScheduledTime
		c.RescheduledFrom = &prev
		c.RescheduleCount++
	}
	scheduled := t
	deadline := t.Add(-CancellationLead)
	c.ScheduledTime = &scheduled
	c.CancellationDeadline = &deadline
	c.Status = ConsultationScheduled
}

// ApplyPaid flips the paid flags; only called for the PENDING -> PAID edge.
func (c *Consultation) ApplyPaid(paymentRef string, now time.Time) {
	c.IsPaid = true
	paidAt := now
	c.PaidAt = &paidAt
	c.Status = ConsultationPaid
	if c.Metadata == nil {
		c.Metadata = datatypes.JSONMap{}
	}
	if paymentRef != "" {
		c.Metadata[MetaPaymentRef] = paymentRef
	}
}
