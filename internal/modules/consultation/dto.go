package consultation

import (
	"time"

	"legalbot/internal/domain"
)

type CreateConsultationRequest struct {
	Type               string `json:"type" binding:"required"`
	PhoneNumber        string `json:"phone_number" binding:"required"`
	ProblemDescription string `json:"problem_description" binding:"required"`
	Amount             string `json:"amount" binding:"required"` // sums, "50000" or "50000.00"
}

type ScheduleRequest struct {
	ScheduledTime time.Time `json:"scheduled_time" binding:"required"`
}

type CancelRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CompleteRequest struct {
	Notes    string `json:"notes"`
	Rating   *int   `json:"rating"`
	Feedback string `json:"feedback"`
}

type FeedbackRequest struct {
	Rating   int    `json:"rating" binding:"required"`
	Feedback string `json:"feedback"`
}

type ConsultationResponse struct {
	ID                   int64                     `json:"id"`
	UserID               int64                     `json:"user_id"`
	Type                 domain.ConsultationType   `json:"type"`
	Status               domain.ConsultationStatus `json:"status"`
	Amount               string                    `json:"amount"` // sums
	Currency             domain.Currency           `json:"currency"`
	PhoneNumber          string                    `json:"phone_number"`
	ProblemDescription   string                    `json:"problem_description"`
	ScheduledTime        *time.Time                `json:"scheduled_time,omitempty"`
	DurationMinutes      int                       `json:"duration_minutes"`
	RescheduleCount      int                       `json:"reschedule_count"`
	CancellationDeadline *time.Time                `json:"cancellation_deadline,omitempty"`
	IsPaid               bool                      `json:"is_paid"`
	PaidAt               *time.Time                `json:"paid_at,omitempty"`
	RefundAmount         *string                   `json:"refund_amount,omitempty"`
	Rating               *int                      `json:"rating,omitempty"`
	CompletedAt          *time.Time                `json:"completed_at,omitempty"`
	CancelledAt          *time.Time                `json:"cancelled_at,omitempty"`
	CancellationReason   string                    `json:"cancellation_reason,omitempty"`
	CreatedAt            time.Time                 `json:"created_at"`
}

func toConsultationResponse(c *domain.Consultation) *ConsultationResponse {
	resp := &ConsultationResponse{
		ID:                   c.ID,
		UserID:               c.UserID,
		Type:                 c.Type,
		Status:               c.Status,
		Amount:               c.Money().String(),
		Currency:             c.Currency,
		PhoneNumber:          c.PhoneNumber,
		ProblemDescription:   c.ProblemDescription,
		ScheduledTime:        c.ScheduledTime,
		DurationMinutes:      c.DurationMinutes,
		RescheduleCount:      c.RescheduleCount,
		CancellationDeadline: c.CancellationDeadline,
		IsPaid:               c.IsPaid,
		PaidAt:               c.PaidAt,
		Rating:               c.Rating,
		CompletedAt:          c.CompletedAt,
		CancelledAt:          c.CancelledAt,
		CancellationReason:   c.CancellationReason,
		CreatedAt:            c.CreatedAt,
	}
	if c.RefundAmount != nil {
		s := domain.Money{Amount: *c.RefundAmount, Currency: c.Currency}.String()
		resp.RefundAmount = &s
	}
	return resp
}

// SlotsResponse lists bookable slot starts for one day.
type SlotsResponse struct {
	Date  string      `json:"date"` // 2006-01-02
	Slots []time.Time `json:"slots"`
}
