package payment

import (
	"time"

	"legalbot/internal/domain"
)

type CreatePaymentRequest struct {
	ConsultationID int64  `json:"consultation_id" binding:"required"`
	Provider       string `json:"provider" binding:"required"`
	ReturnURL      string `json:"return_url"`
}

type RefundRequest struct {
	Reason string `json:"reason" binding:"required"`
	Actor  string `json:"actor"`
}

type NoRefundRequest struct {
	NoRefund bool   `json:"no_refund"`
	Actor    string `json:"actor"`
}

// PaymentResponse is the API-facing payment snapshot; it is also what lands
// in the redis cache, so reads after a cache hit skip the database.
type PaymentResponse struct {
	ID                    int64                  `json:"id"`
	ConsultationID        int64                  `json:"consultation_id"`
	UserID                int64                  `json:"user_id"`
	Amount                string                 `json:"amount"` // sums, "50000.00"
	Currency              domain.Currency        `json:"currency"`
	Provider              domain.PaymentProvider `json:"provider"`
	Status                domain.PaymentStatus   `json:"status"`
	CheckoutURL           string                 `json:"checkout_url,omitempty"`
	ProviderTransactionID string                 `json:"provider_transaction_id,omitempty"`
	RefundAmount          *string                `json:"refund_amount,omitempty"`
	RefundReason          string                 `json:"refund_reason,omitempty"`
	RefundedAt            *time.Time             `json:"refunded_at,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
}

func toPaymentResponse(p *domain.Payment) *PaymentResponse {
	resp := &PaymentResponse{
		ID:             p.ID,
		ConsultationID: p.ConsultationID,
		UserID:         p.UserID,
		Amount:         p.Money().String(),
		Currency:       p.Currency,
		Provider:       p.Provider,
		Status:         p.Status,
		CheckoutURL:    p.CheckoutURL,
		RefundReason:   p.RefundReason,
		RefundedAt:     p.RefundedAt,
		CreatedAt:      p.CreatedAt,
	}
	if p.ProviderTransactionID != nil {
		resp.ProviderTransactionID = *p.ProviderTransactionID
	}
	if p.RefundAmount != nil {
		s := domain.Money{Amount: *p.RefundAmount, Currency: p.Currency}.String()
		resp.RefundAmount = &s
	}
	return resp
}

// CallbackOutcome describes how a webhook delivery was settled.
type CallbackOutcome string

const (
	CallbackProcessed CallbackOutcome = "processed"
	CallbackDuplicate CallbackOutcome = "duplicate"
	CallbackRejected  CallbackOutcome = "rejected"
)

type CallbackResult struct {
	Outcome   CallbackOutcome      `json:"outcome"`
	PaymentID int64                `json:"payment_id,omitempty"`
	Status    domain.PaymentStatus `json:"status,omitempty"`
}

type ReconcileResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}
