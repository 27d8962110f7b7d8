package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type PaymentProvider string

const (
	ProviderClick PaymentProvider = "click"
	ProviderPayme PaymentProvider = "payme"
	ProviderUzum  PaymentProvider = "uzum"
)

// ParseProvider maps a raw provider key to the closed provider set.
func ParseProvider(s string) (PaymentProvider, bool) {
	switch PaymentProvider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderClick:
		return ProviderClick, true
	case ProviderPayme:
		return ProviderPayme, true
	case ProviderUzum:
		return ProviderUzum, true
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentProcessing PaymentStatus = "processing"
	PaymentCompleted  PaymentStatus = "completed"
	PaymentFailed     PaymentStatus = "failed"
	PaymentCancelled  PaymentStatus = "cancelled"
	PaymentRefunded   PaymentStatus = "refunded"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:    {PaymentProcessing, PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentProcessing: {PaymentCompleted, PaymentFailed, PaymentCancelled},
	PaymentCompleted:  {PaymentRefunded},
}

// CanTransitionTo reports whether the state graph permits s -> next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, t := range paymentTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentFailed || s == PaymentCancelled || s == PaymentRefunded
}

// RefundWindow bounds how old a completed payment may be and still qualify
// for an automated refund.
const RefundWindow = 30 * 24 * time.Hour

// Payment is one attempt to collect money for a consultation. Rows are never
// deleted; terminal rows stay for audit.
type Payment struct {
	ID             int64           `gorm:"primaryKey" json:"id"`
	ConsultationID int64           `gorm:"index;not null" json:"consultation_id"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	Amount         int64           `gorm:"not null" json:"amount"` // tiyins
	Currency       Currency        `gorm:"type:varchar(3);default:'UZS';not null" json:"currency"`
	Provider       PaymentProvider `gorm:"type:varchar(16);not null;uniqueIndex:uq_provider_txn" json:"provider"`
	Status         PaymentStatus   `gorm:"type:varchar(20);default:'pending';index" json:"status"`

	// Assigned by the provider on callback; (provider, id) is the webhook
	// replay anchor.
	ProviderTransactionID *string           `gorm:"type:varchar(64);uniqueIndex:uq_provider_txn" json:"provider_transaction_id"`
	CheckoutURL           string            `gorm:"type:text" json:"checkout_url"`
	ProviderResponse      datatypes.JSONMap `json:"provider_response"`

	RefundAmount        *int64     `json:"refund_amount"` // tiyins
	RefundReason        string     `gorm:"type:text" json:"refund_reason"`
	RefundTransactionID string     `gorm:"type:varchar(64)" json:"refund_transaction_id"`
	RefundedAt          *time.Time `json:"refunded_at"`

	ErrorMessage string            `gorm:"type:text" json:"error_message"`
	Metadata     datatypes.JSONMap `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

func (p *Payment) Money() Money {
	return Money{Amount: p.Amount, Currency: p.Currency}
}

// OrderReference is the merchant-side order id handed to providers. It
// encodes the payment's own id, so callback resolution is a PK lookup.
func (p *Payment) OrderReference() string {
	return fmt.Sprintf("order_%d", p.ID)
}

// PaymentIDFromOrderReference reverses OrderReference.
func PaymentIDFromOrderReference(orderID string) (int64, bool) {
	raw, ok := strings.CutPrefix(orderID, "order_")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// NoRefund reports the staff-set policy flag blocking automated refunds.
func (p *Payment) NoRefund() bool {
	v, _ := p.Metadata[MetaNoRefund].(bool)
	return v
}

// IsRefundable: completed, not yet refunded, not policy-blocked, and no
// older than the refund window.
func (p *Payment) IsRefundable(now time.Time) bool {
	return p.Status == PaymentCompleted &&
		p.RefundAmount == nil &&
		!p.NoRefund() &&
		now.Sub(p.CreatedAt) <= RefundWindow
}
