package payment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"legalbot/internal/config"
	"legalbot/internal/domain"
	"legalbot/internal/pkg/logger"
)

// UzumProvider integrates with the Uzum Bank acquiring API. Requests and
// callbacks are signed with an HMAC over the semicolon-joined sorted
// key=value pairs.
type UzumProvider struct {
	cfg    config.UzumConfig
	client *http.Client
}

func NewUzumProvider(cfg config.UzumConfig, timeout time.Duration) *UzumProvider {
	return &UzumProvider{cfg: cfg, client: newHTTPClient(timeout)}
}

func (p *UzumProvider) Name() domain.PaymentProvider { return domain.ProviderUzum }

func (p *UzumProvider) sign(fields map[string]string) string {
	return signHMAC(p.cfg.SecretKey, sortedPairs(fields, ";", "signature"))
}

// CreateCheckout creates a payment session and returns its payment_url.
func (p *UzumProvider) CreateCheckout(ctx context.Context, amount domain.Money, orderID, returnURL string) (string, error) {
	if p.cfg.MerchantID == "" || p.cfg.SecretKey == "" {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("uzum credentials are not configured")}
	}
	if returnURL == "" {
		returnURL = p.cfg.ReturnURL
	}

	fields := map[string]string{
		"merchant_id": p.cfg.MerchantID,
		"amount":      amount.String(),
		"order_id":    orderID,
		"return_url":  returnURL,
	}
	body := map[string]interface{}{
		"merchant_id": p.cfg.MerchantID,
		"amount":      amount.String(),
		"order_id":    orderID,
		"return_url":  returnURL,
		"signature":   p.sign(fields),
	}

	reply, err := postJSON(ctx, p.client, p.cfg.BaseURL, body, nil)
	if err != nil {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: err}
	}
	if status, _ := reply["status"].(string); status == "error" {
		return "", &Error{Op: "checkout", Provider: p.Name(),
			Err: fmt.Errorf("uzum error: %v", reply["message"])}
	}

	checkoutURL, _ := reply["payment_url"].(string)
	if checkoutURL == "" {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("empty payment_url")}
	}
	return checkoutURL, nil
}

// VerifyCallback recomputes the signature over every field except the
// signature itself.
func (p *UzumProvider) VerifyCallback(payload map[string]string) bool {
	if payload["signature"] == "" || payload["order_id"] == "" {
		return false
	}
	return signaturesEqual(p.sign(payload), payload["signature"])
}

// ParseCallback maps the Uzum status field onto canonical status.
func (p *UzumProvider) ParseCallback(payload map[string]string) *CallbackData {
	orderID := payload["order_id"]
	txnID := payload["transaction_id"]
	if orderID == "" || txnID == "" {
		return nil
	}

	var status domain.PaymentStatus
	switch payload["status"] {
	case "success", "completed":
		status = domain.PaymentCompleted
	case "processing", "created":
		status = domain.PaymentProcessing
	case "cancelled":
		status = domain.PaymentCancelled
	default:
		status = domain.PaymentFailed
	}

	return &CallbackData{OrderID: orderID, Status: status, TransactionID: txnID}
}

// Refund posts a signed reversal request. Uzum replies status "success"
// when the reversal is accepted.
func (p *UzumProvider) Refund(ctx context.Context, providerTxnID string, amount *domain.Money) bool {
	fields := map[string]string{
		"merchant_id":    p.cfg.MerchantID,
		"transaction_id": providerTxnID,
	}
	if amount != nil {
		fields["amount"] = amount.String()
	}

	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["signature"] = p.sign(fields)

	reply, err := postJSON(ctx, p.client, p.cfg.RefundURL, body, nil)
	if err != nil {
		logger.Error().Err(err).Str("provider", "uzum").Str("txn_id", providerTxnID).Msg("refund request failed")
		return false
	}
	status, _ := reply["status"].(string)
	if status != "success" {
		logger.Warn().Str("provider", "uzum").Str("txn_id", providerTxnID).
			Str("status", status).Msg("refund rejected")
		return false
	}
	return true
}
