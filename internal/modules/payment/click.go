package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"legalbot/internal/config"
	"legalbot/internal/domain"
	"legalbot/internal/pkg/logger"
)

// ClickProvider implements the Click (my.click.uz) checkout and merchant
// callback scheme.
type ClickProvider struct {
	cfg    config.ClickConfig
	client *http.Client
	now    func() time.Time
}

func NewClickProvider(cfg config.ClickConfig, timeout time.Duration) *ClickProvider {
	return &ClickProvider{
		cfg:    cfg,
		client: newHTTPClient(timeout),
		now:    time.Now,
	}
}

func (p *ClickProvider) Name() domain.PaymentProvider { return domain.ProviderClick }

// CreateCheckout builds the signed pay URL. Click has no create API call;
// the signature rides along as a query parameter.
func (p *ClickProvider) CreateCheckout(_ context.Context, amount domain.Money, orderID, returnURL string) (string, error) {
	if p.cfg.MerchantID == "" || p.cfg.SecretKey == "" {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("click credentials are not configured")}
	}

	ts := p.now().UTC().Unix()
	signature := signHMAC(p.cfg.SecretKey,
		p.cfg.MerchantID+amount.String()+orderID+strconv.FormatInt(ts, 10))

	if returnURL == "" {
		returnURL = p.cfg.ReturnURL
	}

	q := url.Values{}
	q.Set("merchant_id", p.cfg.MerchantID)
	q.Set("amount", amount.String())
	q.Set("transaction_param", orderID)
	q.Set("return_url", returnURL)
	q.Set("sign_time", strconv.FormatInt(ts, 10))
	q.Set("sign_string", signature)

	return p.cfg.BaseURL + "?" + q.Encode(), nil
}

// VerifyCallback checks sign_string over the Click canonical string
// click_trans_id + secret + merchant_trans_id + amount + sign_time.
func (p *ClickProvider) VerifyCallback(payload map[string]string) bool {
	required := []string{"click_trans_id", "merchant_trans_id", "amount", "sign_time", "sign_string"}
	for _, k := range required {
		if payload[k] == "" {
			return false
		}
	}
	expected := signHMAC(p.cfg.SecretKey,
		payload["click_trans_id"]+p.cfg.SecretKey+payload["merchant_trans_id"]+payload["amount"]+payload["sign_time"])
	return signaturesEqual(expected, payload["sign_string"])
}

// ParseCallback maps the Click error/action pair onto canonical status:
// error 0 with action 1 is a settled payment, error 0 otherwise is still in
// flight, -9 is a user abort, any other error code is a failure.
func (p *ClickProvider) ParseCallback(payload map[string]string) *CallbackData {
	orderID := payload["merchant_trans_id"]
	txnID := payload["click_trans_id"]
	errCode, hasErr := payload["error"]
	if orderID == "" || txnID == "" || !hasErr {
		return nil
	}

	var status domain.PaymentStatus
	switch {
	case errCode == "0" && payload["action"] == "1":
		status = domain.PaymentCompleted
	case errCode == "0":
		status = domain.PaymentProcessing
	case errCode == "-9":
		status = domain.PaymentCancelled
	default:
		status = domain.PaymentFailed
	}

	return &CallbackData{OrderID: orderID, Status: status, TransactionID: txnID}
}

// Refund issues a payment reversal. Click replies error "0" on success.
func (p *ClickProvider) Refund(ctx context.Context, providerTxnID string, amount *domain.Money) bool {
	ts := p.now().UTC().Unix()
	body := map[string]interface{}{
		"merchant_id": p.cfg.MerchantID,
		"payment_id":  providerTxnID,
		"sign_time":   ts,
		"sign_string": signHMAC(p.cfg.SecretKey, p.cfg.MerchantID+providerTxnID+strconv.FormatInt(ts, 10)),
	}
	if amount != nil {
		body["amount"] = amount.String()
	}

	reply, err := postJSON(ctx, p.client, p.cfg.RefundURL, body, nil)
	if err != nil {
		logger.Error().Err(err).Str("provider", "click").Str("txn_id", providerTxnID).Msg("refund request failed")
		return false
	}
	code := fmt.Sprint(reply["error"])
	if code != "0" {
		logger.Warn().Str("provider", "click").Str("txn_id", providerTxnID).Str("error", code).Msg("refund rejected")
		return false
	}
	return true
}
