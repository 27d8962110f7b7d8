package payment

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"legalbot/internal/config"
	"legalbot/internal/domain"
	"legalbot/internal/pkg/logger"
)

// PaymeProvider talks to the Payme merchant RPC API (cards.create) and
// verifies the merchant webhook signature.
type PaymeProvider struct {
	cfg    config.PaymeConfig
	client *http.Client
}

func NewPaymeProvider(cfg config.PaymeConfig, timeout time.Duration) *PaymeProvider {
	return &PaymeProvider{cfg: cfg, client: newHTTPClient(timeout)}
}

func (p *PaymeProvider) Name() domain.PaymentProvider { return domain.ProviderPayme }

func (p *PaymeProvider) authHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(p.cfg.MerchantID+":"+p.cfg.SecretKey))
}

// CreateCheckout calls cards.create and builds the hosted checkout URL from
// the returned card token. Payme amounts are already in tiyins.
func (p *PaymeProvider) CreateCheckout(ctx context.Context, amount domain.Money, orderID, returnURL string) (string, error) {
	if p.cfg.MerchantID == "" || p.cfg.SecretKey == "" {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("payme credentials are not configured")}
	}
	if returnURL == "" {
		returnURL = p.cfg.ReturnURL
	}

	body := map[string]interface{}{
		"method": "cards.create",
		"params": map[string]interface{}{
			"amount": amount.Tiyins(),
			"account": map[string]interface{}{
				"order_id": orderID,
			},
			"callback": returnURL,
		},
	}
	headers := map[string]string{"X-Auth": p.authHeader()}

	reply, err := postJSON(ctx, p.client, p.cfg.BaseURL+"/api", body, headers)
	if err != nil {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: err}
	}
	if rpcErr, ok := reply["error"].(map[string]interface{}); ok {
		return "", &Error{Op: "checkout", Provider: p.Name(),
			Err: fmt.Errorf("payme error: %v", rpcErr["message"])}
	}

	result, ok := reply["result"].(map[string]interface{})
	if !ok {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("malformed cards.create result")}
	}
	card, ok := result["card"].(map[string]interface{})
	if !ok {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("malformed cards.create result")}
	}
	token, _ := card["token"].(string)
	if token == "" {
		return "", &Error{Op: "checkout", Provider: p.Name(), Err: fmt.Errorf("empty card token")}
	}

	return p.cfg.BaseURL + "/checkout/" + token, nil
}

// VerifyCallback checks the HMAC signature over transaction_id + order_id + amount + state.
func (p *PaymeProvider) VerifyCallback(payload map[string]string) bool {
	required := []string{"transaction_id", "order_id", "amount", "state", "signature"}
	for _, k := range required {
		if payload[k] == "" {
			return false
		}
	}
	expected := signHMAC(p.cfg.SecretKey,
		payload["transaction_id"]+payload["order_id"]+payload["amount"]+payload["state"])
	return signaturesEqual(expected, payload["signature"])
}

// ParseCallback maps the Payme transaction state onto canonical status:
// 1 is created, 2 is performed, -1 and -2 are cancellations.
func (p *PaymeProvider) ParseCallback(payload map[string]string) *CallbackData {
	orderID := payload["order_id"]
	txnID := payload["transaction_id"]
	state := payload["state"]
	if orderID == "" || txnID == "" || state == "" {
		return nil
	}

	var status domain.PaymentStatus
	switch state {
	case "1":
		status = domain.PaymentProcessing
	case "2":
		status = domain.PaymentCompleted
	case "-1", "-2":
		status = domain.PaymentCancelled
	default:
		status = domain.PaymentFailed
	}

	return &CallbackData{OrderID: orderID, Status: status, TransactionID: txnID}
}

// Refund calls receipts.cancel for the given transaction.
func (p *PaymeProvider) Refund(ctx context.Context, providerTxnID string, amount *domain.Money) bool {
	params := map[string]interface{}{"id": providerTxnID}
	if amount != nil {
		params["amount"] = amount.Tiyins()
	}
	body := map[string]interface{}{
		"method": "receipts.cancel",
		"params": params,
	}
	headers := map[string]string{"X-Auth": p.authHeader()}

	reply, err := postJSON(ctx, p.client, p.cfg.BaseURL+"/api", body, headers)
	if err != nil {
		logger.Error().Err(err).Str("provider", "payme").Str("txn_id", providerTxnID).Msg("refund request failed")
		return false
	}
	if rpcErr, ok := reply["error"].(map[string]interface{}); ok {
		logger.Warn().Str("provider", "payme").Str("txn_id", providerTxnID).
			Interface("error", rpcErr).Msg("refund rejected")
		return false
	}
	_, ok := reply["result"]
	return ok
}
