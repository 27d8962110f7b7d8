package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"legalbot/internal/domain"
)

// CallbackData is a provider callback reduced to canonical form.
type CallbackData struct {
	OrderID       string
	Status        domain.PaymentStatus
	TransactionID string
}

// Provider is the capability set every payment provider adapter satisfies.
// Every provider has an incompatible signing and status-code scheme; this
// interface is the only thing the settlement service sees.
type Provider interface {
	Name() domain.PaymentProvider

	// CreateCheckout builds the provider checkout URL for an order. The
	// secret key never leaves the process, only signatures do.
	CreateCheckout(ctx context.Context, amount domain.Money, orderID, returnURL string) (string, error)

	// VerifyCallback recomputes the payload signature and compares in
	// constant time. Malformed payloads are unverified, never an error.
	VerifyCallback(payload map[string]string) bool

	// ParseCallback maps provider status codes onto the canonical status.
	// Returns nil when the payload cannot be understood.
	ParseCallback(payload map[string]string) *CallbackData

	// Refund issues a provider refund. Network and provider failures come
	// back as false so the caller owns the retry decision.
	Refund(ctx context.Context, providerTxnID string, amount *domain.Money) bool
}

// Registry is the closed provider set, keyed by the provider enum. An
// unknown provider is a lookup error, not a runtime surprise.
type Registry struct {
	providers map[domain.PaymentProvider]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	m := make(map[domain.PaymentProvider]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

func (r *Registry) Lookup(p domain.PaymentProvider) (Provider, error) {
	prov, ok := r.providers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return prov, nil
}

// LookupKey resolves a raw provider key, e.g. a webhook path segment.
func (r *Registry) LookupKey(key string) (Provider, error) {
	p, ok := domain.ParseProvider(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return r.Lookup(p)
}

func signHMAC(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func signaturesEqual(expected, received string) bool {
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(received))))
}

// sortedPairs joins payload fields as "k=v" sorted by key with the given
// separator, skipping excluded keys. Shared by the Uzum signing scheme.
func sortedPairs(fields map[string]string, sep string, exclude ...string) string {
	skip := make(map[string]bool, len(exclude))
	for _, k := range exclude {
		skip[k] = true
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+fields[k])
	}
	return strings.Join(parts, sep)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// postJSON posts a JSON body and decodes a JSON object reply. Non-2xx is an
// error; the caller never hangs past the client timeout.
func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, headers map[string]string) (map[string]interface{}, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider replied %d", resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode provider reply: %w", err)
	}
	return out, nil
}
