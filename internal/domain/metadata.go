package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Well-known metadata keys. Unknown keys are passed through untouched for
// forward compatibility; only these are written by the service itself.
const (
	MetaStatusHistory = "status_history"
	MetaRefund        = "refund"
	MetaNoRefund      = "no_refund"
	MetaCheckoutURL   = "payment_url"
	MetaReturnURL     = "return_url"
	MetaPaymentRef    = "payment_id"
	MetaCallbackData  = "callback_data"
	MetaProcessedAt   = "processed_at"
)

// StatusChange is one auditable entry in a status_history list.
type StatusChange struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ChangedBy string `json:"changed_by"`
	ChangedAt string `json:"changed_at"`
	Reason    string `json:"reason,omitempty"`
}

// AppendStatusHistory records a transition in the metadata map. History is
// append-only; earlier entries are never rewritten.
func AppendStatusHistory(meta datatypes.JSONMap, from, to, changedBy, reason string, at time.Time) datatypes.JSONMap {
	if meta == nil {
		meta = datatypes.JSONMap{}
	}
	entry := map[string]interface{}{
		"from":       from,
		"to":         to,
		"changed_by": changedBy,
		"changed_at": at.UTC().Format(time.RFC3339),
	}
	if reason != "" {
		entry["reason"] = reason
	}

	history, _ := meta[MetaStatusHistory].([]interface{})
	meta[MetaStatusHistory] = append(history, entry)
	return meta
}

// StatusHistory decodes the status_history entries from a metadata map.
func StatusHistory(meta datatypes.JSONMap) []StatusChange {
	raw, _ := meta[MetaStatusHistory].([]interface{})
	out := make([]StatusChange, 0, len(raw))
	for _, e := range raw {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		c := StatusChange{}
		c.From, _ = m["from"].(string)
		c.To, _ = m["to"].(string)
		c.ChangedBy, _ = m["changed_by"].(string)
		c.ChangedAt, _ = m["changed_at"].(string)
		c.Reason, _ = m["reason"].(string)
		out = append(out, c)
	}
	return out
}
