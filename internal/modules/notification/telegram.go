// Package notification delivers user and admin messages through the Telegram
// Bot API. Delivery is best effort; callers log and continue on failure.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"legalbot/internal/config"
	"legalbot/internal/pkg/logger"
)

// templates render a message key with {param} placeholders. Russian is the
// shared service language; per-user language selection lives in the bot
// front-end, not here.
var templates = map[string]string{
	"consultation_requested": "Новая заявка на консультацию #{consultation_id} ({type}), телефон {phone}, сумма {amount} сум",
	"consultation_scheduled": "Ваша консультация #{consultation_id} назначена на {scheduled_time}",
	"consultation_cancelled": "Консультация #{consultation_id} отменена: {reason}",
	"payment_completed":      "Оплата консультации #{consultation_id} на сумму {amount} сум получена",
	"payment_failed":         "Оплата #{payment_id} не прошла ({status}). Попробуйте еще раз",
	"refund_processed":       "Возврат {amount} сум по консультации #{consultation_id} выполнен",
	"feedback_requested":     "Консультация #{consultation_id} завершена. Пожалуйста, оцените ее от 1 до 5",
}

type TelegramSender struct {
	cfg    config.TelegramConfig
	client *http.Client
}

func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	return &TelegramSender{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends one rendered message to a Telegram chat. Chat ids equal user
// ids for direct bot conversations.
func (t *TelegramSender) Notify(ctx context.Context, userID int64, key string, params map[string]string) error {
	return t.sendMessage(ctx, userID, render(key, params))
}

// NotifyAdmins broadcasts to every configured admin chat; the first error is
// returned after all sends were attempted.
func (t *TelegramSender) NotifyAdmins(ctx context.Context, key string, params map[string]string) error {
	text := render(key, params)
	var firstErr error
	for _, chatID := range t.cfg.AdminChatIDs {
		if err := t.sendMessage(ctx, chatID, text); err != nil {
			logger.Warn().Err(err).Int64("chat_id", chatID).Msg("admin notification failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (t *TelegramSender) sendMessage(ctx context.Context, chatID int64, text string) error {
	if t.cfg.BotToken == "" {
		return fmt.Errorf("telegram bot token is not configured")
	}

	body, err := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIBase, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode, apiErr.Description)
	}
	return nil
}

func render(key string, params map[string]string) string {
	text, ok := templates[key]
	if !ok {
		text = key
	}
	for k, v := range params {
		text = strings.ReplaceAll(text, "{"+k+"}", v)
	}
	return text
}
