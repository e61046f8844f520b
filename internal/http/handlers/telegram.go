package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/http/respond"
	"github.com/phoneauth/server/internal/telegram"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateQueue accepts inbound updates for asynchronous processing
type UpdateQueue interface {
	Enqueue(u *telegram.Update) error
}

// TelegramHandler receives Bot API webhook calls
type TelegramHandler struct {
	queue  UpdateQueue
	secret string
}

// NewTelegramHandler creates the webhook handler. An empty secret disables
// the header check.
func NewTelegramHandler(queue UpdateQueue, secret string) *TelegramHandler {
	return &TelegramHandler{queue: queue, secret: secret}
}

type webhookResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HandleWebhook handles POST /telegram/webhook. It acknowledges as soon as
// the update is queued.
func (h *TelegramHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			respond.JSON(w, http.StatusUnauthorized, webhookResponse{OK: false, Error: "Invalid secret token"})
			return
		}
	}

	var u telegram.Update
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		respond.JSON(w, http.StatusBadRequest, webhookResponse{OK: false, Error: "Invalid JSON"})
		return
	}

	if err := h.queue.Enqueue(&u); err != nil {
		// Telegram redelivers on non-2xx; dedup absorbs the repeat
		log := zerolog.Ctx(r.Context())
		if errors.Is(err, telegram.ErrQueueFull) {
			log.Warn().Int64("update_id", u.UpdateID).Msg("telegram queue full, asking for redelivery")
		} else {
			log.Error().Err(err).Int64("update_id", u.UpdateID).Msg("telegram update rejected")
		}
		respond.JSON(w, http.StatusServiceUnavailable, webhookResponse{OK: false, Error: "Busy, retry later"})
		return
	}

	respond.JSON(w, http.StatusOK, webhookResponse{OK: true})
}
