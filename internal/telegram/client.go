package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = gobreaker.ErrOpenState

// APIError is a response the Bot API answered with ok=false
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram %s: %d %s", e.Method, e.StatusCode, e.Description)
}

// Sender is the outbound surface the bot needs
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup any) error
	SendSticker(ctx context.Context, chatID int64, stickerID string) error
	AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error
}

// ClientConfig configures the Bot API client
type ClientConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// Breaker trips once MinRequests calls were seen and FailureRatio of them failed
	BreakerTimeout time.Duration
	MinRequests    uint32
	FailureRatio   float64
}

// DefaultClientConfig returns sensible defaults for token
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		BaseURL:        "https://api.telegram.org",
		Token:          token,
		Timeout:        10 * time.Second,
		BreakerTimeout: 30 * time.Second,
		MinRequests:    5,
		FailureRatio:   0.5,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	statusCode  int
}

// Client calls the Telegram Bot API. Each call is a single HTTP request with
// no retry; transport errors and 5xx answers count against the breaker.
type Client struct {
	httpClient *http.Client
	baseURL    string
	breaker    *gobreaker.CircuitBreaker[*apiResponse]
	log        zerolog.Logger
}

func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	log = log.With().Str("component", "telegram_client").Logger()

	settings := gobreaker.Settings{
		Name:    "telegram",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			circuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	circuitBreakerState.WithLabelValues(settings.Name).Set(0)

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/bot" + cfg.Token,
		breaker:    gobreaker.NewCircuitBreaker[*apiResponse](settings),
		log:        log,
	}
}

// State returns the current breaker state
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}

func (c *Client) call(ctx context.Context, method string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", method, err)
	}

	resp, err := c.breaker.Execute(func() (*apiResponse, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", method, err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("telegram %s: %w", method, err)
		}
		defer httpResp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read %s response: %w", method, err)
		}
		if httpResp.StatusCode >= 500 {
			return nil, &APIError{Method: method, StatusCode: httpResp.StatusCode, Description: string(raw)}
		}

		out := &apiResponse{statusCode: httpResp.StatusCode}
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode %s response: %w", method, err)
		}
		return out, nil
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrCircuitOpen) {
			outcome = "rejected"
		}
		apiRequestsTotal.WithLabelValues(method, outcome).Inc()
		return nil, err
	}

	// 4xx answers are the caller's fault and do not trip the breaker
	if !resp.OK {
		apiRequestsTotal.WithLabelValues(method, "api_error").Inc()
		return nil, &APIError{Method: method, StatusCode: resp.statusCode, Description: resp.Description}
	}

	apiRequestsTotal.WithLabelValues(method, "ok").Inc()
	return resp, nil
}

type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ParseMode   string `json:"parse_mode"`
	ReplyMarkup any    `json:"reply_markup,omitempty"`
}

// SendMessage posts a Markdown message, with an optional keyboard
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup any) error {
	_, err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "Markdown",
		ReplyMarkup: markup,
	})
	return err
}

// SendSticker posts a sticker by its file id
func (c *Client) SendSticker(ctx context.Context, chatID int64, stickerID string) error {
	_, err := c.call(ctx, "sendSticker", map[string]any{
		"chat_id": chatID,
		"sticker": stickerID,
	})
	return err
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert"`
}

// AnswerCallback acknowledges an inline button press, optionally as an alert
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string, showAlert bool) error {
	_, err := c.call(ctx, "answerCallbackQuery", answerCallbackRequest{
		CallbackQueryID: callbackID,
		Text:            text,
		ShowAlert:       showAlert,
	})
	return err
}

type setWebhookRequest struct {
	URL         string `json:"url"`
	SecretToken string `json:"secret_token,omitempty"`
}

// SetWebhook points the bot at url. secret, when set, is echoed by Telegram
// in the X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	_, err := c.call(ctx, "setWebhook", setWebhookRequest{URL: url, SecretToken: secret})
	return err
}
