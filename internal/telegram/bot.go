package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/auth"
	"github.com/phoneauth/server/internal/kv"
	"github.com/phoneauth/server/internal/logger"
)

const (
	dedupTTL       = time.Hour
	correlationTTL = 10 * time.Minute

	callbackRequestOTP = "request_otp"
)

func lastUpdateKey(chatID int64) string { return fmt.Sprintf("telegram_last_update:%d", chatID) }
func phoneKey(chatID int64) string      { return fmt.Sprintf("telegram_phone:%d", chatID) }

// OTPIssuer is the part of the OTP manager the bot drives
type OTPIssuer interface {
	CreateOTP(ctx context.Context, phone string) (string, error)
	Cooldown(ctx context.Context, phone string) (int, error)
}

// Bot runs the phone-sharing conversation: /start, contact, resend button
type Bot struct {
	api   Sender
	otp   OTPIssuer
	store kv.Store
	log   zerolog.Logger
}

func NewBot(api Sender, otp OTPIssuer, store kv.Store, log zerolog.Logger) *Bot {
	return &Bot{
		api:   api,
		otp:   otp,
		store: store,
		log:   log.With().Str("component", "telegram_bot").Logger(),
	}
}

// multilang joins the three translations the bot always answers with
func multilang(en, uz, ru string) string {
	return "🇬🇧 " + en + "\n\n🇺🇿 " + uz + "\n\n🇷🇺 " + ru
}

var (
	startText = multilang(
		"👋 Welcome!\nPlease share your phone number to receive a verification code.",
		"👋 Xush kelibsiz!\nIltimos, tasdiqlash kodini olish uchun telefon raqamingizni ulashing.",
		"👋 Добро пожаловать!\nПожалуйста, поделитесь номером телефона, чтобы получить код подтверждения.",
	)
	resendText = multilang(
		"If you didn't receive the OTP or it expired, press the button below to get a new one.",
		"Agar OTP kelmasa yoki muddati tugasa, yangi OTP olish uchun quyidagi tugmani bosing.",
		"Если вы не получили OTP или он истёк, нажмите кнопку ниже, чтобы получить новый.",
	)
	phoneNotFoundText = multilang(
		"Phone number not found. Send /start first.",
		"Telefon raqami topilmadi. Avvalo /start yuboring.",
		"Номер телефона не найден. Сначала отправьте /start.",
	)

	contactKeyboard = ReplyKeyboardMarkup{
		Keyboard:        [][]KeyboardButton{{{Text: "📱 Share Phone Number", RequestContact: true}}},
		ResizeKeyboard:  true,
		OneTimeKeyboard: true,
	}
	resendKeyboard = InlineKeyboardMarkup{
		InlineKeyboard: [][]InlineKeyboardButton{{
			{Text: "🔄 Request New OTP / Yangi OTP / Новый OTP", CallbackData: callbackRequestOTP},
		}},
	}
)

func cooldownText(seconds int) string {
	m, s := seconds/60, seconds%60
	return multilang(
		fmt.Sprintf("⏳ Please wait %dm %ds before requesting a new OTP.", m, s),
		fmt.Sprintf("⏳ Yangi OTP so'rashdan oldin %dm %ds kuting.", m, s),
		fmt.Sprintf("⏳ Подождите %dm %ds перед запросом нового OTP.", m, s),
	)
}

func codeText(code string) string {
	return "Code:\n```" + code + "```"
}

// NormalizePhone strips any leading '+' characters and adds exactly one
func NormalizePhone(phone string) string {
	return "+" + strings.TrimLeft(strings.TrimSpace(phone), "+")
}

// HandleUpdate processes a single update. Updates for one chat must be
// handled sequentially; the dispatcher guarantees that.
func (b *Bot) HandleUpdate(ctx context.Context, u *Update) error {
	if u == nil || u.UpdateID == 0 || (u.Message == nil && u.CallbackQuery == nil) {
		return nil
	}
	chatID := u.ChatID()
	if chatID == 0 {
		return nil
	}

	fresh, err := b.markSeen(ctx, chatID, u.UpdateID)
	if err != nil {
		return err
	}
	if !fresh {
		updatesTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	if msg := u.Message; msg != nil {
		switch {
		case strings.TrimSpace(msg.Text) == "/start":
			return b.api.SendMessage(ctx, chatID, startText, contactKeyboard)
		case msg.Contact != nil:
			return b.handleContact(ctx, chatID, msg)
		}
		return nil
	}

	if cb := u.CallbackQuery; cb.Data == callbackRequestOTP {
		return b.handleResend(ctx, chatID, cb)
	}
	return nil
}

// markSeen records updateID as the chat's latest and reports whether it is newer
// than anything seen before.
func (b *Bot) markSeen(ctx context.Context, chatID, updateID int64) (bool, error) {
	raw, ok, err := b.store.Get(ctx, lastUpdateKey(chatID))
	if err != nil {
		return false, fmt.Errorf("load last update id: %w", err)
	}
	if ok {
		last, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && updateID <= last {
			return false, nil
		}
	}
	if err := b.store.Set(ctx, lastUpdateKey(chatID), strconv.FormatInt(updateID, 10), dedupTTL); err != nil {
		return false, fmt.Errorf("store last update id: %w", err)
	}
	return true, nil
}

func (b *Bot) handleContact(ctx context.Context, chatID int64, msg *Message) error {
	// only the owner may share a number
	if msg.From == nil || msg.Contact.UserID != msg.From.ID {
		b.log.Warn().Int64("chat_id", chatID).Msg("ignoring contact not owned by sender")
		return nil
	}

	phone := NormalizePhone(msg.Contact.PhoneNumber)
	if err := b.store.Set(ctx, phoneKey(chatID), phone, correlationTTL); err != nil {
		return fmt.Errorf("store phone correlation: %w", err)
	}

	err := b.sendOTP(ctx, chatID, phone)
	if errors.Is(err, auth.ErrOTPCooldown) {
		secs, cerr := b.otp.Cooldown(ctx, phone)
		if cerr != nil {
			return cerr
		}
		return b.api.SendMessage(ctx, chatID, cooldownText(secs), nil)
	}
	return err
}

func (b *Bot) handleResend(ctx context.Context, chatID int64, cb *CallbackQuery) error {
	phone, ok, err := b.store.Get(ctx, phoneKey(chatID))
	if err != nil {
		return fmt.Errorf("load phone correlation: %w", err)
	}
	if !ok {
		return b.api.AnswerCallback(ctx, cb.ID, phoneNotFoundText, true)
	}

	secs, err := b.otp.Cooldown(ctx, phone)
	if err != nil {
		return err
	}
	if secs > 0 {
		return b.api.AnswerCallback(ctx, cb.ID, cooldownText(secs), true)
	}

	if err := b.sendOTP(ctx, chatID, phone); err != nil {
		if errors.Is(err, auth.ErrOTPCooldown) {
			secs, _ := b.otp.Cooldown(ctx, phone)
			return b.api.AnswerCallback(ctx, cb.ID, cooldownText(secs), true)
		}
		return err
	}
	return b.api.AnswerCallback(ctx, cb.ID, "", false)
}

// sendOTP issues a code for phone and sends it with the resend prompt
func (b *Bot) sendOTP(ctx context.Context, chatID int64, phone string) error {
	code, err := b.otp.CreateOTP(ctx, phone)
	if err != nil {
		return err
	}

	if err := b.api.SendMessage(ctx, chatID, codeText(code), nil); err != nil {
		return fmt.Errorf("send otp: %w", err)
	}
	b.log.Info().Int64("chat_id", chatID).Str("phone", logger.MaskPhone(phone)).Msg("otp delivered")

	if err := b.api.SendMessage(ctx, chatID, resendText, resendKeyboard); err != nil {
		return fmt.Errorf("send resend prompt: %w", err)
	}
	return nil
}
