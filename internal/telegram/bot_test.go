package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoneauth/server/internal/auth"
	"github.com/phoneauth/server/internal/kv"
)

type sentMessage struct {
	ChatID int64
	Text   string
	Markup any
}

type answeredCallback struct {
	ID        string
	Text      string
	ShowAlert bool
}

type fakeSender struct {
	mu        sync.Mutex
	messages  []sentMessage
	callbacks []answeredCallback
	err       error
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string, markup any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sentMessage{chatID, text, markup})
	return f.err
}

func (f *fakeSender) SendSticker(context.Context, int64, string) error { return f.err }

func (f *fakeSender) AnswerCallback(_ context.Context, id, text string, showAlert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, answeredCallback{id, text, showAlert})
	return f.err
}

type botFixture struct {
	bot    *Bot
	sender *fakeSender
	mr     *miniredis.Miniredis
	otp    *auth.OTPManager
}

func newBotFixture(t *testing.T) *botFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kv.NewRedisStore(client)

	sender := &fakeSender{}
	otp := auth.NewOTPManager(store)
	return &botFixture{
		bot:    NewBot(sender, otp, store, zerolog.Nop()),
		sender: sender,
		mr:     mr,
		otp:    otp,
	}
}

const chatID = int64(555)

func startUpdate(id int64) *Update {
	return &Update{UpdateID: id, Message: &Message{Chat: Chat{ID: chatID}, From: &User{ID: chatID}, Text: "/start"}}
}

func contactUpdate(id int64, owner int64, phone string) *Update {
	return &Update{UpdateID: id, Message: &Message{
		Chat:    Chat{ID: chatID},
		From:    &User{ID: chatID},
		Contact: &Contact{PhoneNumber: phone, UserID: owner},
	}}
}

func resendUpdate(id int64) *Update {
	return &Update{UpdateID: id, CallbackQuery: &CallbackQuery{
		ID:      "cb-1",
		From:    User{ID: chatID},
		Message: &Message{Chat: Chat{ID: chatID}},
		Data:    "request_otp",
	}}
}

func TestBot_Start(t *testing.T) {
	f := newBotFixture(t)

	require.NoError(t, f.bot.HandleUpdate(context.Background(), startUpdate(1)))
	require.Len(t, f.sender.messages, 1)
	msg := f.sender.messages[0]
	assert.Contains(t, msg.Text, "Welcome")
	assert.Contains(t, msg.Text, "Xush kelibsiz")
	assert.Contains(t, msg.Text, "Добро пожаловать")
	kb, ok := msg.Markup.(ReplyKeyboardMarkup)
	require.True(t, ok)
	assert.True(t, kb.Keyboard[0][0].RequestContact)
}

func TestBot_IgnoresEmptyAndDuplicateUpdates(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.HandleUpdate(ctx, &Update{UpdateID: 1}))
	require.NoError(t, f.bot.HandleUpdate(ctx, &Update{Message: &Message{Chat: Chat{ID: chatID}, Text: "/start"}}))
	assert.Empty(t, f.sender.messages)

	require.NoError(t, f.bot.HandleUpdate(ctx, startUpdate(10)))
	require.NoError(t, f.bot.HandleUpdate(ctx, startUpdate(10)))
	require.NoError(t, f.bot.HandleUpdate(ctx, startUpdate(9)))
	assert.Len(t, f.sender.messages, 1)

	last, err := f.mr.Get("telegram_last_update:555")
	require.NoError(t, err)
	assert.Equal(t, "10", last)
	assert.Equal(t, time.Hour, f.mr.TTL("telegram_last_update:555"))
}

func TestBot_ContactIssuesOTP(t *testing.T) {
	f := newBotFixture(t)

	require.NoError(t, f.bot.HandleUpdate(context.Background(), contactUpdate(1, chatID, "998901234567")))

	phone, err := f.mr.Get("telegram_phone:555")
	require.NoError(t, err)
	assert.Equal(t, "+998901234567", phone)
	assert.Equal(t, 10*time.Minute, f.mr.TTL("telegram_phone:555"))

	code, err := f.mr.Get("otp:+998901234567")
	require.NoError(t, err)

	require.Len(t, f.sender.messages, 2)
	assert.Equal(t, "Code:\n```"+code+"```", f.sender.messages[0].Text)
	kb, ok := f.sender.messages[1].Markup.(InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "request_otp", kb.InlineKeyboard[0][0].CallbackData)
}

func TestBot_ContactFromSomeoneElseIgnored(t *testing.T) {
	f := newBotFixture(t)

	require.NoError(t, f.bot.HandleUpdate(context.Background(), contactUpdate(1, 999, "+998901234567")))
	assert.Empty(t, f.sender.messages)
	assert.False(t, f.mr.Exists("otp:+998901234567"))
}

func TestBot_ContactDuringCooldown(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.HandleUpdate(ctx, contactUpdate(1, chatID, "+998901234567")))
	f.mr.FastForward(15 * time.Second)
	require.NoError(t, f.bot.HandleUpdate(ctx, contactUpdate(2, chatID, "+998901234567")))

	require.Len(t, f.sender.messages, 3)
	assert.Contains(t, f.sender.messages[2].Text, "Please wait 0m 45s")
}

func TestBot_ResendWithoutCorrelation(t *testing.T) {
	f := newBotFixture(t)

	require.NoError(t, f.bot.HandleUpdate(context.Background(), resendUpdate(1)))
	require.Len(t, f.sender.callbacks, 1)
	assert.True(t, f.sender.callbacks[0].ShowAlert)
	assert.Contains(t, f.sender.callbacks[0].Text, "Phone number not found. Send /start first.")
}

func TestBot_ResendCooldownAlert(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.HandleUpdate(ctx, contactUpdate(1, chatID, "+998901234567")))
	f.mr.FastForward(30 * time.Second)

	require.NoError(t, f.bot.HandleUpdate(ctx, resendUpdate(2)))
	require.Len(t, f.sender.callbacks, 1)
	cb := f.sender.callbacks[0]
	assert.True(t, cb.ShowAlert)
	assert.Contains(t, cb.Text, "Please wait 0m 30s")
	assert.Contains(t, cb.Text, "kuting")
	assert.Contains(t, cb.Text, "Подождите")
}

func TestBot_ResendAfterCooldown(t *testing.T) {
	f := newBotFixture(t)
	ctx := context.Background()

	require.NoError(t, f.bot.HandleUpdate(ctx, contactUpdate(1, chatID, "+998901234567")))
	f.mr.FastForward(61 * time.Second)
	require.NoError(t, f.bot.HandleUpdate(ctx, resendUpdate(2)))

	assert.Len(t, f.sender.messages, 4)
	require.Len(t, f.sender.callbacks, 1)
	assert.False(t, f.sender.callbacks[0].ShowAlert)

	second, err := f.mr.Get("otp:+998901234567")
	require.NoError(t, err)
	ok, err := f.otp.VerifyOTP(ctx, "+998901234567", second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBot_SendFailureIsReturned(t *testing.T) {
	f := newBotFixture(t)
	f.sender.err = errors.New("telegram down")

	err := f.bot.HandleUpdate(context.Background(), startUpdate(1))
	assert.Error(t, err)
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+998901234567", NormalizePhone("998901234567"))
	assert.Equal(t, "+998901234567", NormalizePhone("+998901234567"))
	assert.Equal(t, "+998901234567", NormalizePhone("++998901234567"))
}
