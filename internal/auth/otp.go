package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/phoneauth/server/internal/kv"
)

const (
	otpExpiry   = 5 * time.Minute
	otpCooldown = 60 * time.Second
	otpDigits   = 6
)

// ErrOTPCooldown is returned while a phone is inside its resend cooldown
var ErrOTPCooldown = errors.New("otp requested too recently")

func otpKey(phone string) string      { return "otp:" + phone }
func cooldownKey(phone string) string { return "otp_cooldown:" + phone }

// OTPManager issues and verifies single-use codes kept in the ephemeral store
type OTPManager struct {
	store kv.Store
}

// NewOTPManager creates an OTP manager over store
func NewOTPManager(store kv.Store) *OTPManager {
	return &OTPManager{store: store}
}

// CreateOTP issues a fresh 6-digit code for phone, replacing any previous
// one. It fails with ErrOTPCooldown when a code was issued in the last minute.
func (m *OTPManager) CreateOTP(ctx context.Context, phone string) (string, error) {
	claimed, err := m.store.SetNX(ctx, cooldownKey(phone), "1", otpCooldown)
	if err != nil {
		return "", fmt.Errorf("claim otp cooldown: %w", err)
	}
	if !claimed {
		otpRateLimitedTotal.Inc()
		return "", ErrOTPCooldown
	}

	code, err := generateOTPCode()
	if err != nil {
		// release the marker
		_, _ = m.store.Del(ctx, cooldownKey(phone))
		return "", err
	}

	if err := m.store.Set(ctx, otpKey(phone), code, otpExpiry); err != nil {
		_, _ = m.store.Del(ctx, cooldownKey(phone))
		return "", fmt.Errorf("store otp: %w", err)
	}

	otpIssuedTotal.Inc()
	return code, nil
}

// VerifyOTP reports whether candidate matches the stored code. Codes compare
// numerically. A match consumes the code; only the caller whose delete
// removed it succeeds.
func (m *OTPManager) VerifyOTP(ctx context.Context, phone, candidate string) (bool, error) {
	stored, ok, err := m.store.Get(ctx, otpKey(phone))
	if err != nil {
		return false, fmt.Errorf("load otp: %w", err)
	}
	if !ok {
		otpVerificationsTotal.WithLabelValues("missing").Inc()
		return false, nil
	}

	want, err := strconv.ParseUint(stored, 10, 64)
	if err != nil {
		otpVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, nil
	}
	got, err := strconv.ParseUint(strings.TrimSpace(candidate), 10, 64)
	if err != nil || got != want {
		otpVerificationsTotal.WithLabelValues("mismatch").Inc()
		return false, nil
	}

	removed, err := m.store.Del(ctx, otpKey(phone))
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	if removed != 1 {
		otpVerificationsTotal.WithLabelValues("consumed").Inc()
		return false, nil
	}

	otpVerificationsTotal.WithLabelValues("ok").Inc()
	return true, nil
}

// Cooldown returns the whole seconds left before phone may request a new code
func (m *OTPManager) Cooldown(ctx context.Context, phone string) (int, error) {
	ttl, err := m.store.TTL(ctx, cooldownKey(phone))
	if err != nil {
		return 0, fmt.Errorf("read otp cooldown: %w", err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return int(math.Ceil(ttl.Seconds())), nil
}

func generateOTPCode() (string, error) {
	max := big.NewInt(int64(math.Pow10(otpDigits)))
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", otpDigits, n.Int64()), nil
}
