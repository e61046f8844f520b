package auth

import (
	"context"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoneauth/server/internal/kv"
)

const testPhone = "+998901234567"

func setupOTP(t *testing.T) (*OTPManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewOTPManager(kv.NewRedisStore(client)), mr
}

func TestCreateOTP_WritesCodeAndCooldown(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()

	code, err := m.CreateOTP(ctx, testPhone)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	stored, err := mr.Get("otp:" + testPhone)
	require.NoError(t, err)
	assert.Equal(t, code, stored)
	assert.Equal(t, 300*time.Second, mr.TTL("otp:"+testPhone))
	assert.Equal(t, 60*time.Second, mr.TTL("otp_cooldown:"+testPhone))
}

func TestCreateOTP_Cooldown(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()

	_, err := m.CreateOTP(ctx, testPhone)
	require.NoError(t, err)

	_, err = m.CreateOTP(ctx, testPhone)
	assert.ErrorIs(t, err, ErrOTPCooldown)

	mr.FastForward(61 * time.Second)
	_, err = m.CreateOTP(ctx, testPhone)
	assert.NoError(t, err)
}

func TestCreateOTP_ConcurrentOnlyOnePasses(t *testing.T) {
	m, _ := setupOTP(t)
	ctx := context.Background()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CreateOTP(ctx, testPhone); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestVerifyOTP(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()

	mr.Set("otp:"+testPhone, "123456")

	ok, err := m.VerifyOTP(ctx, testPhone, "654321")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, mr.Exists("otp:"+testPhone), "mismatch keeps the record")

	ok, err = m.VerifyOTP(ctx, testPhone, "123456")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, mr.Exists("otp:"+testPhone))

	ok, err = m.VerifyOTP(ctx, testPhone, "123456")
	require.NoError(t, err)
	assert.False(t, ok, "codes are single use")
}

func TestVerifyOTP_NumericComparison(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()

	mr.Set("otp:"+testPhone, "000007")
	ok, err := m.VerifyOTP(ctx, testPhone, "7")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Set("otp:"+testPhone, "123456")
	ok, err = m.VerifyOTP(ctx, testPhone, "12a456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOTP_Expired(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()

	code, err := m.CreateOTP(ctx, testPhone)
	require.NoError(t, err)

	mr.FastForward(301 * time.Second)
	ok, err := m.VerifyOTP(ctx, testPhone, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyOTP_ConcurrentSingleUse(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()
	mr.Set("otp:"+testPhone, "424242")

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if matched, err := m.VerifyOTP(ctx, testPhone, "424242"); err == nil && matched {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestCooldown(t *testing.T) {
	m, mr := setupOTP(t)
	ctx := context.Background()

	secs, err := m.Cooldown(ctx, testPhone)
	require.NoError(t, err)
	assert.Zero(t, secs)

	_, err = m.CreateOTP(ctx, testPhone)
	require.NoError(t, err)
	mr.FastForward(20 * time.Second)

	secs, err = m.Cooldown(ctx, testPhone)
	require.NoError(t, err)
	assert.Equal(t, 40, secs)
}

func TestGenerateOTPCode_Format(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateOTPCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		_, err = strconv.Atoi(code)
		require.NoError(t, err)
	}
}
