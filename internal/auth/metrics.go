package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	otpIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_issued_total",
		Help: "Total number of OTP codes issued",
	})

	otpRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "otp_rate_limited_total",
		Help: "Total number of OTP requests rejected by the cooldown",
	})

	otpVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "otp_verifications_total",
			Help: "Total number of OTP verification attempts by result",
		},
		[]string{"result"},
	)

	loginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)
)
