// Package internaldefs holds the metric name and bucket tables shared by the
// export formats. It is not part of the public API.
package internaldefs

import (
	"github.com/denden/memberauth"
)

// CounterDef binds one engine counter to its exposition name.
type CounterDef struct {
	ID   memberauth.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exposition name.
type HistogramDef struct {
	ID   memberauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in exposition order.
var CounterDefs = []CounterDef{
	{ID: memberauth.MetricRegisterSuccess, Name: "memberauth_register_success_total", Help: "Completed registrations."},
	{ID: memberauth.MetricRegisterDuplicate, Name: "memberauth_register_duplicate_total", Help: "Registrations refused for an existing email."},
	{ID: memberauth.MetricRegisterWeakPassword, Name: "memberauth_register_weak_password_total", Help: "Registrations refused by the password policy."},
	{ID: memberauth.MetricVerifySuccess, Name: "memberauth_email_verification_success_total", Help: "Completed email verifications."},
	{ID: memberauth.MetricVerifyFailure, Name: "memberauth_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: memberauth.MetricLoginFirstFactorSuccess, Name: "memberauth_login_first_factor_success_total", Help: "Password checks that produced an OTP challenge."},
	{ID: memberauth.MetricLoginFirstFactorFailure, Name: "memberauth_login_first_factor_failure_total", Help: "Refused password logins."},
	{ID: memberauth.MetricLoginSuccess, Name: "memberauth_login_success_total", Help: "Completed two-factor logins."},
	{ID: memberauth.MetricOtpMismatch, Name: "memberauth_otp_mismatch_total", Help: "Wrong OTP codes within the attempt budget."},
	{ID: memberauth.MetricOtpExceeded, Name: "memberauth_otp_attempts_exceeded_total", Help: "OTP challenges destroyed by attempt exhaustion."},
	{ID: memberauth.MetricOtpResent, Name: "memberauth_otp_resent_total", Help: "Reissued OTP challenges."},
	{ID: memberauth.MetricAccountLocked, Name: "memberauth_account_locked_total", Help: "Lockouts triggered by the failure threshold."},
	{ID: memberauth.MetricAccountUnlocked, Name: "memberauth_account_unlocked_total", Help: "Administrative unlocks."},
	{ID: memberauth.MetricRateLimited, Name: "memberauth_rate_limited_total", Help: "Requests refused by the per-source budget."},
	{ID: memberauth.MetricFallbackEngaged, Name: "memberauth_fallback_engaged_total", Help: "OTP operations served by the durable store while Redis was unreachable."},
}

// HistogramDefs lists every exported histogram in exposition order.
var HistogramDefs = []HistogramDef{
	{ID: memberauth.MetricTokenValidateLatency, Name: "memberauth_token_validate_latency_seconds", Help: "Session token validation latency histogram."},
}

// HistogramBounds are the upper bucket bounds in seconds, matching the
// engine's fixed bucket layout.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form the
// Prometheus text format requires.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
