package internaldefs

import (
	"github.com/pyroalert/authcore"
)

// CounterDef names one engine counter.
type CounterDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram.
type HistogramDef struct {
	ID   authcore.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for audit events dropped under backpressure.
const AuditDroppedName = "authcore_audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authcore.MetricLoginSuccess, Name: "authcore_login_success_total", Help: "Successful password grants."},
	{ID: authcore.MetricLoginFailure, Name: "authcore_login_failure_total", Help: "Password grants rejected for bad credentials."},
	{ID: authcore.MetricLoginRateLimited, Name: "authcore_login_rate_limited_total", Help: "Password grants rejected by the failed-login limiter."},
	{ID: authcore.MetricMFARequired, Name: "authcore_mfa_required_total", Help: "Password grants answered with mfa_required."},
	{ID: authcore.MetricMFASuccess, Name: "authcore_mfa_success_total", Help: "Password grants that passed the second factor."},
	{ID: authcore.MetricMFAFailure, Name: "authcore_mfa_failure_total", Help: "Password grants rejected at the second factor."},
	{ID: authcore.MetricRefreshSuccess, Name: "authcore_refresh_success_total", Help: "Successful refresh grants."},
	{ID: authcore.MetricRefreshFailure, Name: "authcore_refresh_failure_total", Help: "Failed refresh grants."},
	{ID: authcore.MetricRefreshReuseDetected, Name: "authcore_refresh_reuse_detected_total", Help: "Rotated or revoked refresh tokens presented again."},
	{ID: authcore.MetricTokenRevoked, Name: "authcore_token_revoked_total", Help: "Revocation requests."},
	{ID: authcore.MetricRevokeAll, Name: "authcore_revoke_all_total", Help: "Revoke-all operations."},
	{ID: authcore.MetricIntrospectActive, Name: "authcore_introspect_active_total", Help: "Introspections of active tokens."},
	{ID: authcore.MetricIntrospectInactive, Name: "authcore_introspect_inactive_total", Help: "Introspections of inactive tokens."},
	{ID: authcore.MetricTwoFactorSetupStarted, Name: "authcore_two_factor_setup_started_total", Help: "Two-factor setups started."},
	{ID: authcore.MetricTwoFactorEnabled, Name: "authcore_two_factor_enabled_total", Help: "Two-factor setups confirmed."},
	{ID: authcore.MetricTwoFactorDisabled, Name: "authcore_two_factor_disabled_total", Help: "Two-factor disable operations."},
	{ID: authcore.MetricTOTPSuccess, Name: "authcore_totp_success_total", Help: "Successful TOTP verifications."},
	{ID: authcore.MetricTOTPFailure, Name: "authcore_totp_failure_total", Help: "Failed TOTP verifications."},
	{ID: authcore.MetricTOTPReplay, Name: "authcore_totp_replay_total", Help: "TOTP steps presented twice."},
	{ID: authcore.MetricRecoveryCodeUsed, Name: "authcore_recovery_code_used_total", Help: "Recovery codes consumed."},
	{ID: authcore.MetricRecoveryCodeFailed, Name: "authcore_recovery_code_failed_total", Help: "Unknown or used recovery codes presented."},
	{ID: authcore.MetricRecoveryCodesRegenerated, Name: "authcore_recovery_codes_regenerated_total", Help: "Recovery code batches regenerated."},
	{ID: authcore.MetricSecondFactorRateLimited, Name: "authcore_second_factor_rate_limited_total", Help: "Second factor attempts rejected by the limiter."},
	{ID: authcore.MetricAccountCreated, Name: "authcore_account_created_total", Help: "Accounts created."},
	{ID: authcore.MetricAccountDuplicate, Name: "authcore_account_duplicate_total", Help: "Account creations rejected as duplicate."},
	{ID: authcore.MetricAccountDeleted, Name: "authcore_account_deleted_total", Help: "Accounts deleted."},
	{ID: authcore.MetricPasswordChangeSuccess, Name: "authcore_password_change_success_total", Help: "Successful password changes."},
	{ID: authcore.MetricPasswordChangeInvalidOld, Name: "authcore_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: authcore.MetricLoginKeyChanged, Name: "authcore_login_key_changed_total", Help: "Login key changes."},
	{ID: authcore.MetricExpiredTokensSwept, Name: "authcore_expired_tokens_swept_total", Help: "Expired refresh token records removed."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authcore.MetricGrantLatency, Name: "authcore_grant_latency_seconds", Help: "Token endpoint latency."},
}

// HistogramUpperBounds are the bucket limits in seconds, matching the
// engine's bucket layout. The last bucket is +Inf and has no entry.
var HistogramUpperBounds = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// model buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
