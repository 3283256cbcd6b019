package services

import (
	"log"
	"os"
	"strconv"
)

// ReferralConfig carries every tunable of the crediting engine. It is built
// once at startup and injected into constructors; services never read env vars
// at credit time, which keeps the engine testable with varied configurations.
type ReferralConfig struct {
	// Deposits below this amount do not qualify as a first topup.
	MinimumTopupCents int64
	// Fixed bonus credited to the referred user on their first qualifying
	// topup. Zero disables the referral-side bonus.
	FirstTopupBonusCents int64
	// Floor for the referrer's first-topup reward; the referrer receives
	// max(InviterBonusCents, topup * CommissionPercent / 100).
	InviterBonusCents int64
	// Commission percent for first-topup and ongoing crediting.
	CommissionPercent int
}

// DefaultReferralConfig mirrors the production defaults.
var DefaultReferralConfig = ReferralConfig{
	MinimumTopupCents:    10000,
	FirstTopupBonusCents: 5000,
	InviterBonusCents:    5000,
	CommissionPercent:    10,
}

// LoadReferralConfig reads the config from the environment, falling back to
// defaults for unset keys. Call after godotenv has loaded .env.
func LoadReferralConfig() ReferralConfig {
	cfg := DefaultReferralConfig
	cfg.MinimumTopupCents = envInt64("REFERRAL_MINIMUM_TOPUP_CENTS", cfg.MinimumTopupCents)
	cfg.FirstTopupBonusCents = envInt64("REFERRAL_FIRST_TOPUP_BONUS_CENTS", cfg.FirstTopupBonusCents)
	cfg.InviterBonusCents = envInt64("REFERRAL_INVITER_BONUS_CENTS", cfg.InviterBonusCents)
	cfg.CommissionPercent = int(envInt64("REFERRAL_COMMISSION_PERCENT", int64(cfg.CommissionPercent)))
	return cfg
}

func envInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}
