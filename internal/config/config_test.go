package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "local", cfg.RealtimeBus)
	assert.Equal(t, 3, cfg.SuperLikeDailyQuota)
	assert.Equal(t, 50, cfg.CandidateMaxLimit)
	assert.Equal(t, 5*time.Second, cfg.BookingTimeout)
}

func TestLoadServerConfigFromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SUPER_LIKE_DAILY_QUOTA", "5")
	t.Setenv("BOOKING_TIMEOUT", "2s")
	t.Setenv("REALTIME_BUS", "REDIS")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PAYMENT_TIMEOUT", "3s")
	t.Setenv("PAYMENT_EVENTS_SECRET", "s3cret")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.SuperLikeDailyQuota)
	assert.Equal(t, 2*time.Second, cfg.BookingTimeout)
	assert.Equal(t, 3*time.Second, cfg.PaymentTimeout)
	assert.Equal(t, "s3cret", cfg.PaymentEventsSecret)
	assert.Equal(t, "redis", cfg.RealtimeBus)
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("BOOKING_TIMEOUT", "soon")
	t.Setenv("CANDIDATE_LIMIT", "80")
	t.Setenv("REALTIME_BUS", "redis")

	_, err := LoadServerConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid BOOKING_TIMEOUT")
	assert.Contains(t, err.Error(), "CANDIDATE_LIMIT")
	assert.Contains(t, err.Error(), "requires REDIS_ADDR")
}

func TestLoadServerConfigBusinessOwners(t *testing.T) {
	t.Setenv("BUSINESS_OWNERS", "club-1=owner|coach, club-2=desk")

	cfg, err := LoadServerConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "coach"}, cfg.BusinessOwners["club-1"])
	assert.Equal(t, []string{"desk"}, cfg.BusinessOwners["club-2"])

	t.Setenv("BUSINESS_OWNERS", "=nobody")
	_, err = LoadServerConfig()
	assert.ErrorContains(t, err, "BUSINESS_OWNERS")
}
