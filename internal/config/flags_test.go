package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parsed(t *testing.T, args ...string) (*Overrides, *pflag.FlagSet) {
	t.Helper()
	o := &Overrides{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.Register(fs)
	require.NoError(t, fs.Parse(args))
	return o, fs
}

func TestOverridesFlagBeatsEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("COURT_ADDR", ":8000")
	o, fs := parsed(t, "--env-file=", "--addr", ":9000", "--kafka-brokers", "k1:9092,k2:9092")

	cfg, err := o.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestOverridesFromPrefixedEnv(t *testing.T) {
	t.Setenv("COURT_REDIS_ADDR", "redis:6379")
	t.Setenv("COURT_REALTIME_BUS", "REDIS")
	t.Setenv("COURT_MIGRATE", "true")
	o, fs := parsed(t, "--env-file=")

	cfg, err := o.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, "redis", cfg.RealtimeBus)
	assert.True(t, cfg.RunMigrations)
}

func TestOverridesValidateAfterApplying(t *testing.T) {
	t.Setenv("REALTIME_BUS", "redis")
	o, fs := parsed(t, "--env-file=", "--redis-addr", "localhost:6379")
	cfg, err := o.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)

	o, fs = parsed(t, "--env-file=", "--realtime-bus", "carrier-pigeon")
	_, err = o.Load(fs)
	assert.ErrorContains(t, err, "REALTIME_BUS")
}

func TestOverridesLoadDotenv(t *testing.T) {
	// registered with t.Setenv so the value loaded below is removed afterwards
	t.Setenv("SUPER_LIKE_DAILY_QUOTA", "")
	require.NoError(t, os.Unsetenv("SUPER_LIKE_DAILY_QUOTA"))

	path := filepath.Join(t.TempDir(), "local.env")
	require.NoError(t, os.WriteFile(path, []byte("SUPER_LIKE_DAILY_QUOTA=7\n"), 0o600))
	o, fs := parsed(t, "--env-file", path)

	cfg, err := o.Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.SuperLikeDailyQuota)
}

func TestOverridesMissingExplicitDotenv(t *testing.T) {
	o, fs := parsed(t, "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	_, err := o.Load(fs)
	assert.Error(t, err)

	// the default file is optional
	o, fs = parsed(t)
	o.EnvFile = filepath.Join(t.TempDir(), "absent.env")
	_, err = o.Load(fs)
	assert.NoError(t, err)
}
