package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-matching/internal/collab"
	"github.com/example/court-matching/internal/config"
	"github.com/example/court-matching/internal/logging"
)

func localConfig(t *testing.T) config.ServerConfig {
	t.Helper()
	cfg, err := config.LoadServerConfig()
	require.NoError(t, err)
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.PGDSN, cfg.RedisAddr, cfg.RealtimeBus = "", "", "local"
	cfg.KafkaBrokers = nil
	cfg.BookingURL, cfg.StripeAPIKey, cfg.PushEndpoint, cfg.AttachmentsBucket = "", "", "", ""
	return cfg
}

func TestNewInMemory(t *testing.T) {
	a, err := New(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NoError(t, a.Ready(context.Background()))
	assert.Nil(t, a.Consumer)
	assert.NotNil(t, a.Services.Proposals)
	assert.NotNil(t, a.API)
}

func TestCollaboratorsFallBackInProcess(t *testing.T) {
	a := &App{cfg: localConfig(t), logger: logging.Discard()}
	a.cfg.Currency = "eur"

	booking, payments := a.collaborators()
	mem, ok := booking.(*collab.MemoryBooking)
	require.True(t, ok)
	assert.Equal(t, "eur", mem.Currency)
	assert.Same(t, payments, mem.Payments)

	a.cfg.BookingURL = "http://booking.internal"
	booking, _ = a.collaborators()
	assert.IsType(t, &collab.HTTPBooking{}, booking)
}

func TestServeStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServeConsumerNeedsBrokers(t *testing.T) {
	a, err := New(context.Background(), localConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.ErrorContains(t, a.ServeConsumer(context.Background(), "127.0.0.1:0"), "KAFKA_BROKERS")
}
