// Package app assembles the matching services from configuration. Every
// backend has an in-process fallback so the binaries run with no
// infrastructure at all.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/example/court-matching/internal/candidates"
	"github.com/example/court-matching/internal/chat"
	"github.com/example/court-matching/internal/collab"
	"github.com/example/court-matching/internal/config"
	"github.com/example/court-matching/internal/geo"
	httpapi "github.com/example/court-matching/internal/http"
	"github.com/example/court-matching/internal/ingest"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/match"
	"github.com/example/court-matching/internal/profile"
	"github.com/example/court-matching/internal/proposal"
	"github.com/example/court-matching/internal/quota"
	"github.com/example/court-matching/internal/realtime"
	"github.com/example/court-matching/internal/storage"
	"github.com/example/court-matching/internal/swipe"
)

type App struct {
	cfg    config.ServerConfig
	logger *slog.Logger

	Services httpapi.Services
	API      *httpapi.Server
	Consumer *ingest.PaymentConsumer

	pg      *storage.PostgresStore
	redis   *redis.Client
	bus     *realtime.RedisBus
	closers []func() error
}

// New connects the configured backends and builds the service graph. ctx
// bounds websocket sessions and the realtime bus subscription.
func New(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*App, error) {
	logger = logging.OrDiscard(logger)
	a := &App{cfg: cfg, logger: logger}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		a.closers = append(a.closers, a.redis.Close)
	}

	var g geo.Geo = geo.NewIndex()
	var q quota.Quota = quota.NewMemory(cfg.SuperLikeDailyQuota)
	if a.redis != nil {
		g = geo.NewRedisGeo(a.redis, cfg.RedisGeoKey)
		q = quota.NewRedis(a.redis, cfg.SuperLikeDailyQuota)
	}

	var bus realtime.Bus
	if cfg.RealtimeBus == "redis" {
		a.bus = realtime.NewRedisBus(ctx, a.redis, cfg.BusPrefix, a.logger)
		bus = a.bus
	}
	rt := realtime.NewDispatcher(bus, a.logger)

	booking, payments := a.collaborators()
	var notifier collab.Notifier = collab.LogNotifier{Logger: a.logger}
	if cfg.PushEndpoint != "" {
		notifier = collab.NewPushNotifier(cfg.PushEndpoint, cfg.PushKey)
	}

	var presigner chat.Presigner
	if cfg.AttachmentsBucket != "" {
		p, err := chat.NewS3Presigner(ctx, cfg.AWSRegion, cfg.AttachmentsBucket)
		if err != nil {
			return fmt.Errorf("s3 presigner: %w", err)
		}
		presigner = p
	}

	var events proposal.Publisher = ingest.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaPublisher(cfg.KafkaBrokers, cfg.MatchEventsTopic)
		a.closers = append(a.closers, kp.Close)
		events = kp
	}

	chats := chat.NewService(store, rt, collab.StaticDirectory(cfg.BusinessOwners), presigner, a.logger)
	matches := match.NewManager(store, chats, rt, notifier, a.logger)
	workflow := proposal.NewWorkflow(proposal.Deps{
		Store:    store,
		Matches:  matches,
		Chat:     chats,
		Realtime: rt,
		Booking:  booking,
		Payments: payments,
		Notifier: notifier,
		Events:   events,
	}, proposal.Options{
		BookingTimeout: cfg.BookingTimeout,
		PaymentTimeout: cfg.PaymentTimeout,
		PaymentMethod:  cfg.PaymentMethod,
	}, a.logger)

	sockets := realtime.NewRouter(a.logger)
	chats.RegisterSocketHandlers(sockets)

	a.Services = httpapi.Services{
		Profiles: profile.NewService(store, g, profile.Options{
			DefaultRadiusKm: cfg.DefaultRadiusKm,
			MaxRadiusKm:     cfg.MaxRadiusKm,
		}, a.logger),
		Candidates: candidates.NewFinder(store, g, candidates.Options{
			SkillWindow:  cfg.SkillWindow,
			MaxRadiusKm:  cfg.MaxRadiusKm,
			DefaultLimit: cfg.CandidateLimit,
			MaxLimit:     cfg.CandidateMaxLimit,
			ScanLimit:    cfg.CandidateScanLimit,
		}, a.logger),
		Swipes:    swipe.NewLedger(store, q, matches, a.logger),
		Matches:   matches,
		Proposals: workflow,
		Chat:      chats,
		Realtime:  rt,
		Sockets:   sockets,
	}
	a.API = httpapi.NewServer(a.Services, httpapi.Options{
		Auth:           httpapi.HeaderAuth{Header: cfg.UserIDHeader},
		EventsSecret:   cfg.PaymentEventsSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		WS:             realtime.ClientOptions{SendBuffer: cfg.WSSendBuffer, PingInterval: cfg.WSPingInterval},
		Ready:          a.Ready,
		BaseContext:    ctx,
	}, a.logger)

	if len(cfg.KafkaBrokers) > 0 {
		r := ingest.NewKafkaReader(cfg.KafkaBrokers, cfg.PaymentEventsTopic, cfg.KafkaGroup)
		a.closers = append(a.closers, r.Close)
		a.Consumer = ingest.NewPaymentConsumer(r, workflow, a.logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	if a.cfg.PGDSN == "" {
		a.logger.Info("using in-memory store")
		return storage.NewMemoryStore(), nil
	}
	pg, err := storage.NewPostgresStore(ctx, a.cfg.PGDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.pg = pg
	a.closers = append(a.closers, pg.Close)
	if a.cfg.RunMigrations {
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("migrations applied")
	}
	return pg, nil
}

// collaborators picks the booking and payment clients. Without a booking
// endpoint an in-process booking service stands in; it opens the proposer's
// transaction itself when payments are in-process too.
func (a *App) collaborators() (collab.Booking, collab.Payments) {
	cfg := a.cfg
	if cfg.StripeAPIKey != "" {
		payments := collab.NewStripePayments(cfg.StripeAPIKey, cfg.Currency)
		if cfg.BookingURL != "" {
			return collab.NewHTTPBooking(cfg.BookingURL, cfg.BookingTimeout), payments
		}
		a.logger.Warn("BOOKING_URL not set; using in-memory booking service")
		b := collab.NewMemoryBooking()
		b.Currency = cfg.Currency
		return b, payments
	}

	a.logger.Warn("STRIPE_API_KEY not set; using in-memory payments")
	payments := collab.NewMemoryPayments()
	if cfg.BookingURL != "" {
		return collab.NewHTTPBooking(cfg.BookingURL, cfg.BookingTimeout), payments
	}
	a.logger.Warn("BOOKING_URL not set; using in-memory booking service")
	b := collab.NewMemoryBooking()
	b.Currency = cfg.Currency
	b.Payments = payments
	return b, payments
}

// Ready pings the stores the process depends on.
func (a *App) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var errs []error
	if a.pg != nil {
		if err := a.pg.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Serve runs the HTTP API, the realtime bus and, when Kafka is configured,
// the payment consumer until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      a.API.Handler(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
		IdleTimeout:  a.cfg.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("court-matching listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	a.runBackground(ctx, g)
	return g.Wait()
}

// ServeConsumer runs only the payment consumer, with metrics and health
// endpoints on addr.
func (a *App) ServeConsumer(ctx context.Context, addr string) error {
	if a.Consumer == nil {
		return errors.New("KAFKA_BROKERS is required to run the payment consumer")
	}
	srv := &http.Server{Addr: addr, Handler: a.probes(), ReadTimeout: a.cfg.ReadTimeout}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("metrics/health listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	a.runBackground(ctx, g)
	return g.Wait()
}

func (a *App) runBackground(ctx context.Context, g *errgroup.Group) {
	if a.bus != nil {
		g.Go(func() error { return a.bus.Run(ctx) })
	}
	if a.Consumer != nil {
		g.Go(func() error {
			a.logger.Info("payment consumer listening",
				"topic", a.cfg.PaymentEventsTopic, "brokers", a.cfg.KafkaBrokers, "group", a.cfg.KafkaGroup)
			return a.Consumer.Run(ctx)
		})
	}
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	if a.bus != nil {
		// Run closes the subscription on shutdown; a second close is harmless.
		_ = a.bus.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
