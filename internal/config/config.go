package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the API and consumer
// processes. Values are primarily loaded from environment variables with sane
// defaults so the binaries can run locally against in-memory backends.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	UserIDHeader    string
	// PaymentEventsSecret is the bearer token the payment gateway presents on
	// the HTTP event intake. Empty disables the intake.
	PaymentEventsSecret string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string
	RealtimeBus   string // local or redis
	BusPrefix     string

	KafkaBrokers       []string
	MatchEventsTopic   string
	PaymentEventsTopic string
	KafkaGroup         string

	PGDSN string

	SuperLikeDailyQuota int
	SkillWindow         int
	DefaultRadiusKm     float64
	MaxRadiusKm         float64
	CandidateLimit      int
	CandidateMaxLimit   int
	CandidateScanLimit  int

	BookingURL        string
	BookingTimeout    time.Duration
	PaymentTimeout    time.Duration
	PaymentMethod     string
	Currency          string
	StripeAPIKey      string
	PushEndpoint      string
	PushKey           string
	AttachmentsBucket string
	AWSRegion         string
	// BusinessOwners maps a business profile id to the users who answer
	// its chats.
	BusinessOwners map[string][]string

	WSSendBuffer   int
	WSPingInterval time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:            ":8080",
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		IdleTimeout:         120 * time.Second,
		ShutdownTimeout:     15 * time.Second,
		AllowedOrigins:      []string{"*"},
		UserIDHeader:        "X-User-ID",
		RedisGeoKey:         "match_profiles_geo",
		RealtimeBus:         "local",
		BusPrefix:           "rt",
		MatchEventsTopic:    "match-events",
		PaymentEventsTopic:  "payment-events",
		KafkaGroup:          "court-matching-consumer",
		SuperLikeDailyQuota: 3,
		SkillWindow:         1,
		DefaultRadiusKm:     10,
		MaxRadiusKm:         100,
		CandidateLimit:      20,
		CandidateMaxLimit:   50,
		CandidateScanLimit:  500,
		BookingTimeout:      5 * time.Second,
		PaymentTimeout:      5 * time.Second,
		PaymentMethod:       "card",
		Currency:            "usd",
		WSSendBuffer:        64,
		WSPingInterval:      30 * time.Second,
		LogLevel:            "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg, err := fromEnv()
	return cfg, errors.Join(err, cfg.Validate())
}

// fromEnv applies environment variables over the defaults, reporting only
// values that fail to parse.
func fromEnv() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}
	setStringFromEnv(&cfg.UserIDHeader, "AUTH_USER_HEADER")
	cfg.PaymentEventsSecret = os.Getenv("PAYMENT_EVENTS_SECRET")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")
	setStringFromEnv(&cfg.RealtimeBus, "REALTIME_BUS")
	cfg.RealtimeBus = strings.ToLower(cfg.RealtimeBus)
	setStringFromEnv(&cfg.BusPrefix, "REALTIME_BUS_PREFIX")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.MatchEventsTopic, "KAFKA_MATCH_EVENTS_TOPIC")
	setStringFromEnv(&cfg.PaymentEventsTopic, "KAFKA_PAYMENT_EVENTS_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setIntFromEnv(&cfg.SuperLikeDailyQuota, "SUPER_LIKE_DAILY_QUOTA", &errs)
	setIntFromEnv(&cfg.SkillWindow, "CANDIDATE_SKILL_WINDOW", &errs)
	setFloatFromEnv(&cfg.DefaultRadiusKm, "CANDIDATE_DEFAULT_RADIUS_KM", &errs)
	setFloatFromEnv(&cfg.MaxRadiusKm, "CANDIDATE_MAX_RADIUS_KM", &errs)
	setIntFromEnv(&cfg.CandidateLimit, "CANDIDATE_LIMIT", &errs)
	setIntFromEnv(&cfg.CandidateMaxLimit, "CANDIDATE_MAX_LIMIT", &errs)
	setIntFromEnv(&cfg.CandidateScanLimit, "CANDIDATE_SCAN_LIMIT", &errs)

	setStringFromEnv(&cfg.BookingURL, "BOOKING_URL")
	setDurationFromEnv(&cfg.BookingTimeout, "BOOKING_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.PaymentTimeout, "PAYMENT_TIMEOUT", &errs)
	setStringFromEnv(&cfg.PaymentMethod, "PAYMENT_METHOD")
	setStringFromEnv(&cfg.Currency, "PAYMENT_CURRENCY")
	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")
	setStringFromEnv(&cfg.PushEndpoint, "PUSH_ENDPOINT")
	cfg.PushKey = os.Getenv("PUSH_KEY")
	setStringFromEnv(&cfg.AttachmentsBucket, "S3_BUCKET_NAME")
	setStringFromEnv(&cfg.AWSRegion, "AWS_REGION")
	if v := os.Getenv("BUSINESS_OWNERS"); v != "" {
		owners, err := parseOwners(v)
		if err != nil {
			errs = append(errs, err)
		}
		cfg.BusinessOwners = owners
	}

	setIntFromEnv(&cfg.WSSendBuffer, "WS_SEND_BUFFER", &errs)
	setDurationFromEnv(&cfg.WSPingInterval, "WS_PING_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	return cfg, errors.Join(errs...)
}

// Validate checks cross-field constraints. It is also called after command
// line overrides are applied.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.SuperLikeDailyQuota < 0 {
		errs = append(errs, fmt.Errorf("SUPER_LIKE_DAILY_QUOTA must be >= 0"))
	}
	if c.SkillWindow < 0 {
		errs = append(errs, fmt.Errorf("CANDIDATE_SKILL_WINDOW must be >= 0"))
	}
	if c.CandidateMaxLimit <= 0 || c.CandidateMaxLimit > 50 {
		errs = append(errs, fmt.Errorf("CANDIDATE_MAX_LIMIT must be in 1..50"))
	}
	if c.CandidateLimit <= 0 || c.CandidateLimit > c.CandidateMaxLimit {
		errs = append(errs, fmt.Errorf("CANDIDATE_LIMIT must be in 1..CANDIDATE_MAX_LIMIT"))
	}
	if c.CandidateScanLimit < c.CandidateMaxLimit {
		errs = append(errs, fmt.Errorf("CANDIDATE_SCAN_LIMIT must be >= CANDIDATE_MAX_LIMIT"))
	}
	if c.DefaultRadiusKm <= 0 || c.DefaultRadiusKm > c.MaxRadiusKm {
		errs = append(errs, fmt.Errorf("CANDIDATE_DEFAULT_RADIUS_KM must be in (0, CANDIDATE_MAX_RADIUS_KM]"))
	}
	if c.RealtimeBus != "local" && c.RealtimeBus != "redis" {
		errs = append(errs, fmt.Errorf("REALTIME_BUS must be local or redis, got %q", c.RealtimeBus))
	}
	if c.RealtimeBus == "redis" && c.RedisAddr == "" {
		errs = append(errs, fmt.Errorf("REALTIME_BUS=redis requires REDIS_ADDR"))
	}
	if c.BookingTimeout <= 0 || c.PaymentTimeout <= 0 {
		errs = append(errs, fmt.Errorf("BOOKING_TIMEOUT and PAYMENT_TIMEOUT must be > 0"))
	}
	if c.WSSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	return errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// parseOwners reads "profile=user|user,profile=user".
func parseOwners(v string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, entry := range splitAndTrim(v) {
		profile, users, ok := strings.Cut(entry, "=")
		profile = strings.TrimSpace(profile)
		if !ok || profile == "" {
			return nil, fmt.Errorf("invalid BUSINESS_OWNERS entry %q", entry)
		}
		for _, u := range strings.Split(users, "|") {
			if u = strings.TrimSpace(u); u != "" {
				out[profile] = append(out[profile], u)
			}
		}
	}
	return out, nil
}
