package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Overrides are the settings most often changed per run. A flag wins over
// its environment variable, which wins over ServerConfig's own env keys.
type Overrides struct {
	EnvFile      string
	HTTPAddr     string
	LogLevel     string
	PGDSN        string
	RedisAddr    string
	RealtimeBus  string
	KafkaBrokers []string
	Migrate      bool
}

func (o *Overrides) Register(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	fs.StringVar(&o.EnvFile, "env-file", ".env", "dotenv file loaded before reading the environment, if present")
	fs.StringVarP(&o.HTTPAddr, "addr", "a", "", "address to listen on (env: COURT_ADDR, HTTP_ADDR)")
	fs.StringVar(&o.LogLevel, "log-level", "", "debug, info, warn or error (env: COURT_LOG_LEVEL, LOG_LEVEL)")
	fs.StringVar(&o.PGDSN, "pg-dsn", "", "postgres DSN; empty uses the in-memory store (env: COURT_PG_DSN, PG_DSN)")
	fs.StringVar(&o.RedisAddr, "redis-addr", "", "redis address for geo, quota and the realtime bus (env: COURT_REDIS_ADDR, REDIS_ADDR)")
	fs.StringVar(&o.RealtimeBus, "realtime-bus", "", "local or redis (env: COURT_REALTIME_BUS, REALTIME_BUS)")
	fs.StringSliceVar(&o.KafkaBrokers, "kafka-brokers", nil, "kafka brokers; empty disables event publishing and consuming (env: COURT_KAFKA_BROKERS, KAFKA_BROKERS)")
	fs.BoolVar(&o.Migrate, "migrate", false, "apply the postgres schema on start (env: COURT_MIGRATE, MIGRATE)")
}

// bindEnv fills flags not given on the command line from COURT_* variables.
// A flag filled this way counts as set.
func bindEnv(fs *pflag.FlagSet) {
	v := viper.New()
	v.SetEnvPrefix("COURT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

// Load reads the dotenv file, then the environment, then applies the flags
// that were set, and validates the result. fs must already be parsed.
func (o *Overrides) Load(fs *pflag.FlagSet) (ServerConfig, error) {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil && fs.Changed("env-file") {
			return ServerConfig{}, fmt.Errorf("load %s: %w", o.EnvFile, err)
		}
	}
	bindEnv(fs)
	cfg, err := fromEnv()
	if err != nil {
		return cfg, err
	}
	if fs.Changed("addr") {
		cfg.HTTPAddr = o.HTTPAddr
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = strings.ToLower(o.LogLevel)
	}
	if fs.Changed("pg-dsn") {
		cfg.PGDSN = o.PGDSN
	}
	if fs.Changed("redis-addr") {
		cfg.RedisAddr = o.RedisAddr
	}
	if fs.Changed("realtime-bus") {
		cfg.RealtimeBus = strings.ToLower(o.RealtimeBus)
	}
	if fs.Changed("kafka-brokers") {
		cfg.KafkaBrokers = o.KafkaBrokers
	}
	if fs.Changed("migrate") {
		cfg.RunMigrations = o.Migrate
	}
	return cfg, cfg.Validate()
}
