package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Ledger    LedgerConfig    `mapstructure:"ledger"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type LedgerConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	WSURL               string        `mapstructure:"ws_url"`
	ProgramID           string        `mapstructure:"program_id"`
	Commitment          string        `mapstructure:"commitment"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`
	// FeePayerKey is the base58-encoded 64-byte ed25519 keypair of the
	// orchestrator authority. Normally injected via ZG_LEDGER_FEE_PAYER_KEY.
	FeePayerKey string `mapstructure:"fee_payer_key"`
}

type PriceFeed struct {
	Symbol string `mapstructure:"symbol"`
	FeedID string `mapstructure:"feed_id"`
}

type OracleConfig struct {
	HermesURL string        `mapstructure:"hermes_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Feeds     []PriceFeed   `mapstructure:"feeds"`
}

type RoundCreatorConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	RoundDuration time.Duration `mapstructure:"round_duration"`
	Category      string        `mapstructure:"category"`
	Symbol        string        `mapstructure:"symbol"`
	DataSource    string        `mapstructure:"data_source"`
	// DefaultTarget is used when no live price is cached yet, expressed
	// in the oracle's smallest unit (cents for price feeds).
	DefaultTarget int64 `mapstructure:"default_target"`
}

type TaskConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type CleanupConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Schedule       string        `mapstructure:"schedule"`
	RoundRetention time.Duration `mapstructure:"round_retention"`
	EventRetention time.Duration `mapstructure:"event_retention"`
}

type SchedulerConfig struct {
	Enabled       bool               `mapstructure:"enabled"`
	RoundCreator  RoundCreatorConfig `mapstructure:"round_creator"`
	BettingCloser TaskConfig         `mapstructure:"betting_closer"`
	Settlement    TaskConfig         `mapstructure:"settlement"`
	PriceMonitor  TaskConfig         `mapstructure:"price_monitor"`
	Cleanup       CleanupConfig      `mapstructure:"cleanup"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type NotifyConfig struct {
	NATS NATSConfig `mapstructure:"nats"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("ledger.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("ledger.ws_url", "wss://api.devnet.solana.com")
	v.SetDefault("ledger.commitment", "confirmed")
	v.SetDefault("ledger.request_timeout", "15s")
	v.SetDefault("ledger.confirm_timeout", "60s")
	v.SetDefault("ledger.confirm_poll_interval", "2s")

	v.SetDefault("oracle.hermes_url", "https://hermes.pyth.network")
	v.SetDefault("oracle.timeout", "10s")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.round_creator.enabled", true)
	v.SetDefault("scheduler.round_creator.interval", "60s")
	v.SetDefault("scheduler.round_creator.round_duration", "60s")
	v.SetDefault("scheduler.round_creator.category", "price")
	v.SetDefault("scheduler.round_creator.symbol", "SOL/USD")
	v.SetDefault("scheduler.round_creator.default_target", 15000)
	v.SetDefault("scheduler.betting_closer.enabled", true)
	v.SetDefault("scheduler.betting_closer.interval", "10s")
	v.SetDefault("scheduler.settlement.enabled", true)
	v.SetDefault("scheduler.settlement.interval", "15s")
	v.SetDefault("scheduler.price_monitor.enabled", true)
	v.SetDefault("scheduler.price_monitor.interval", "5s")
	v.SetDefault("scheduler.cleanup.enabled", true)
	v.SetDefault("scheduler.cleanup.schedule", "0 0 3 * * *")
	v.SetDefault("scheduler.cleanup.round_retention", "720h")
	v.SetDefault("scheduler.cleanup.event_retention", "720h")

	v.SetDefault("notify.nats.enabled", false)
	v.SetDefault("notify.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notify.nats.subject_prefix", "zeitgeist.events")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
