package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrNoSecret = errors.New("auth.secret must be at least 16 characters")

type Config struct {
	Mode        string            `mapstructure:"mode" validate:"oneof=debug release test"`
	Port        int               `mapstructure:"port" validate:"min=1,max=65535"`
	Log         LogConfig         `mapstructure:"log"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Signal      SignalConfig      `mapstructure:"signal"`
	ICE         ICEConfig         `mapstructure:"ice"`
	Media       MediaConfig       `mapstructure:"media"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Call        CallConfig        `mapstructure:"call"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Store       StoreConfig       `mapstructure:"store"`
}

type LogConfig struct {
	Level   string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Console bool   `mapstructure:"console"`
}

type AuthConfig struct {
	Secret    string        `mapstructure:"secret"`
	Issuer    string        `mapstructure:"issuer"`
	TicketTTL time.Duration `mapstructure:"ticket_ttl"`
}

type SignalConfig struct {
	URL              string        `mapstructure:"url" validate:"omitempty,url"`
	Token            string        `mapstructure:"token"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendQueue        int           `mapstructure:"send_queue" validate:"min=1"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	RateLimit        int           `mapstructure:"rate_limit" validate:"min=0"`
	RateInterval     time.Duration `mapstructure:"rate_interval"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	Backpressure     string        `mapstructure:"backpressure" validate:"oneof=kick drop"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls" validate:"min=1"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type ICEConfig struct {
	Servers             []ICEServer   `mapstructure:"servers" validate:"dive"`
	CandidateQueue      int           `mapstructure:"candidate_queue" validate:"min=1"`
	DisconnectedTimeout time.Duration `mapstructure:"disconnected_timeout"`
	FailedTimeout       time.Duration `mapstructure:"failed_timeout"`
}

type MediaConfig struct {
	Source       string `mapstructure:"source" validate:"oneof=hardware synthetic"`
	PreferVideo  bool   `mapstructure:"prefer_video"`
	VideoBitRate int    `mapstructure:"video_bitrate" validate:"min=0"`
}

type NegotiationConfig struct {
	LegacyOfferDelay time.Duration `mapstructure:"legacy_offer_delay"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type CallConfig struct {
	EndGrace time.Duration `mapstructure:"end_grace"`
	Tick     time.Duration `mapstructure:"tick"`
}

type ScheduleConfig struct {
	JoinPolicy   string        `mapstructure:"join_policy" validate:"oneof=appointments dashboard"`
	Refresh      time.Duration `mapstructure:"refresh"`
	Appointments string        `mapstructure:"appointments"`
}

type StoreConfig struct {
	Driver  string `mapstructure:"driver" validate:"oneof=memory postgres"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	Table   string `mapstructure:"table"`
	Migrate bool   `mapstructure:"migrate"`
}

// Every key gets a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "consult")
	v.SetDefault("auth.ticket_ttl", "2h")

	v.SetDefault("signal.url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("signal.token", "")
	v.SetDefault("signal.handshake_timeout", "10s")
	v.SetDefault("signal.send_queue", 32)
	v.SetDefault("signal.ping_period", "54s")
	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.allowed_origins", []string{})
	v.SetDefault("signal.backpressure", "kick")

	v.SetDefault("ice.servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("ice.candidate_queue", 100)
	v.SetDefault("ice.disconnected_timeout", "0s")
	v.SetDefault("ice.failed_timeout", "0s")

	v.SetDefault("media.source", "hardware")
	v.SetDefault("media.prefer_video", true)
	v.SetDefault("media.video_bitrate", 1_500_000)

	v.SetDefault("negotiation.legacy_offer_delay", "0s")
	v.SetDefault("negotiation.timeout", "0s")

	v.SetDefault("call.end_grace", "1500ms")
	v.SetDefault("call.tick", "1s")

	v.SetDefault("schedule.join_policy", "appointments")
	v.SetDefault("schedule.refresh", "30s")
	v.SetDefault("schedule.appointments", "")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "call_records")
	v.SetDefault("store.migrate", false)
}

// Load reads .env, then config/config.<CONFIG_ENV>.yaml, then CONSULT_* environment
// variables, then flags. Later sources win.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env), flags)
}

func load(fileName string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	setDefaults(v)

	v.SetEnvPrefix("CONSULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("store", cfg.Store.Driver).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CheckServer validates what only the signaling server needs.
func (c *Config) CheckServer() error {
	if len(c.Auth.Secret) < 16 {
		return ErrNoSecret
	}
	return nil
}

// Setup configures the global zerolog logger: console output or JSON on stderr.
func (l LogConfig) Setup() {
	l.setup(os.Stderr)
}

func (l LogConfig) setup(w io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if l.Console {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
