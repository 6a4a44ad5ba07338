package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type HubConfig struct {
	ConsumerQueueSize int `mapstructure:"consumer_queue_size"`
	MaxConsumers      int `mapstructure:"max_consumers"`
	KickAfter         int `mapstructure:"kick_after"`
}

type PendingConfig struct {
	MaxFrames    int           `mapstructure:"max_frames"`
	MaxBytes     int           `mapstructure:"max_bytes"`
	MinFrameSize int           `mapstructure:"min_frame_size"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type SignalConfig struct {
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type RTCConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	ICEServers    []string      `mapstructure:"ice_servers"`
	GatherTimeout time.Duration `mapstructure:"gather_timeout"`
}

// APIConfig limits the REST surface. CodeRate is codes per minute per
// client address; 0 disables the limit.
type APIConfig struct {
	CodeRate  float64 `mapstructure:"code_rate"`
	CodeBurst int     `mapstructure:"code_burst"`
}

type Config struct {
	Mode          string        `mapstructure:"mode"`
	Port          int           `mapstructure:"port"`
	StaticPath    string        `mapstructure:"static_path"`
	Secret        string        `mapstructure:"secret"`
	LogLevel      string        `mapstructure:"log_level"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	Hub     HubConfig     `mapstructure:"hub"`
	Pending PendingConfig `mapstructure:"pending"`
	Signal  SignalConfig  `mapstructure:"signal"`
	Auth    AuthConfig    `mapstructure:"auth"`
	RTC     RTCConfig     `mapstructure:"rtc"`
	API     APIConfig     `mapstructure:"api"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "20s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("sweep_interval", "5s")

	v.SetDefault("hub.consumer_queue_size", 64)
	v.SetDefault("hub.max_consumers", 16)
	v.SetDefault("hub.kick_after", 0)

	v.SetDefault("pending.max_frames", 3)
	v.SetDefault("pending.max_bytes", 8192)
	v.SetDefault("pending.min_frame_size", 16)
	v.SetDefault("pending.ttl", "30s")

	v.SetDefault("signal.rate", 20)
	v.SetDefault("signal.burst", 40)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("rtc.enabled", true)
	v.SetDefault("rtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("rtc.gather_timeout", "5s")

	v.SetDefault("api.code_rate", 10)
	v.SetDefault("api.code_burst", 5)
}

// Load reads config/config.<env>.yaml, then RELAY_* environment variables,
// then any flags set on fs. env falls back to CONFIG_ENV, then "dev".
func Load(env string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	if env == "" {
		env = os.Getenv("CONFIG_ENV")
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
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
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Bool("rtc", cfg.RTC.Enabled).
		Bool("auth", cfg.Auth.JWTSecret != "").
		Msg("config ready")
	return &cfg, nil
}

// flagKeys maps command line flags onto config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"mode":      "mode",
	"log-level": "log_level",
	"static":    "static_path",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for flag, key := range flagKeys {
		f := fs.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.Hub.ConsumerQueueSize <= 0:
		return errors.New("hub.consumer_queue_size must be positive")
	case c.Pending.MaxFrames < 0 || c.Pending.MaxBytes < 0:
		return errors.New("pending caps must not be negative")
	case c.IdleTimeout <= 0 || c.SweepInterval <= 0:
		return errors.New("idle_timeout and sweep_interval must be positive")
	case c.PingPeriod >= c.IdleTimeout:
		return fmt.Errorf("ping_period %s must be shorter than idle_timeout %s", c.PingPeriod, c.IdleTimeout)
	}
	return nil
}
