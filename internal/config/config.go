package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Deepgram struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
	Model  string `mapstructure:"model"`
}

type DeepL struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
}

type GoogleTTS struct {
	APIKey string `mapstructure:"api_key"`
	URL    string `mapstructure:"url"`
}

type Config struct {
	Mode         string `mapstructure:"mode"`
	Port         int    `mapstructure:"port"`
	LogLevel     string `mapstructure:"log_level"`
	StaticPath   string `mapstructure:"static_path"`
	ReadLimit    int64  `mapstructure:"read_limit"`
	Secret       string `mapstructure:"session_secret"`
	DatabasePath string `mapstructure:"database_path"`
	Engines      string `mapstructure:"engines"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	UsageInterval     time.Duration `mapstructure:"usage_interval"`
	UsageLowWater     int           `mapstructure:"usage_low_water"`

	InterimMode      string        `mapstructure:"interim_mode"`
	InterimDebounce  time.Duration `mapstructure:"interim_debounce"`
	TranslateTimeout time.Duration `mapstructure:"translate_timeout"`
	SynthTimeout     time.Duration `mapstructure:"synth_timeout"`
	FanoutTimeout    time.Duration `mapstructure:"fanout_timeout"`

	CreateRoomLimit  int           `mapstructure:"create_room_limit"`
	CreateRoomWindow time.Duration `mapstructure:"create_room_window"`
	SendBuffer       int           `mapstructure:"send_buffer"`

	Deepgram  Deepgram  `mapstructure:"deepgram"`
	DeepL     DeepL     `mapstructure:"deepl"`
	GoogleTTS GoogleTTS `mapstructure:"google_tts"`
}

// SetDefaults registers every key so env overrides resolve through Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("session_secret", "")
	v.SetDefault("database_path", "beacon.db")
	v.SetDefault("engines", "live")

	v.SetDefault("heartbeat_interval", "30s")
	v.SetDefault("usage_interval", "60s")
	v.SetDefault("usage_low_water", 5)

	v.SetDefault("interim_mode", "passthrough")
	v.SetDefault("interim_debounce", "300ms")
	v.SetDefault("translate_timeout", "5s")
	v.SetDefault("synth_timeout", "5s")
	v.SetDefault("fanout_timeout", "8s")

	v.SetDefault("create_room_limit", 5)
	v.SetDefault("create_room_window", "1m")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.url", "wss://api.deepgram.com/v1/listen")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepl.api_key", "")
	v.SetDefault("deepl.url", "https://api-free.deepl.com/v2/translate")
	v.SetDefault("google_tts.api_key", "")
	v.SetDefault("google_tts.url", "https://texttospeech.googleapis.com/v1/text:synthesize")
}

// New returns a viper instance reading config/config.<CONFIG_ENV>.yaml and
// BEACON_* environment variables. A .env file is loaded first if present.
func New() *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("failed to load .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))

	v.SetEnvPrefix("beacon")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the file (if any) and decodes v into a Config.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("engines", cfg.Engines).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.InterimMode {
	case "passthrough", "debounce":
	default:
		return fmt.Errorf("interim_mode must be passthrough or debounce, got %q", c.InterimMode)
	}
	switch c.Engines {
	case "live", "stub":
	default:
		return fmt.Errorf("engines must be live or stub, got %q", c.Engines)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.HeartbeatInterval <= 0 || c.UsageInterval <= 0 {
		return errors.New("heartbeat_interval and usage_interval must be positive")
	}
	// An empty cookie key makes every session silently anonymous.
	if c.Secret == "" && c.Mode != "debug" {
		return errors.New("session_secret is required outside debug mode")
	}
	return nil
}
