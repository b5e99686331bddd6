package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	Server struct {
		Addr        string
		MaxUploadMB int64 `mapstructure:"max_upload_mb"`
		Debug       bool
	}
	Log struct {
		Level string
	}
	Database struct {
		Driver     string
		Path       string
		ProfileDir string `mapstructure:"profile_dir"`
	}
	Auth struct {
		SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
		DefaultPassphrase   string  `mapstructure:"default_passphrase"`
		TokenSecret         string  `mapstructure:"token_secret"`
		TokenTTLSeconds     int     `mapstructure:"token_ttl_seconds"`
	}
	Features struct {
		SampleRate         int     `mapstructure:"sample_rate"`
		MinDurationSeconds float64 `mapstructure:"min_duration_seconds"`
		ScratchDir         string  `mapstructure:"scratch_dir"`
		AllowSynthetic     bool    `mapstructure:"allow_synthetic"`
	}
	Decoder struct {
		Backend        string
		FFmpegPath     string `mapstructure:"ffmpeg_path"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	}
	Storage struct {
		Bucket    string
		KeyPrefix string `mapstructure:"key_prefix"`
		Region    string
		Endpoint  string
	}
	AWS struct {
		Profile string
	}
}

// Load reads configuration from environment variables and optional config files.
func Load() (Config, error) {
	loadDotEnv()

	v := viper.New()
	v.SetEnvPrefix("VOICEAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.max_upload_mb", 16)
	v.SetDefault("server.debug", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/voice_auth.db")
	v.SetDefault("database.profile_dir", "data/voice_profiles")
	v.SetDefault("auth.similarity_threshold", 0.50)
	v.SetDefault("auth.default_passphrase", "Hello Emora")
	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.token_ttl_seconds", 120)
	v.SetDefault("features.sample_rate", 16000)
	v.SetDefault("features.min_duration_seconds", 0.5)
	v.SetDefault("features.scratch_dir", os.TempDir())
	v.SetDefault("features.allow_synthetic", true)
	v.SetDefault("decoder.backend", "auto")
	v.SetDefault("decoder.ffmpeg_path", "ffmpeg")
	v.SetDefault("decoder.timeout_seconds", 30)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.key_prefix", "voice-recordings")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("aws.profile", "")

	v.SetConfigName("config")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // optional file

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if t := c.Auth.SimilarityThreshold; !(t > 0 && t <= 1) {
		errs = append(errs, fmt.Errorf("auth.similarity_threshold must be in (0, 1], got %v", t))
	}
	switch c.Database.Driver {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or file, got %q", c.Database.Driver))
	}
	switch c.Decoder.Backend {
	case "auto", "wav", "ffmpeg":
	default:
		errs = append(errs, fmt.Errorf("decoder.backend must be auto, wav or ffmpeg, got %q", c.Decoder.Backend))
	}
	if c.Features.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("features.sample_rate must be positive"))
	}
	if c.Features.MinDurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("features.min_duration_seconds must not be negative"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive"))
	}
	if c.Auth.TokenSecret != "" && c.Auth.TokenTTLSeconds <= 0 {
		errs = append(errs, fmt.Errorf("auth.token_ttl_seconds must be positive when a token secret is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}

func (c Config) MinDuration() time.Duration {
	return time.Duration(c.Features.MinDurationSeconds * float64(time.Second))
}

func (c Config) DecoderTimeout() time.Duration {
	return time.Duration(c.Decoder.TimeoutSeconds) * time.Second
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

func loadDotEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		partsIndex := strings.Index(line, "=")
		if partsIndex <= 0 {
			continue
		}

		key := strings.TrimSpace(line[:partsIndex])
		value := strings.TrimSpace(line[partsIndex+1:])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
