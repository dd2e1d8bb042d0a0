// Package config loads the engine's tunables (timeouts, retry counts,
// the zone-transfer RR limit, the default UDP payload size) through
// viper, validated with go-playground/validator, the way the teacher's
// tdns/config.go loads and validates its Config.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the engine-level tunable set. Field names mirror the
// original's build-time constants (UDP_TIMEOUT, TCP_TIMEOUT,
// SERVER_TIMEOUT, LOOKUP_LIMIT) turned into runtime settings.
type Config struct {
	UDPTimeout    time.Duration `mapstructure:"udp_timeout" validate:"required"`
	TCPTimeout    time.Duration `mapstructure:"tcp_timeout" validate:"required"`
	ServerTimeout time.Duration `mapstructure:"server_timeout" validate:"required"`

	Retries  int `mapstructure:"retries" validate:"required,gt=0"`
	RRLimit  int `mapstructure:"rr_limit"`
	NDots    int `mapstructure:"ndots" validate:"gte=0"`
	UDPSize  uint16 `mapstructure:"udp_size"`

	LookupLimit int `mapstructure:"lookup_limit" validate:"required,gt=0"`

	Log struct {
		File    string `mapstructure:"file"`
		Verbose bool   `mapstructure:"verbose"`
		Debug   bool   `mapstructure:"debug"`
	} `mapstructure:"log"`
}

// Defaults mirrors the original engine's compiled-in constants.
func Defaults() Config {
	return Config{
		UDPTimeout:    5 * time.Second,
		TCPTimeout:    10 * time.Second,
		ServerTimeout: 3 * time.Second,
		Retries:       3,
		RRLimit:       0,
		NDots:         1,
		UDPSize:       1232,
		LookupLimit:   50,
	}
}

// Load reads cfgFile (if non-empty) through viper on top of Defaults,
// then validates the result, mirroring tdns/config.go's
// ValidateConfig/ValidateBySection split.
func Load(cfgFile string) (*Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", cfgFile, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("udp_timeout", cfg.UDPTimeout)
	v.SetDefault("tcp_timeout", cfg.TCPTimeout)
	v.SetDefault("server_timeout", cfg.ServerTimeout)
	v.SetDefault("retries", cfg.Retries)
	v.SetDefault("rr_limit", cfg.RRLimit)
	v.SetDefault("ndots", cfg.NDots)
	v.SetDefault("udp_size", cfg.UDPSize)
	v.SetDefault("lookup_limit", cfg.LookupLimit)
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("config: missing required attributes: %w", err)
	}
	return nil
}
