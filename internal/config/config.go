package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Xirsys holds TURN credential service settings. Username and Secret empty
// means the provider falls back to public STUN servers.
type Xirsys struct {
	Username string `mapstructure:"username"`
	Secret   string `mapstructure:"secret"`
	Channel  string `mapstructure:"channel"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Addr       string        `mapstructure:"addr"`
	Secret     string        `mapstructure:"secret"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Xirsys     Xirsys        `mapstructure:"xirsys"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("addr", "0.0.0.0:3001")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("xirsys.channel", "webhangin")

	// The frontend keeps its credentials under NEXT_PUBLIC_*; accept both.
	_ = v.BindEnv("xirsys.username", "XIRSYS_USERNAME", "NEXT_PUBLIC_XIRSYS_USERNAME")
	_ = v.BindEnv("xirsys.secret", "XIRSYS_SECRET", "NEXT_PUBLIC_XIRSYS_SECRET")
	_ = v.BindEnv("xirsys.channel", "XIRSYS_CHANNEL", "NEXT_PUBLIC_XIRSYS_CHANNEL")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
