package main

import (
	"fmt"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

type config struct {
	Log    logConfig    `mapstructure:"log"`
	Loader loaderConfig `mapstructure:"loader"`
}

type logConfig struct {
	// One of: debug, info, warn, error
	Level string `mapstructure:"level" default:"info"`

	// One of: text, json
	Format string `mapstructure:"format" default:"text"`
}

type loaderConfig struct {
	CheckOverflow bool `mapstructure:"check_overflow" default:"true"`
}

func loadConfig(path string) (*config, error) {
	config := &config{}

	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("failed to set config defaults: %w", err)
	}

	if path == "" {
		return config, nil
	}

	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config from '%s': %w", path, err)
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}
