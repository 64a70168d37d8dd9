// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package sample

import (
	"github.com/samber/oops"
)

// Config controls the sample plugin.
type Config struct {
	WelcomeMessage      string `koanf:"welcome_message" json:"welcome_message" yaml:"welcome_message" jsonschema:"description=Message sent to players when they connect"`
	MaxPlayersTracked   int    `koanf:"max_players_tracked" json:"max_players_tracked" yaml:"max_players_tracked" jsonschema:"minimum=1,description=Soft limit; exceeding it is logged"`
	EnableNotifications bool   `koanf:"enable_notifications" json:"enable_notifications" yaml:"enable_notifications" jsonschema:"description=Emit welcome events and log greetings"`
}

// DefaultConfig returns the plugin defaults.
func DefaultConfig() Config {
	return Config{
		WelcomeMessage:      "Welcome to the server!",
		MaxPlayersTracked:   100,
		EnableNotifications: true,
	}
}

// Validate checks the config for values the plugin cannot run with.
func (c Config) Validate() error {
	if c.MaxPlayersTracked < 1 {
		return oops.Code("CONFIG_INVALID").
			With("max_players_tracked", c.MaxPlayersTracked).
			Errorf("sample.max_players_tracked must be at least 1")
	}
	return nil
}
