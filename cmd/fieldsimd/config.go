// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package main

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every setting fieldsimd needs, loaded from flags, a
// config file, and defaults, in that order of precedence — the same
// layering the teacher pack's gateway config uses.
type Config struct {
	Device   string `mapstructure:"device"`
	BaudRate int    `mapstructure:"baud_rate"`
	StateDir string `mapstructure:"state_dir"`

	MQTTBroker string `mapstructure:"mqtt_broker"`
	MQTTTopic  string `mapstructure:"mqtt_topic"`
}

// LoadConfig reads fieldsimd's configuration from ./config.yaml (or
// the path named by --config), command-line flags, and built-in
// defaults.
func LoadConfig() (*Config, error) {
	viper.SetDefault("device", "")
	viper.SetDefault("baud_rate", 19200)
	viper.SetDefault("state_dir", "./fieldsim-state")
	viper.SetDefault("mqtt_broker", "")
	viper.SetDefault("mqtt_topic", "fieldsim/events")

	pflag.StringP("config", "c", "", "Configuration file path.")
	pflag.StringP("device", "p", viper.GetString("device"), "Serial device path (empty: use an ephemeral pty for development).")
	pflag.IntP("baud_rate", "b", viper.GetInt("baud_rate"), "Serial baud rate.")
	pflag.StringP("state_dir", "s", viper.GetString("state_dir"), "Directory for persisted roster and register state.")
	pflag.String("mqtt_broker", viper.GetString("mqtt_broker"), "Optional MQTT broker URL (tcp://host:port) to bridge events to.")
	pflag.String("mqtt_topic", viper.GetString("mqtt_topic"), "MQTT topic events are published to.")
	pflag.Parse()

	if err := viper.BindPFlags(pflag.CommandLine); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}
