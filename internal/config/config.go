/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package config loads the voicestream service configuration from a YAML file
// and VOICESTREAM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loqalabs/loqa-voicestream-go/internal/audio"
	"github.com/loqalabs/loqa-voicestream-go/internal/logging"
	"github.com/loqalabs/loqa-voicestream-go/internal/voicestream"
)

// EnvPrefix is prepended to environment overrides, e.g. VOICESTREAM_NATS_URL.
const EnvPrefix = "VOICESTREAM"

type Config struct {
	Audio  AudioConfig  `mapstructure:"audio"`
	Bridge BridgeConfig `mapstructure:"bridge"`
	NATS   NATSConfig   `mapstructure:"nats"`
	Hub    HubConfig    `mapstructure:"hub"`
	Log    LogConfig    `mapstructure:"log"`
}

type AudioConfig struct {
	Backend             string `mapstructure:"backend"`
	voicestream.Options `mapstructure:",squash"`
}

type BridgeConfig struct {
	Listen string `mapstructure:"listen"`
	Path   string `mapstructure:"path"`
	MDNS   bool   `mapstructure:"mdns"`
	Name   string `mapstructure:"name"`
}

type NATSConfig struct {
	URL      string `mapstructure:"url"`
	StreamID string `mapstructure:"stream_id"`
}

type HubConfig struct {
	URL              string `mapstructure:"url"`
	StreamID         string `mapstructure:"stream_id"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func Default() *Config {
	return &Config{
		Audio: AudioConfig{Backend: audio.BackendPortAudio},
		Bridge: BridgeConfig{
			Listen: "127.0.0.1:8765",
			Path:   "/voicestream",
			Name:   "voicestream",
		},
		NATS: NATSConfig{StreamID: "default"},
		Hub:  HubConfig{StreamID: "default", HeartbeatSeconds: 30},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads cfgFile, or voicestream.yaml from the working directory when
// cfgFile is empty. A missing default file is not an error.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("voicestream")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even when
// the file omits them.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("audio.backend", d.Audio.Backend)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.bits_per_sample", d.Audio.BitsPerSample)
	v.SetDefault("audio.buffer_size", d.Audio.BufferSize)
	v.SetDefault("audio.encoding", d.Audio.Encoding)
	v.SetDefault("audio.device", d.Audio.AudioSource)

	v.SetDefault("bridge.listen", d.Bridge.Listen)
	v.SetDefault("bridge.path", d.Bridge.Path)
	v.SetDefault("bridge.mdns", d.Bridge.MDNS)
	v.SetDefault("bridge.name", d.Bridge.Name)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.stream_id", d.NATS.StreamID)

	v.SetDefault("hub.url", d.Hub.URL)
	v.SetDefault("hub.stream_id", d.Hub.StreamID)
	v.SetDefault("hub.heartbeat_seconds", d.Hub.HeartbeatSeconds)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Audio.Backend) {
	case "", audio.BackendPortAudio, audio.BackendMalgo, "miniaudio", audio.BackendMock:
	default:
		errs = append(errs, fmt.Errorf("audio.backend: unknown backend %q", c.Audio.Backend))
	}
	if _, err := voicestream.DefaultConfig().Merge(c.Audio.Options); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}

	if c.Bridge.Listen == "" {
		errs = append(errs, errors.New("bridge.listen is required"))
	}
	if !strings.HasPrefix(c.Bridge.Path, "/") {
		errs = append(errs, fmt.Errorf("bridge.path %q must start with /", c.Bridge.Path))
	}
	if c.Bridge.MDNS && c.Bridge.Name == "" {
		errs = append(errs, errors.New("bridge.name is required when mdns is enabled"))
	}

	if c.NATS.URL != "" {
		if err := checkURL(c.NATS.URL, "nats", "tls", "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("nats.url: %w", err))
		}
		if c.NATS.StreamID == "" {
			errs = append(errs, errors.New("nats.stream_id is required when nats.url is set"))
		}
	}

	if c.Hub.URL != "" {
		if err := checkURL(c.Hub.URL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("hub.url: %w", err))
		}
		if c.Hub.StreamID == "" {
			errs = append(errs, errors.New("hub.stream_id is required when hub.url is set"))
		}
		if c.Hub.HeartbeatSeconds < 0 {
			errs = append(errs, fmt.Errorf("hub.heartbeat_seconds must not be negative, got %d", c.Hub.HeartbeatSeconds))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// HeartbeatInterval returns the hub heartbeat period
func (c *Config) HeartbeatInterval() time.Duration {
	if c.Hub.HeartbeatSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Hub.HeartbeatSeconds) * time.Second
}

// LogOptions converts the log section for logging.Init
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use one of %v", raw, schemes)
}
