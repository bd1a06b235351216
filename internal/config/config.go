// Package config loads the settings of the block engine test tools from a
// TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/mevton/blockengine/internal/traffic"
)

// EnvAccessToken names the environment variable holding the bearer token.
const EnvAccessToken = "BLOCK_ENGINE_ACCESS_TOKEN"

// Client configures the test client.
type Client struct {
	Endpoint       string
	AccessToken    string
	ConnectTimeout time.Duration
	LogLevel       logrus.Level
	Traffic        traffic.Config
}

// Server configures the fake block engine.
type Server struct {
	Listen   string
	LogLevel logrus.Level
	// AccessToken, if set, is the only bearer token the server accepts.
	AccessToken    string
	BundleInterval time.Duration
	// BundleCount is the number of bundles sent to each subscriber before the
	// server closes its stream. Zero or less never closes it.
	BundleCount int
}

// DefaultClient returns the client settings used when no config file is given.
func DefaultClient() Client {
	return Client{
		Endpoint:       "127.0.0.1:26355",
		ConnectTimeout: 5 * time.Second,
		LogLevel:       logrus.InfoLevel,
		Traffic: traffic.Config{
			Interval:   100 * time.Millisecond,
			Count:      50,
			PacketSize: 256,
			Linger:     2 * time.Second,
		},
	}
}

// DefaultServer returns the server settings used when no config file is given.
func DefaultServer() Server {
	return Server{
		Listen:         "127.0.0.1:26355",
		LogLevel:       logrus.InfoLevel,
		BundleInterval: 500 * time.Millisecond,
	}
}

type fileConfig struct {
	Endpoint       string `toml:"endpoint"`
	ConnectTimeout string `toml:"connect_timeout"`
	LogLevel       string `toml:"log_level"`
	PacketInterval string `toml:"packet_interval"`
	PacketCount    int    `toml:"packet_count"`
	PacketSize     int    `toml:"packet_size"`
	Linger         string `toml:"linger"`
	Listen         string `toml:"listen"`
	BundleInterval string `toml:"bundle_interval"`
	BundleCount    int    `toml:"bundle_count"`
}

// LoadEnv loads environment variables from the given dotenv files, or from
// ".env" if none are given. Missing files are ignored; variables already set
// in the environment win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	return nil
}

// LoadClient returns the client configuration: defaults, overridden by the
// keys present in the TOML file at path (if path is not empty), with the
// access token taken from the environment.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	raw, meta, err := decode(path)
	if err != nil {
		return Client{}, err
	}

	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if err := parseDuration(meta, "connect_timeout", raw.ConnectTimeout, &cfg.ConnectTimeout); err != nil {
		return Client{}, err
	}
	if err := parseLevel(meta, raw.LogLevel, &cfg.LogLevel); err != nil {
		return Client{}, err
	}
	if err := parseDuration(meta, "packet_interval", raw.PacketInterval, &cfg.Traffic.Interval); err != nil {
		return Client{}, err
	}
	if meta.IsDefined("packet_count") {
		cfg.Traffic.Count = raw.PacketCount
	}
	if meta.IsDefined("packet_size") {
		cfg.Traffic.PacketSize = raw.PacketSize
	}
	if err := parseDuration(meta, "linger", raw.Linger, &cfg.Traffic.Linger); err != nil {
		return Client{}, err
	}

	cfg.AccessToken = os.Getenv(EnvAccessToken)
	if cfg.Endpoint == "" {
		return Client{}, errors.New("endpoint must not be empty")
	}
	return cfg, nil
}

// LoadServer returns the server configuration, built the same way as
// LoadClient's.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	raw, meta, err := decode(path)
	if err != nil {
		return Server{}, err
	}

	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if err := parseLevel(meta, raw.LogLevel, &cfg.LogLevel); err != nil {
		return Server{}, err
	}
	if err := parseDuration(meta, "bundle_interval", raw.BundleInterval, &cfg.BundleInterval); err != nil {
		return Server{}, err
	}
	if meta.IsDefined("bundle_count") {
		cfg.BundleCount = raw.BundleCount
	}

	cfg.AccessToken = os.Getenv(EnvAccessToken)
	if cfg.Listen == "" {
		return Server{}, errors.New("listen address must not be empty")
	}
	return cfg, nil
}

func decode(path string) (fileConfig, toml.MetaData, error) {
	var raw fileConfig
	if path == "" {
		return raw, toml.MetaData{}, nil
	}
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fileConfig{}, toml.MetaData{}, fmt.Errorf("load config: %w", err)
	}
	return raw, meta, nil
}

func parseDuration(meta toml.MetaData, key, raw string, dst *time.Duration) error {
	if !meta.IsDefined(key) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must not be negative", key)
	}
	*dst = d
	return nil
}

func parseLevel(meta toml.MetaData, raw string, dst *logrus.Level) error {
	if !meta.IsDefined("log_level") {
		return nil
	}
	lvl, err := logrus.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse log_level: %w", err)
	}
	*dst = lvl
	return nil
}
