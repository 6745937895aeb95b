// ABOUTME: Server configuration loaded from defaults, a YAML file, and the environment
// ABOUTME: Command-line flags are applied on top by the server binary
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultPort        = 50051
	DefaultAudioDir    = "audio_files"
	DefaultChunkSize   = 4096
	DefaultMaxSessions = 10
	DefaultCacheSize   = 256
	DefaultLogFile     = "trackstream-server.log"
	EnvPrefix          = "TRACKSTREAM_"
)

// Config holds server configuration
type Config struct {
	Port        int    `yaml:"port"`
	Name        string `yaml:"name"`
	AudioDir    string `yaml:"audio_dir"`
	ChunkSize   int    `yaml:"chunk_size"`
	MaxSessions int    `yaml:"max_sessions"`
	CacheSize   int    `yaml:"cache_size"`
	EnableMDNS  bool   `yaml:"mdns"`
	Watch       bool   `yaml:"watch"`
	UseTUI      bool   `yaml:"tui"`
	Debug       bool   `yaml:"debug"`
	LogFile     string `yaml:"log_file"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Port:        DefaultPort,
		AudioDir:    DefaultAudioDir,
		ChunkSize:   DefaultChunkSize,
		MaxSessions: DefaultMaxSessions,
		CacheSize:   DefaultCacheSize,
		EnableMDNS:  true,
		Watch:       true,
		LogFile:     DefaultLogFile,
	}
}

// Load returns the defaults overlaid with the YAML file at path, if path is
// not empty, and then with the environment
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv loads a .env file from the working directory, if present, and
// overrides fields from TRACKSTREAM_* variables
func (c *Config) ApplyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	c.Port = envInt("PORT", c.Port)
	c.Name = envStr("NAME", c.Name)
	c.AudioDir = envStr("AUDIO_DIR", c.AudioDir)
	c.ChunkSize = envInt("CHUNK_SIZE", c.ChunkSize)
	c.MaxSessions = envInt("MAX_SESSIONS", c.MaxSessions)
	c.CacheSize = envInt("CACHE_SIZE", c.CacheSize)
	c.EnableMDNS = envBool("MDNS", c.EnableMDNS)
	c.Watch = envBool("WATCH", c.Watch)
	c.UseTUI = envBool("TUI", c.UseTUI)
	c.Debug = envBool("DEBUG", c.Debug)
	c.LogFile = envStr("LOG_FILE", c.LogFile)
	return nil
}

// Validate rejects configurations the server cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.AudioDir) == "" {
		errs = append(errs, errors.New("audio_dir is required"))
	}
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("max_sessions must be positive, got %d", c.MaxSessions))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size must be positive, got %d", c.CacheSize))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
