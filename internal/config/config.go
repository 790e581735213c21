package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from an optional
// YAML file and may be overridden by environment variables.
type Config struct {
	Server struct {
		Port           int      `yaml:"port"`
		BaseURL        string   `yaml:"base_url"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Rooms struct {
		TTLMinutes       int `yaml:"ttl_minutes"`
		PlayerGraceSec   int `yaml:"player_grace_seconds"`
		HostGraceSec     int `yaml:"host_grace_seconds"`
		SweepIntervalSec int `yaml:"sweep_interval_seconds"`
	} `yaml:"rooms"`

	Admission struct {
		ActionsPerSecond float64 `yaml:"actions_per_second"`
		Burst            int     `yaml:"burst"`
		IdleEvictionMin  int     `yaml:"idle_eviction_minutes"`
	} `yaml:"admission"`

	Sync struct {
		GapToleranceSec    int `yaml:"gap_tolerance_seconds"`
		MonitorIntervalSec int `yaml:"monitor_interval_seconds"`
		ResyncBackoffSec   int `yaml:"resync_backoff_seconds"`
		CompressThreshold  int `yaml:"compress_threshold_bytes"`
	} `yaml:"sync"`

	Content struct {
		Dir string `yaml:"dir"`
	} `yaml:"content"`

	Leaderboard struct {
		DatabaseEnabled bool   `yaml:"database_enabled"`
		NATSEnabled     bool   `yaml:"nats_enabled"`
		NATSURL         string `yaml:"nats_url"`
		StreamName      string `yaml:"stream_name"`
		SubjectPrefix   string `yaml:"subject_prefix"`
	} `yaml:"leaderboard"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file or env overrides
// are present.
func Default() Config {
	var c Config
	c.Server.Port = 8080
	c.Server.BaseURL = "http://localhost:8080"
	c.Server.AllowedOrigins = []string{"http://localhost:5173"}
	c.Rooms.TTLMinutes = 120
	c.Rooms.PlayerGraceSec = 120
	c.Rooms.HostGraceSec = 60
	c.Rooms.SweepIntervalSec = 60
	c.Admission.ActionsPerSecond = 5
	c.Admission.Burst = 10
	c.Admission.IdleEvictionMin = 10
	c.Sync.GapToleranceSec = 5
	c.Sync.MonitorIntervalSec = 2
	c.Sync.ResyncBackoffSec = 3
	c.Sync.CompressThreshold = 8 * 1024
	c.Content.Dir = "content"
	c.Leaderboard.NATSURL = "nats://localhost:4222"
	c.Leaderboard.StreamName = "GAME_RESULTS"
	c.Leaderboard.SubjectPrefix = "party.results"
	c.LogLevel = "info"
	return c
}

// Load reads the YAML file at path (if it exists) on top of the defaults,
// then applies environment overrides.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return c, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &c); err != nil {
			return c, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	c.Server.Port = getEnvAsInt("PORT", c.Server.Port)
	c.Server.BaseURL = getEnv("BASE_URL", c.Server.BaseURL)
	c.Content.Dir = getEnv("CONTENT_DIR", c.Content.Dir)
	c.Leaderboard.NATSURL = getEnv("NATS_URL", c.Leaderboard.NATSURL)
	if v := os.Getenv("LEADERBOARD_DB_ENABLED"); v != "" {
		c.Leaderboard.DatabaseEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("LEADERBOARD_NATS_ENABLED"); v != "" {
		c.Leaderboard.NATSEnabled = v == "true" || v == "1"
	}
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	return c, nil
}

// RoomTTL returns the room time-to-live as a duration.
func (c Config) RoomTTL() time.Duration { return time.Duration(c.Rooms.TTLMinutes) * time.Minute }

// PlayerGrace returns the player reconnect grace window.
func (c Config) PlayerGrace() time.Duration {
	return time.Duration(c.Rooms.PlayerGraceSec) * time.Second
}

// HostGrace returns the host reconnect grace window.
func (c Config) HostGrace() time.Duration { return time.Duration(c.Rooms.HostGraceSec) * time.Second }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
