package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Environment string `json:"environment"`
	Server      struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`
	MongoDB struct {
		URI      string `json:"uri"`
		Database string `json:"database"`
	} `json:"mongodb"`
	Frontend struct {
		URL string `json:"url"`
	} `json:"frontend"`
	Auth struct {
		// AccessSecret validates the bearer tokens handed to us by the
		// external auth provider (spec.md §1 Non-goals: this core never
		// issues tokens itself).
		AccessSecret string `json:"accessSecret"`
	} `json:"auth"`
	Protocol struct {
		// OfficialBotSecret gates the "official" flag a bot claims at
		// registration (spec.md §4.2) — only a registering bot presenting
		// this shared secret may mark itself official and become eligible
		// for eval-bar duty.
		OfficialBotSecret string `json:"officialBotSecret"`
		// UnexpectedMessageThreshold is how many protocol-violating frames
		// a single bot connection may send before it is disconnected
		// (spec.md §4.4).
		UnexpectedMessageThreshold int `json:"unexpectedMessageThreshold"`
		// BgsRequestTimeoutMs bounds how long the correlator waits for a
		// bot's response to a start_game_session/evaluate_position/
		// apply_move/end_game_session request before it times out
		// (spec.md §4.5, §9's promise-plus-timeout redesign).
		BgsRequestTimeoutMs int `json:"bgsRequestTimeoutMs"`
		// StrictPly, when true, rejects a BGS history append whose ply
		// does not match the expected next ply instead of warning and
		// continuing (spec.md §9 Open Question on ply monotonicity).
		StrictPly bool `json:"strictPly"`
		// BgsStaleAfterMs bounds how long a BGS may go untouched before the
		// periodic sweep reclaims it, bounding the MaxSessions backpressure
		// cap against bots that vanish without end_game_session.
		BgsStaleAfterMs int `json:"bgsStaleAfterMs"`
	} `json:"protocol"`
	Workqueue struct {
		Workers  int `json:"workers"`
		Capacity int `json:"capacity"`
	} `json:"workqueue"`
}

// BgsRequestTimeout returns the configured BGS request timeout as a
// time.Duration, falling back to a sane default if unset.
func (c *Config) BgsRequestTimeout() time.Duration {
	if c.Protocol.BgsRequestTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Protocol.BgsRequestTimeoutMs) * time.Millisecond
}

func Load(env string) (*Config, error) {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "configs"
	}

	filename := fmt.Sprintf("config.%s.json", env)
	configPath := filepath.Join(configDir, filename)

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	configStr := expandEnvVars(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(configStr), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.Environment = env
	if cfg.Protocol.UnexpectedMessageThreshold <= 0 {
		cfg.Protocol.UnexpectedMessageThreshold = 100
	}
	if cfg.Protocol.BgsStaleAfterMs <= 0 {
		cfg.Protocol.BgsStaleAfterMs = 10 * 60 * 1000
	}
	if cfg.Workqueue.Workers <= 0 {
		cfg.Workqueue.Workers = 4
	}
	if cfg.Workqueue.Capacity <= 0 {
		cfg.Workqueue.Capacity = 256
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func GetEnv() string {
	env := os.Getenv("WALLGAME_ENV")
	if env == "" {
		return "dev"
	}
	return env
}
