// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the timeline viewer configuration.
type Config struct {
	// Homeserver is the base URL of the Matrix homeserver
	// (e.g., "https://matrix.example.com").
	Homeserver string `yaml:"homeserver"`

	// Room is the room to open: a room ID ("!abc:example.com") or an
	// alias ("#general:example.com").
	Room string `yaml:"room"`

	// UserID is the account the access token belongs to.
	UserID string `yaml:"user_id"`

	// AccessTokenFile is the path of a file holding the access token
	// on its first line. Keeping the token out of the config file
	// lets the config be committed or shared.
	AccessTokenFile string `yaml:"access_token_file"`

	// Timeline tunes the engine.
	Timeline TimelineConfig `yaml:"timeline"`
}

// TimelineConfig tunes the timeline engine.
type TimelineConfig struct {
	// PageSize is the event count per pagination request.
	PageSize int `yaml:"page_size"`

	// InitialLimit caps the initial snapshot size.
	InitialLimit int `yaml:"initial_limit"`

	// HideMembershipChanges drops join/leave noise from the display.
	HideMembershipChanges bool `yaml:"hide_membership_changes"`
}

// Default returns a Config with working defaults for everything that
// has one. Homeserver, Room, and the token have no default.
func Default() *Config {
	return &Config{
		Timeline: TimelineConfig{
			PageSize:     20,
			InitialLimit: 50,
		},
	}
}

// Load loads configuration from the TIMELINE_CONFIG environment
// variable. There are no fallbacks or file discovery: if the variable
// is not set, loading fails. This keeps configuration deterministic
// and auditable.
func Load() (*Config, error) {
	path := os.Getenv("TIMELINE_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("TIMELINE_CONFIG environment variable not set; " +
			"set it to the path of your timeline.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The file is
// the single source of truth; environment variables do not override
// values. The only expansion performed is ${HOME} and similar path
// variables in file paths, for portability.
func LoadFile(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	config.AccessTokenFile = expandVariables(config.AccessTokenFile)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Validate checks that the required fields are present and sane.
func (c *Config) Validate() error {
	if c.Homeserver == "" {
		return fmt.Errorf("homeserver is required")
	}
	if !strings.HasPrefix(c.Homeserver, "http://") && !strings.HasPrefix(c.Homeserver, "https://") {
		return fmt.Errorf("homeserver must be an http(s) URL, got %q", c.Homeserver)
	}
	if c.Room == "" {
		return fmt.Errorf("room is required")
	}
	if c.Room[0] != '!' && c.Room[0] != '#' {
		return fmt.Errorf("room must be a room ID (!...) or alias (#...), got %q", c.Room)
	}
	if c.Timeline.PageSize < 0 || c.Timeline.InitialLimit < 0 {
		return fmt.Errorf("timeline limits must not be negative")
	}
	return nil
}

// AccessToken reads the access token from AccessTokenFile. The token
// is the first line of the file; surrounding whitespace is trimmed.
func (c *Config) AccessToken() (string, error) {
	if c.AccessTokenFile == "" {
		return "", fmt.Errorf("access_token_file is not configured")
	}
	data, err := os.ReadFile(c.AccessTokenFile)
	if err != nil {
		return "", fmt.Errorf("reading access token: %w", err)
	}
	token, _, _ := strings.Cut(string(data), "\n")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("access token file %s is empty", c.AccessTokenFile)
	}
	return token, nil
}

// variablePattern matches ${VAR} and ${VAR:-default}.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandVariables expands ${HOME} and similar patterns in a path.
func expandVariables(path string) string {
	return variablePattern.ReplaceAllStringFunc(path, func(match string) string {
		groups := variablePattern.FindStringSubmatch(match)
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		return groups[2]
	})
}
