// ABOUTME: Agent profile parsing from TOML files
// ABOUTME: A profile carries everything a deployed agent needs in one file

package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Profile is the agent-side configuration, shipped next to the binary.
type Profile struct {
	Server        string `toml:"server"`
	AgentID       string `toml:"agent_id"`
	SleepInterval int    `toml:"sleep_interval"`
	JitterPercent int    `toml:"jitter_percent"`
	UserAgent     string `toml:"user_agent"`
	InsecureTLS   bool   `toml:"insecure_tls"`
}

// LoadProfile reads and validates a TOML agent profile.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validating profile: %w", err)
	}
	return &p, nil
}

// Validate checks the profile for required fields and sane ranges.
func (p *Profile) Validate() error {
	if p.Server == "" {
		return fmt.Errorf("server is required")
	}
	if p.SleepInterval < 0 {
		return fmt.Errorf("sleep_interval must not be negative")
	}
	if p.JitterPercent < 0 || p.JitterPercent > 50 {
		return fmt.Errorf("jitter_percent must be in [0,50]")
	}
	return nil
}
