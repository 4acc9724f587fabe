// Package content loads static game content: the game-mode catalog and the
// level-unlockables table.
package content

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Mode describes one playable game mode.
type Mode struct {
	// ID is the wire identifier clients send in matchmaking requests.
	ID string `yaml:"id"`
	// Name is the display name.
	Name string `yaml:"name"`
	// MinPlayers bounds the smallest match for this mode; zero means the
	// server default.
	MinPlayers int `yaml:"min_players"`
	// MaxPlayers bounds the largest match for this mode.
	MaxPlayers int `yaml:"max_players"`
}

// Unlockable is one reward granted at a specific level.
type Unlockable struct {
	// ID identifies the unlockable item or skill.
	ID string `yaml:"id"`
	// Name is the display name.
	Name string `yaml:"name"`
	// RequiredLevel is matched by exact equality, not a threshold. That
	// mirrors the upstream behavior; see UnlocksForLevel.
	RequiredLevel int `yaml:"required_level"`
}

// Catalog is the loaded game content.
type Catalog struct {
	modes       map[string]Mode
	unlockables []Unlockable
}

type catalogFile struct {
	Modes       []Mode       `yaml:"modes"`
	Unlockables []Unlockable `yaml:"unlockables"`
}

// Load reads and validates a catalog YAML file.
//
// Precondition: path must point to a valid YAML catalog file.
// Postcondition: Returns a validated Catalog or a non-nil error.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file %s: %w", path, err)
	}
	return LoadBytes(data)
}

// LoadBytes parses and validates a catalog from YAML bytes.
//
// Postcondition: Returns a validated Catalog or a non-nil error.
func LoadBytes(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	if len(file.Modes) == 0 {
		return nil, fmt.Errorf("catalog must define at least one mode")
	}

	modes := make(map[string]Mode, len(file.Modes))
	for _, m := range file.Modes {
		if m.ID == "" {
			return nil, fmt.Errorf("mode with empty id")
		}
		if _, dup := modes[m.ID]; dup {
			return nil, fmt.Errorf("duplicate mode id %q", m.ID)
		}
		if m.MaxPlayers < 2 {
			return nil, fmt.Errorf("mode %q: max_players must be >= 2, got %d", m.ID, m.MaxPlayers)
		}
		if m.MinPlayers > m.MaxPlayers {
			return nil, fmt.Errorf("mode %q: min_players %d exceeds max_players %d", m.ID, m.MinPlayers, m.MaxPlayers)
		}
		modes[m.ID] = m
	}

	return &Catalog{modes: modes, unlockables: file.Unlockables}, nil
}

// Mode returns the mode definition for the given id.
//
// Postcondition: Returns (mode, true) if found, or (zero, false) otherwise.
func (c *Catalog) Mode(id string) (Mode, bool) {
	m, ok := c.modes[id]
	return m, ok
}

// ModeCount returns the number of defined modes.
func (c *Catalog) ModeCount() int {
	return len(c.modes)
}

// UnlocksForLevel returns the unlockables whose required level equals the
// given level exactly. A player who skips past a level never receives its
// unlock; upstream behaves this way and changing it here would silently
// diverge, so the equality match is kept as-is.
func (c *Catalog) UnlocksForLevel(level int) []Unlockable {
	var out []Unlockable
	for _, u := range c.unlockables {
		if u.RequiredLevel == level {
			out = append(out, u)
		}
	}
	return out
}
