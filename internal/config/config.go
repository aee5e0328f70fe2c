// ABOUTME: Runtime configuration for the deck miner pipeline
// ABOUTME: Loads/saves TOML config with fallback to defaults, mirroring the GA config loader

// Package config defines the explicit, immutable-once-loaded parameter struct
// threaded through every stage: batch size, worker/chunk sizing, the
// Fan-Level and limit-break tables, Season mode, DEATH_NOTE thresholds,
// forbidden-card rules and required skill tags. There is no module-level
// mutable state; a *RunConfig is passed by value or pointer into each stage.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SeasonMode selects the singing-count correction table used by pt
// computation (§4.G).
type SeasonMode string

const (
	SeasonNone     SeasonMode = ""
	SeasonSukushow SeasonMode = "sukushow"
	SeasonSukuste  SeasonMode = "sukuste"
)

// RunConfig holds every tunable parameter for one dispatcher run.
type RunConfig struct {
	// Work dispatcher sizing (§4.G, §5).
	BatchSize  int `toml:"batch_size"`
	ChunkSize  int `toml:"chunk_size"`
	NumWorkers int `toml:"num_workers"`

	// Season Fan-Level / pt computation (§4.G).
	SeasonMode        SeasonMode     `toml:"season_mode"`
	FanLevelOverrides map[int]int    `toml:"fan_level_overrides"` // character_id -> level, default 10
	FanLevelBonus     map[int]float64 `toml:"-"`                  // fixed table, not user-configurable

	// Death-Note AFK thresholds (§4.E), card_series_id -> hp-rate threshold percent.
	DeathNoteThresholds map[int]int `toml:"death_note_thresholds"`

	// Deck generator constraints (§4.F).
	ForbiddenCardRules map[int][]int `toml:"-"` // card_series_id -> conflicting card_series_ids, fixed table (CARD_CONFLICT_RULES)
	RequiredSkillTags  []string      `toml:"required_skill_tags"`

	// Card level triples applied uniformly unless a per-card override is given.
	DefaultCardLevel  int `toml:"default_card_level"`
	DefaultCenterSkillLevel int `toml:"default_center_skill_level"`
	DefaultSkillLevel int `toml:"default_skill_level"`

	PtEnabled bool `toml:"pt_enabled"`
}

// GetConfigPath returns the default config file location: the current
// directory first, then ~/.config/deckminer/config.toml.
func GetConfigPath() string {
	if _, err := os.Stat("./deckminer.toml"); err == nil {
		return "./deckminer.toml"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./deckminer.toml"
	}

	return filepath.Join(home, ".config", "deckminer", "config.toml")
}

// Load reads a TOML config file, falling back to Default on a missing file.
func Load(path string) (RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}

		return Default(), fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes cfg to path as TOML, creating parent directories as needed.
func Save(path string, cfg RunConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Default returns a RunConfig seeded with the reference system's constants.
func Default() RunConfig {
	return RunConfig{
		BatchSize:  1_000_000,
		ChunkSize:  500,
		NumWorkers: 0, // 0 means runtime.NumCPU()

		SeasonMode:        SeasonNone,
		FanLevelOverrides: map[int]int{},
		FanLevelBonus: map[int]float64{
			1: 0.0, 2: 0.20, 3: 0.275, 4: 0.35, 5: 0.425,
			6: 0.50, 7: 0.55, 8: 0.60, 9: 0.65, 10: 0.70,
		},

		DeathNoteThresholds: map[int]int{
			1041513: 10,
			1041901: 25,
		},

		ForbiddenCardRules: defaultForbiddenCardRules(),
		RequiredSkillTags:  nil,

		DefaultCardLevel:        1,
		DefaultCenterSkillLevel: 1,
		DefaultSkillLevel:       1,

		PtEnabled: true,
	}
}

// defaultForbiddenCardRules mirrors DeckGen.py/DeckGen2.py's hardcoded
// card-conflict table: the three "idome" cards may not share a deck with
// any card in the P-Gin/BR-Gin cluster (and symmetrically).
func defaultForbiddenCardRules() map[int][]int {
	idomeCards := []int{1031530, 1032528, 1033524}
	ginCluster := []int{1041513, 1042515, 1043515, 1031531, 1041516, 1032529, 1043516}

	rules := make(map[int][]int)
	for _, c := range idomeCards {
		rules[c] = append(rules[c], ginCluster...)
	}

	for _, g := range ginCluster {
		rules[g] = append(rules[g], idomeCards...)
	}

	return rules
}

// SingingCountCorrection applies the mode-specific correction table to
// BONUS_SFL based on the number of distinct singers (§4.G).
func SingingCountCorrection(mode SeasonMode, numSingers int) float64 {
	tables := map[SeasonMode]map[int]float64{
		SeasonSukushow: {2: 2.75, 8: 1.00, 9: 0.90},
		SeasonSukuste:  {2: 2.33, 8: 1.00},
	}

	table, ok := tables[mode]
	if !ok {
		return 1.0
	}

	if v, ok := table[numSingers]; ok {
		return v
	}

	return 1.0
}

// LimitBreakBonus returns the pt multiplier for a card's limit-break level
// (max(center_skill_level, skill_level), §4.G / Glossary).
func LimitBreakBonus(level int) float64 {
	switch {
	case level <= 10:
		return 1.0
	case level == 11:
		return 1.2
	case level == 12:
		return 1.3
	case level == 13:
		return 1.35
	default: // 14 and above
		return 1.4
	}
}
