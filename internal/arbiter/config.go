package arbiter

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Adjustments holds the rule-based confidence deltas applied during ranking.
// All values are in normalized confidence units.
type Adjustments struct {
	JurisdictionBonus float64 `mapstructure:"jurisdiction_bonus"`
	ParentBonus       float64 `mapstructure:"parent_bonus"`
	InactivePenalty   float64 `mapstructure:"inactive_penalty"`
}

// Config controls the arbitration engine.
type Config struct {
	Adjustments Adjustments `mapstructure:"adjustments"`
}

// DefaultConfig returns arbitration defaults.
func DefaultConfig() Config {
	return Config{
		Adjustments: Adjustments{
			JurisdictionBonus: 0.05,
			ParentBonus:       0.05,
			InactivePenalty:   0.15,
		},
	}
}

// Validate checks that every adjustment stays inside the normalized range.
func Validate(c Config) error {
	var errs []string

	deltas := map[string]float64{
		"adjustments.jurisdiction_bonus": c.Adjustments.JurisdictionBonus,
		"adjustments.parent_bonus":       c.Adjustments.ParentBonus,
		"adjustments.inactive_penalty":   c.Adjustments.InactivePenalty,
	}
	for name, v := range deltas {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1", name))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("arbiter: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Options are the per-call knobs of Arbitrate.
type Options struct {
	// MuteRankingRules disables all rule adjustments. Test and debug use only.
	MuteRankingRules bool
	// JurisdictionBias is a preferred jurisdiction code ("US" or "US-CA").
	JurisdictionBias string
	// ParentPreference boosts parent-relationship claims when set.
	ParentPreference bool
}

// DefaultOptions returns the production option set.
func DefaultOptions() Options {
	return Options{ParentPreference: true}
}
