// Package scorer turns raw extraction signals into scored company-name
// candidates. Scoring is a pure function of (text, method): no I/O, no
// randomness, no hidden state.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Config holds the tunable scoring knobs. Bonuses are additive; the final
// score is clamped to [0,100]. Only the first matching suffix tier applies.
type Config struct {
	CorporateSuffixBonus     int `mapstructure:"corporate_suffix_bonus"`     // Inc, Corp, Ltd, ...
	LimitedSuffixBonus       int `mapstructure:"limited_suffix_bonus"`       // LLC, LP, LLP, Co. Ltd
	GroupSuffixBonus         int `mapstructure:"group_suffix_bonus"`         // Group, Holdings
	InternationalSuffixBonus int `mapstructure:"international_suffix_bonus"` // GmbH, AG, SA, ...

	LongNamePenalty     int `mapstructure:"long_name_penalty"`      // 21-50 chars
	VeryLongNamePenalty int `mapstructure:"very_long_name_penalty"` // 51-100 chars

	MinLength int `mapstructure:"min_length"` // below → reject
	MaxLength int `mapstructure:"max_length"` // above → reject
}

// DefaultConfig returns the production scoring configuration.
func DefaultConfig() Config {
	return Config{
		CorporateSuffixBonus:     10,
		LimitedSuffixBonus:       8,
		GroupSuffixBonus:         5,
		InternationalSuffixBonus: 8,
		LongNamePenalty:          10,
		VeryLongNamePenalty:      20,
		MinLength:                3,
		MaxLength:                100,
	}
}

// Validate checks that a Config is internally consistent.
func Validate(c Config) error {
	var errs []string

	bonuses := map[string]int{
		"corporate_suffix_bonus":     c.CorporateSuffixBonus,
		"limited_suffix_bonus":       c.LimitedSuffixBonus,
		"group_suffix_bonus":         c.GroupSuffixBonus,
		"international_suffix_bonus": c.InternationalSuffixBonus,
	}
	for name, b := range bonuses {
		if b < 0 || b > 100 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 100", name))
		}
	}

	if c.LongNamePenalty < 0 {
		errs = append(errs, "long_name_penalty must be >= 0")
	}
	if c.VeryLongNamePenalty < c.LongNamePenalty {
		errs = append(errs, "very_long_name_penalty must be >= long_name_penalty")
	}
	if c.MinLength < 1 {
		errs = append(errs, "min_length must be >= 1")
	}
	if c.MaxLength <= c.MinLength {
		errs = append(errs, "max_length must be > min_length")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
