// Package matcher queries the GLEIF registry for a candidate company name and
// scores the returned legal entities against the local evidence.
package matcher

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Weights configures the scoring dimensions for registry candidates.
// Name similarity carries the highest weight by default; the rest are
// bonuses for corroborating evidence. Weights sum to 1.
type Weights struct {
	NameSimilarity float64 `mapstructure:"name_similarity"`
	ActiveStatus   float64 `mapstructure:"active_status"`
	Jurisdiction   float64 `mapstructure:"jurisdiction"`
	LegalForm      float64 `mapstructure:"legal_form"`
}

// DefaultWeights returns the production scoring weights.
func DefaultWeights() Weights {
	return Weights{
		NameSimilarity: 0.60,
		ActiveStatus:   0.15,
		Jurisdiction:   0.15,
		LegalForm:      0.10,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.NameSimilarity + w.ActiveStatus + w.Jurisdiction + w.LegalForm
}

// ValidateWeights checks that weights are non-negative and sum to ~1.
func ValidateWeights(w Weights) error {
	var errs []string
	for name, v := range map[string]float64{
		"name_similarity": w.NameSimilarity,
		"active_status":   w.ActiveStatus,
		"jurisdiction":    w.Jurisdiction,
		"legal_form":      w.LegalForm,
	} {
		if v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be >= 0", name))
		}
	}
	if w.Sum() <= 0 {
		errs = append(errs, "weight sum must be > 0")
	}
	if math.Abs(w.Sum()-1) > 0.01 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.2f", w.Sum()))
	}
	if len(errs) > 0 {
		return eris.Errorf("matcher: weight validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Config holds matcher behavior knobs beyond the scoring weights.
type Config struct {
	Weights       Weights `mapstructure:"weights"`
	TimeoutSecs   int     `mapstructure:"timeout_secs"`
	MinScore      float64 `mapstructure:"min_score"`      // candidates below are dropped
	MaxCandidates int     `mapstructure:"max_candidates"` // cap on returned matches
	Relationships bool    `mapstructure:"relationships"`  // follow parent/child links of the best match
}

// Timeout returns the registry lookup deadline as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// DefaultConfig returns the production matcher configuration.
func DefaultConfig() Config {
	return Config{
		Weights:       DefaultWeights(),
		TimeoutSecs:   20,
		MinScore:      0.30,
		MaxCandidates: 5,
		Relationships: true,
	}
}
