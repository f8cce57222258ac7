package scorer

import (
	"strings"
	"unicode"

	"github.com/sells-group/entity-resolver/internal/model"
)

// Scorer maps raw signals to scored candidates.
type Scorer struct {
	cfg Config
}

// New creates a Scorer. A zero-value config is replaced with defaults.
func New(cfg Config) *Scorer {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Scorer{cfg: cfg}
}

// leading prefixes stripped before validation, longest first so "Welcome to"
// wins over "Welcome".
var leadingPrefixes = []string{
	"Official Website of",
	"Welcome to",
	"About",
	"Home",
}

// trailing marketing terms stripped before validation.
var marketingTerms = []string{
	"Services", "Solutions", "Products", "Website",
}

// stopTokens are generic page-chrome strings that can never be a company name.
var stopTokens = map[string]struct{}{
	"home":               {},
	"homepage":           {},
	"login":              {},
	"log in":             {},
	"sign in":            {},
	"404":                {},
	"403":                {},
	"error":              {},
	"not found":          {},
	"page not found":     {},
	"untitled":           {},
	"index":              {},
	"welcome":            {},
	"about":              {},
	"about us":           {},
	"contact":            {},
	"contact us":         {},
	"coming soon":        {},
	"under construction": {},
	"privacy policy":     {},
	"terms of service":   {},
}

// suffix tiers, checked in order; only the first matching tier's bonus applies.
var (
	corporateSuffixes     = []string{"Inc", "Corp", "Corporation", "Ltd", "Limited", "plc"}
	limitedSuffixes       = []string{"LLC", "LP", "LLP", "Co. Ltd"}
	groupSuffixes         = []string{"Group", "Holdings"}
	internationalSuffixes = []string{"GmbH", "AG", "SA", "SAS", "SpA", "BV", "NV", "Pty", "SE"}
)

// Score maps a signal to a candidate, or nil when the text fails validation.
// Nil means "this method produced nothing usable", not a low-confidence hit.
// Identical (text, method) inputs always yield identical output.
func (s *Scorer) Score(sig model.Signal) *model.Candidate {
	if !sig.Method.Valid() {
		return nil
	}

	name := Clean(sig.Text)
	if !s.valid(name) {
		return nil
	}

	conf := sig.Method.BaseConfidence()
	bonus, sufLen := s.suffixBonus(name)
	conf += bonus
	conf -= s.lengthPenalty(stripEntitySuffix(name, sufLen))

	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}

	return &model.Candidate{
		Name:       name,
		Method:     sig.Method,
		Confidence: conf,
	}
}

// Clean normalizes raw signal text: collapses whitespace, cuts trailing
// content after the first separator, and strips boilerplate prefixes and
// marketing terms.
func Clean(text string) string {
	name := strings.Join(strings.Fields(text), " ")

	// Everything after the first separator is page decoration
	// ("Acme Corp | Industrial Supplies"). Bare hyphens count as
	// separators, so hyphenated brand names are cut at the hyphen.
	if i := strings.IndexAny(name, "|–:-"); i >= 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)

	for _, p := range leadingPrefixes {
		if len(name) > len(p) && strings.EqualFold(name[:len(p)], p) {
			name = strings.TrimSpace(name[len(p):])
			break
		}
	}

	for _, term := range marketingTerms {
		if len(name) > len(term) && strings.EqualFold(name[len(name)-len(term):], term) {
			trimmed := strings.TrimSpace(name[:len(name)-len(term)])
			// Only strip if it was a separate trailing word.
			if trimmed != "" && trimmed != name[:len(name)-len(term)] {
				name = trimmed
			}
		}
	}

	return strings.Trim(name, " .,;")
}

func (s *Scorer) valid(name string) bool {
	if len(name) < s.cfg.MinLength || len(name) > s.cfg.MaxLength {
		return false
	}
	if _, stop := stopTokens[strings.ToLower(name)]; stop {
		return false
	}

	hasLetter := false
	hasDigitOnly := true
	for _, r := range name {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			hasDigitOnly = false
		}
	}
	// Pure numbers and pure punctuation are not names.
	if !hasLetter || hasDigitOnly {
		return false
	}

	return true
}

// suffixBonus returns the bonus for the entity suffix on name, if any,
// plus the length of the matched suffix. Only one bonus ever applies; when
// suffixes from several tiers could match (e.g. "Co. Ltd" vs bare "Ltd"),
// the longest match decides the tier.
func (s *Scorer) suffixBonus(name string) (bonus, matchLen int) {
	tiers := []struct {
		suffixes []string
		bonus    int
	}{
		{corporateSuffixes, s.cfg.CorporateSuffixBonus},
		{limitedSuffixes, s.cfg.LimitedSuffixBonus},
		{internationalSuffixes, s.cfg.InternationalSuffixBonus},
		{groupSuffixes, s.cfg.GroupSuffixBonus},
	}

	bestLen, bestBonus := 0, 0
	for _, tier := range tiers {
		for _, suf := range tier.suffixes {
			if hasSuffix(name, suf) && len(suf) > bestLen {
				bestLen, bestBonus = len(suf), tier.bonus
			}
		}
	}
	return bestBonus, bestLen
}

// stripEntitySuffix removes a matched entity suffix of sufLen characters,
// along with any trailing period and the separating space.
func stripEntitySuffix(name string, sufLen int) string {
	if sufLen == 0 {
		return name
	}
	trimmed := strings.TrimSuffix(name, ".")
	return strings.Trim(trimmed[:len(trimmed)-sufLen], " .,")
}

// hasSuffix reports whether name ends with suf as its own word, optionally
// followed by a period. A name that is nothing but the suffix does not count.
func hasSuffix(name, suf string) bool {
	trimmed := strings.TrimSuffix(name, ".")
	if strings.EqualFold(trimmed, suf) {
		return false
	}
	return len(trimmed) > len(suf)+1 &&
		strings.EqualFold(trimmed[len(trimmed)-len(suf):], suf) &&
		trimmed[len(trimmed)-len(suf)-1] == ' '
}

// lengthPenalty bands are measured on the suffix-stripped base name.
func (s *Scorer) lengthPenalty(name string) int {
	switch n := len(name); {
	case n > 50:
		return s.cfg.VeryLongNamePenalty
	case n > 20:
		return s.cfg.LongNamePenalty
	default:
		return 0
	}
}
