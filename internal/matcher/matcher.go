package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/extractor"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/pkg/gleif"
)

// RegistryUnavailableError reports that the external registry could not be
// reached. Arbitration proceeds without registry claims when it sees one.
type RegistryUnavailableError struct {
	Err error
}

func (e *RegistryUnavailableError) Error() string {
	return "registry unavailable: " + e.Err.Error()
}

func (e *RegistryUnavailableError) Unwrap() error { return e.Err }

// Context carries local evidence that biases registry scoring.
type Context struct {
	DomainTLD          string   // e.g. "co.uk"
	JurisdictionHints  []string // ISO country codes, strongest first
}

// ScoreBreakdown records the per-dimension contributions behind a match score.
type ScoreBreakdown struct {
	NameSimilarity float64 `json:"name_similarity"`
	ActiveStatus   float64 `json:"active_status"`
	Jurisdiction   float64 `json:"jurisdiction"`
	LegalForm      float64 `json:"legal_form"`
	Final          float64 `json:"final"`
}

// Match pairs a registry entity with its weighted score.
type Match struct {
	Entity    model.GLEIFEntity `json:"entity"`
	Score     float64           `json:"score"`
	Breakdown ScoreBreakdown    `json:"breakdown"`
}

// Matcher scores registry candidates for one resolution run. Each run gets
// its own Matcher so the lookup cache never leaks across runs.
type Matcher struct {
	client  gleif.Client
	cfg     Config
	cache   *gocache.Cache
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// New creates a run-scoped Matcher with default resilience settings.
func New(client gleif.Client, cfg Config) *Matcher {
	return NewWithResilience(client, cfg, resilience.DefaultRetryConfig(), resilience.DefaultCircuitBreakerConfig())
}

// NewWithResilience creates a run-scoped Matcher with explicit retry and
// circuit breaker settings.
func NewWithResilience(client gleif.Client, cfg Config, retry resilience.RetryConfig, breaker resilience.CircuitBreakerConfig) *Matcher {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("registry lookup")
	}
	if breaker.OnStateChange == nil {
		breaker.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("matcher: registry breaker state change",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}
	return &Matcher{
		client:  client,
		cfg:     cfg,
		cache:   gocache.New(gocache.NoExpiration, 0),
		breaker: resilience.NewCircuitBreaker(breaker),
		retry:   retry,
	}
}

// Match queries the registry for candidateName and returns scored entities,
// most likely first. An unreachable registry yields a RegistryUnavailableError;
// individual malformed records are skipped upstream and never fail the call.
func (m *Matcher) Match(ctx context.Context, candidateName string, mctx Context) ([]Match, error) {
	hint := ""
	if len(mctx.JurisdictionHints) > 0 {
		hint = mctx.JurisdictionHints[0]
	}

	cacheKey := strings.ToLower(candidateName) + "|" + hint
	if cached, found := m.cache.Get(cacheKey); found {
		return cached.([]Match), nil
	}

	if m.cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout())
		defer cancel()
	}

	records, err := m.lookup(ctx, candidateName, hint)
	if err != nil {
		return nil, &RegistryUnavailableError{Err: err}
	}

	matches := m.finalize(m.score(records, candidateName, mctx))

	// Follow relationship links of the best direct match; failures here
	// degrade to a direct-only result rather than failing the call.
	if m.cfg.Relationships && len(matches) > 0 {
		related, err := m.client.LookupRelationships(ctx, matches[0].Entity.LEICode)
		if err != nil {
			zap.L().Warn("matcher: relationship lookup failed",
				zap.String("lei", matches[0].Entity.LEICode),
				zap.Error(err),
			)
		} else if len(related) > 0 {
			matches = m.finalize(append(matches, m.score(related, candidateName, mctx)...))
		}
	}
	m.cache.Set(cacheKey, matches, gocache.NoExpiration)
	return matches, nil
}

func (m *Matcher) lookup(ctx context.Context, name, hint string) ([]gleif.LEIRecord, error) {
	return resilience.DoVal(ctx, m.retry, func(ctx context.Context) ([]gleif.LEIRecord, error) {
		return resilience.ExecuteVal(ctx, m.breaker, func(ctx context.Context) ([]gleif.LEIRecord, error) {
			records, err := m.client.LookupByName(ctx, name, hint)
			if err != nil {
				return nil, eris.Wrap(err, "matcher: lookup")
			}
			return records, nil
		})
	})
}

func (m *Matcher) score(records []gleif.LEIRecord, candidateName string, mctx Context) []Match {
	matches := make([]Match, 0, len(records))
	for _, rec := range records {
		entity := toEntity(rec)
		bd := m.breakdown(entity, candidateName, mctx)
		matches = append(matches, Match{Entity: entity, Score: bd.Final, Breakdown: bd})
	}
	return matches
}

// breakdown computes the weighted score for one entity. Absent fields
// contribute nothing; they are not scored as zero evidence against.
func (m *Matcher) breakdown(e model.GLEIFEntity, candidateName string, mctx Context) ScoreBreakdown {
	w := m.cfg.Weights
	bd := ScoreBreakdown{
		NameSimilarity: NameSimilarity(candidateName, e.LegalName),
	}

	usedWeight := w.NameSimilarity
	total := bd.NameSimilarity * w.NameSimilarity

	if e.EntityStatus != "" {
		usedWeight += w.ActiveStatus
		if e.Active() {
			bd.ActiveStatus = 1
			total += w.ActiveStatus
		}
	}

	// The jurisdiction dimension is only scoreable when there is both a hint
	// to compare against and a country on the record.
	if country := entityCountry(e); country != "" && len(mctx.JurisdictionHints) > 0 {
		usedWeight += w.Jurisdiction
		if jurisdictionMatches(country, mctx.JurisdictionHints) {
			bd.Jurisdiction = 1
			total += w.Jurisdiction
		}
	}

	if tldCountry := tldToCountry(mctx.DomainTLD); tldCountry != "" {
		usedWeight += w.LegalForm
		if legalFormPlausible(e.LegalName, tldCountry) {
			bd.LegalForm = 1
			total += w.LegalForm
		}
	}

	if usedWeight > 0 {
		bd.Final = total / usedWeight
	}
	return bd
}

// finalize sorts matches best-first with a deterministic LEI tie-break,
// dedupes by LEI keeping the higher score, and applies min-score/cap limits.
func (m *Matcher) finalize(matches []Match) []Match {
	best := make(map[string]Match, len(matches))
	for _, match := range matches {
		cur, seen := best[match.Entity.LEICode]
		if !seen || match.Score > cur.Score {
			best[match.Entity.LEICode] = match
		}
	}

	out := make([]Match, 0, len(best))
	for _, match := range best {
		if match.Score >= m.cfg.MinScore {
			out = append(out, match)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entity.LEICode < out[j].Entity.LEICode
	})

	if m.cfg.MaxCandidates > 0 && len(out) > m.cfg.MaxCandidates {
		out = out[:m.cfg.MaxCandidates]
	}
	return out
}

// CacheLen reports how many lookups this run has cached.
func (m *Matcher) CacheLen() int {
	return m.cache.ItemCount()
}

func toEntity(rec gleif.LEIRecord) model.GLEIFEntity {
	return model.GLEIFEntity{
		LEICode:      rec.LEI,
		LegalName:    rec.LegalName,
		EntityStatus: rec.EntityStatus,
		LegalForm:    rec.LegalFormID,
		Jurisdiction: rec.Jurisdiction,
		Headquarters: model.Address{
			City:    rec.HQCity,
			Region:  rec.HQRegion,
			Country: rec.HQCountry,
		},
		LegalAddress: model.Address{
			City:    rec.LegalCity,
			Region:  rec.LegalRegion,
			Country: rec.LegalCountry,
		},
		RegistrationStatus: rec.RegistrationStatus,
		LastGleifUpdate:    rec.LastUpdate,
		RelationshipType:   rec.RelationshipType,
	}
}

// entityCountry returns the entity's country, preferring the jurisdiction
// code over registered addresses.
func entityCountry(e model.GLEIFEntity) string {
	if e.Jurisdiction != "" {
		// GLEIF jurisdictions may carry a region ("US-CA").
		if i := strings.IndexByte(e.Jurisdiction, '-'); i > 0 {
			return e.Jurisdiction[:i]
		}
		return e.Jurisdiction
	}
	if e.LegalAddress.Country != "" {
		return e.LegalAddress.Country
	}
	return e.Headquarters.Country
}

func jurisdictionMatches(country string, hints []string) bool {
	for _, h := range hints {
		if strings.EqualFold(country, h) {
			return true
		}
	}
	return false
}

// legalFormsByCountry lists name suffix tokens typical for a country's
// company law. Used only as weak corroboration.
var legalFormsByCountry = map[string][]string{
	"US": {"inc", "incorporated", "corp", "corporation", "llc", "lp", "llp", "co"},
	"GB": {"ltd", "limited", "plc", "llp"},
	"DE": {"gmbh", "ag", "kg", "se"},
	"FR": {"sa", "sas", "sarl", "se"},
	"NL": {"bv", "nv"},
	"IT": {"spa", "srl"},
	"ES": {"sa", "sl"},
	"SE": {"ab"},
	"FI": {"oy"},
	"NO": {"as", "asa"},
	"DK": {"as", "aps"},
	"AU": {"pty", "ltd", "limited"},
	"NZ": {"ltd", "limited"},
	"JP": {"kk", "godo kaisha", "kabushiki kaisha"},
	"CA": {"inc", "ltd", "limited", "corp"},
	"BR": {"ltda", "sa"},
	"CH": {"ag", "gmbh", "sa"},
}

// legalFormPlausible reports whether the legal name ends with a form token
// consistent with the TLD country.
func legalFormPlausible(legalName, country string) bool {
	forms, ok := legalFormsByCountry[strings.ToUpper(country)]
	if !ok {
		return false
	}
	words := strings.Fields(strings.ToLower(strings.Trim(legalName, " .")))
	if len(words) == 0 {
		return false
	}
	last := strings.Trim(words[len(words)-1], ".,")
	for _, f := range forms {
		if last == f {
			return true
		}
	}
	return false
}

// tldToCountry maps a TLD (possibly multi-label like "co.uk") to a country.
func tldToCountry(tld string) string {
	if tld == "" {
		return ""
	}
	return extractor.TLDCountry("x." + strings.TrimPrefix(tld, "."))
}

// SuspectJurisdiction reports whether an entity's registered countries
// contradict a strong ccTLD hint: the domain implies a country that appears
// nowhere on the entity. Generic TLDs never make an entity suspect.
func SuspectJurisdiction(e model.GLEIFEntity, domainTLD string) bool {
	implied := tldToCountry(domainTLD)
	if implied == "" {
		return false
	}
	countries := []string{entityCountry(e), e.LegalAddress.Country, e.Headquarters.Country}
	for _, c := range countries {
		if strings.EqualFold(c, implied) {
			return false
		}
	}
	// An entity with no recorded country at all is unknown, not suspect.
	for _, c := range countries {
		if c != "" {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer for debugging output.
func (b ScoreBreakdown) String() string {
	return fmt.Sprintf("name=%.2f active=%.0f juris=%.0f form=%.0f final=%.2f",
		b.NameSimilarity, b.ActiveStatus, b.Jurisdiction, b.LegalForm, b.Final)
}
