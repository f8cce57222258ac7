// Package arbiter ranks competing legal-entity claims into one ordered,
// graded decision. The ranking core is deterministic; an optional LLM oracle
// contributes narrative only and can never change the order.
package arbiter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/model"
)

// ErrNoClaims signals that arbitration was invoked with an empty claim list.
// The run never enters processing in that case.
var ErrNoClaims = eris.New("arbiter: no claims to arbitrate")

// CodeInternal is the stable machine-readable code for an unexpected failure
// inside the ranking core.
const CodeInternal = "arbitration_internal"

// FailureError wraps an unexpected arbitration failure with a stable code.
type FailureError struct {
	Code string
	Msg  string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("arbiter: %s: %s", e.Code, e.Msg)
}

// Engine arbitrates claim lists. Safe for concurrent use: all per-run state
// lives on the stack.
type Engine struct {
	cfg    Config
	oracle Oracle
}

// NewEngine builds an arbitration engine. A nil oracle disables the advisory
// step entirely.
func NewEngine(cfg Config, oracle Oracle) *Engine {
	return &Engine{cfg: cfg, oracle: oracle}
}

// Arbitrate ranks the claims and returns a terminal ArbitrationResult. An
// empty claim list returns ErrNoClaims before any processing starts. A panic
// in the ranking core is recovered into a failed result with a stable error
// code; partial rankings are never returned as completed.
func (e *Engine) Arbitrate(ctx context.Context, claims []model.Claim, opts Options) (res *model.ArbitrationResult, err error) {
	if len(claims) == 0 {
		return nil, ErrNoClaims
	}

	start := time.Now()
	res = &model.ArbitrationResult{
		Status:          model.ArbitrationProcessing,
		ArbitratorModel: "deterministic",
	}

	defer func() {
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		if r := recover(); r != nil {
			zap.L().Error("arbitration panicked",
				zap.Any("cause", r),
				zap.Int("claims", len(claims)))
			res.Status = model.ArbitrationFailed
			res.RankedEntities = nil
			res.Error = fmt.Sprintf("%s: %v", CodeInternal, r)
			err = &FailureError{Code: CodeInternal, Msg: fmt.Sprint(r)}
		}
	}()

	ranked := e.rank(claims, opts)
	var caveats []string

	if e.oracle != nil {
		advisory, oerr := e.oracle.Advise(ctx, claims)
		switch {
		case oerr != nil:
			zap.L().Warn("advisory oracle failed, deterministic ranking stands",
				zap.Error(oerr))
			caveats = append(caveats, "advisory oracle unavailable")
		default:
			res.ArbitratorModel = e.oracle.ModelName()
			if advisory.Narrative != "" {
				caveats = append(caveats, "advisory: "+advisory.Narrative)
			}
			if advisory.PreferredClaim != nil && *advisory.PreferredClaim != ranked[0].ClaimNumber {
				caveats = append(caveats, fmt.Sprintf(
					"advisory oracle preferred claim %d over deterministic rank 1 (claim %d); deterministic order retained",
					*advisory.PreferredClaim, ranked[0].ClaimNumber))
			}
		}
	}

	res.RankedEntities = ranked
	res.Reasoning = e.narrate(ranked, opts, caveats)
	res.Status = model.ArbitrationCompleted
	return res, nil
}

type scoredClaim struct {
	claim    model.Claim
	adjusted float64
	notes    []string
}

// rank applies normalization, rule adjustments, and the deterministic total
// order. Output length always equals input length.
func (e *Engine) rank(claims []model.Claim, opts Options) []model.RankedEntity {
	scored := make([]scoredClaim, 0, len(claims))
	for _, c := range claims {
		sc := scoredClaim{claim: c, adjusted: claimConfidence(c)}
		if !opts.MuteRankingRules {
			e.adjust(&sc, opts)
		}
		sc.adjusted = clamp01(sc.adjusted)
		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.adjusted != b.adjusted {
			return a.adjusted > b.adjusted
		}
		if ra, rb := a.claim.Type.TieRank(), b.claim.Type.TieRank(); ra != rb {
			return ra < rb
		}
		return a.claim.ClaimNumber < b.claim.ClaimNumber
	})

	out := make([]model.RankedEntity, 0, len(scored))
	for _, sc := range scored {
		out = append(out, model.RankedEntity{
			ClaimNumber:      sc.claim.ClaimNumber,
			EntityName:       sc.claim.EntityName,
			LEICode:          sc.claim.LEICode,
			Confidence:       sc.adjusted,
			AcquisitionGrade: grade(sc.adjusted, sc.claim),
			Reasoning:        entityReasoning(sc),
		})
	}
	return out
}

func (e *Engine) adjust(sc *scoredClaim, opts Options) {
	c := sc.claim

	if opts.JurisdictionBias != "" && jurisdictionMatches(c.Evidence.Jurisdiction, opts.JurisdictionBias) {
		sc.adjusted += e.cfg.Adjustments.JurisdictionBonus
		sc.notes = append(sc.notes, fmt.Sprintf("jurisdiction matches %s (+%.2f)",
			opts.JurisdictionBias, e.cfg.Adjustments.JurisdictionBonus))
	}

	if opts.ParentPreference && c.Type == model.ClaimGLEIFRelationship &&
		strings.EqualFold(c.Evidence.RelationshipType, "parent") {
		sc.adjusted += e.cfg.Adjustments.ParentBonus
		sc.notes = append(sc.notes, fmt.Sprintf("parent entity preferred (+%.2f)",
			e.cfg.Adjustments.ParentBonus))
	}

	if c.Evidence.EntityStatus != "" && c.Evidence.EntityStatus != model.EntityStatusActive {
		sc.adjusted -= e.cfg.Adjustments.InactivePenalty
		sc.notes = append(sc.notes, fmt.Sprintf("entity status %s (-%.2f)",
			c.Evidence.EntityStatus, e.cfg.Adjustments.InactivePenalty))
	}
}

func entityReasoning(sc scoredClaim) string {
	base := sc.claim.Reasoning
	if base == "" {
		base = fmt.Sprintf("claim %d (%s)", sc.claim.ClaimNumber, sc.claim.Type)
	}
	if len(sc.notes) == 0 {
		return base
	}
	return base + "; " + strings.Join(sc.notes, "; ")
}

func (e *Engine) narrate(ranked []model.RankedEntity, opts Options, caveats []string) string {
	var b strings.Builder
	top := ranked[0]
	fmt.Fprintf(&b, "Primary recommendation: %s (claim %d, confidence %.2f, grade %s).",
		top.EntityName, top.ClaimNumber, top.Confidence, top.AcquisitionGrade)
	if len(ranked) > 1 {
		fmt.Fprintf(&b, " %d alternative(s) ranked below.", len(ranked)-1)
	}
	if opts.MuteRankingRules {
		b.WriteString(" Ranking rules muted.")
	}
	for _, c := range caveats {
		b.WriteString(" Caveat: " + c + ".")
	}
	return b.String()
}

// grade maps adjusted confidence to the acquisition grade. The plus variant
// within a band requires registry verification with an ACTIVE entity.
func grade(conf float64, c model.Claim) model.Grade {
	verified := c.Type == model.ClaimGLEIFVerified && c.Evidence.EntityStatus == model.EntityStatusActive
	switch {
	case conf >= 0.8 && verified:
		return model.GradeAPlus
	case conf >= 0.8:
		return model.GradeA
	case conf >= 0.5 && verified:
		return model.GradeBPlus
	case conf >= 0.5:
		return model.GradeB
	default:
		return model.GradeC
	}
}

// claimConfidence normalizes a claim's confidence to [0,1]. Registry claims
// arrive normalized; percent scales are divided by 100; textual levels in the
// evidence bag map to fixed values.
func claimConfidence(c model.Claim) float64 {
	if c.Confidence > 0 {
		return NormalizeConfidence(c.Confidence)
	}
	if c.Evidence.Extra != nil {
		if raw, ok := c.Evidence.Extra["confidence"]; ok {
			return NormalizeConfidence(raw)
		}
	}
	return 0
}

// NormalizeConfidence coerces the confidence shapes seen in raw evidence into
// [0,1]: numbers above 1 are treated as percentages, and the textual levels
// high, medium, and low map to 0.9, 0.5, and 0.3.
func NormalizeConfidence(v any) float64 {
	switch x := v.(type) {
	case float64:
		return clamp01(scaleConfidence(x))
	case float32:
		return clamp01(scaleConfidence(float64(x)))
	case int:
		return clamp01(scaleConfidence(float64(x)))
	case int64:
		return clamp01(scaleConfidence(float64(x)))
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "high":
			return 0.9
		case "medium":
			return 0.5
		case "low":
			return 0.3
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return clamp01(scaleConfidence(f))
		}
	}
	return 0
}

func scaleConfidence(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// jurisdictionMatches compares a claim jurisdiction against a preferred code.
// A bare country bias ("US") matches any region of that country ("US-CA"); a
// region bias requires the exact region.
func jurisdictionMatches(claimJur, bias string) bool {
	if claimJur == "" {
		return false
	}
	if strings.Contains(bias, "-") {
		return strings.EqualFold(claimJur, bias)
	}
	country, _, _ := strings.Cut(claimJur, "-")
	return strings.EqualFold(country, bias)
}
