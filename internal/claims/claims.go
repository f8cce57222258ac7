// Package claims assembles scored candidates and registry matches into the
// uniform claim list consumed by arbitration. Building claims is a pure
// transformation: evidence is carried forward verbatim and the output is
// fully determined by the inputs.
package claims

import (
	"fmt"
	"sort"

	"github.com/sells-group/entity-resolver/internal/matcher"
	"github.com/sells-group/entity-resolver/internal/model"
)

// Build turns page candidates and registry matches into the run's claim list.
// Claim 0 is always the website-extracted candidate when one exists; registry
// claims follow in the order the matcher ranked them. Confidence is
// normalized to [0,1] here, at the claim boundary.
func Build(pageCandidates []model.Candidate, matches []matcher.Match, domainTLD string) []model.Claim {
	var out []model.Claim

	if best := SelectPrimary(pageCandidates); best != nil {
		// A name parsed from the domain itself was generated, not extracted.
		typ := model.ClaimExtracted
		if best.Method == model.MethodDomainParse {
			typ = model.ClaimGenerated
		}
		out = append(out, model.Claim{
			ClaimNumber: 0,
			Type:        typ,
			EntityName:  best.Name,
			Confidence:  float64(best.Confidence) / 100,
			Source:      string(best.Method),
			Evidence: model.EvidenceBag{
				SourceMethod: string(best.Method),
				Extra:        attemptEvidence(pageCandidates),
			},
			Reasoning: fmt.Sprintf("%s via %s (confidence %d/100)",
				claimVerb(typ), best.Method, best.Confidence),
		})
	}

	for _, m := range matches {
		out = append(out, registryClaim(len(out), m, domainTLD))
	}

	return out
}

// SelectPrimary picks the page candidate that wins the method-priority
// contest: lowest priority rank first, then higher numeric confidence, then
// first-seen order.
func SelectPrimary(candidates []model.Candidate) *model.Candidate {
	best := -1
	for i, c := range candidates {
		if best < 0 {
			best = i
			continue
		}
		b := candidates[best]
		switch {
		case c.Method.Priority() < b.Method.Priority():
			best = i
		case c.Method.Priority() == b.Method.Priority() && c.Confidence > b.Confidence:
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	c := candidates[best]
	return &c
}

func claimVerb(t model.ClaimType) string {
	if t == model.ClaimGenerated {
		return "generated from domain name"
	}
	return "extracted from website"
}

func registryClaim(number int, m matcher.Match, domainTLD string) model.Claim {
	e := m.Entity

	claimType := model.ClaimGLEIFVerified
	reasoning := fmt.Sprintf("GLEIF record %s matched by name (score %.2f)", e.LEICode, m.Score)
	if e.RelationshipType != "" {
		claimType = model.ClaimGLEIFRelationship
		reasoning = fmt.Sprintf("GLEIF record %s found via %s relationship (score %.2f)",
			e.LEICode, e.RelationshipType, m.Score)
	}

	// A registered jurisdiction that contradicts a strong ccTLD hint marks
	// the claim suspect. Advisory only: arbitration may still rank it.
	if matcher.SuspectJurisdiction(e, domainTLD) {
		claimType = model.ClaimSuspect
		reasoning = fmt.Sprintf("GLEIF record %s jurisdiction %s contradicts domain TLD .%s",
			e.LEICode, e.Jurisdiction, domainTLD)
	}

	return model.Claim{
		ClaimNumber: number,
		Type:        claimType,
		EntityName:  e.LegalName,
		LegalName:   e.LegalName,
		LEICode:     e.LEICode,
		Confidence:  m.Score,
		Source:      "gleif",
		Evidence: model.EvidenceBag{
			LEI:                e.LEICode,
			Jurisdiction:       e.Jurisdiction,
			City:               e.LegalAddress.City,
			Country:            e.LegalAddress.Country,
			RelationshipType:   e.RelationshipType,
			EntityStatus:       e.EntityStatus,
			LegalForm:          e.LegalForm,
			RegistrationStatus: e.RegistrationStatus,
			MatchScore:         m.Score,
		},
		Reasoning: reasoning,
	}
}

// attemptEvidence records every scoring attempt on the winning claim for
// auditability, keyed by method.
func attemptEvidence(candidates []model.Candidate) map[string]any {
	if len(candidates) <= 1 {
		return nil
	}
	sorted := make([]model.Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Method.Priority() < sorted[j].Method.Priority()
	})

	attempts := make([]map[string]any, 0, len(sorted))
	for _, c := range sorted {
		attempts = append(attempts, map[string]any{
			"method":     string(c.Method),
			"name":       c.Name,
			"confidence": c.Confidence,
		})
	}
	return map[string]any{"attempts": attempts}
}
