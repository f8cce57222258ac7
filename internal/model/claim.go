package model

// ClaimType classifies the origin of a claim. Arbitration uses the type both
// for rule adjustments and as the first tie-break when adjusted confidences
// are equal.
type ClaimType string

const (
	ClaimExtracted         ClaimType = "extracted"
	ClaimGLEIFVerified     ClaimType = "gleif_verified"
	ClaimGLEIFRelationship ClaimType = "gleif_relationship"
	ClaimGenerated         ClaimType = "generated"
	ClaimSuspect           ClaimType = "suspect"
	ClaimSuffixSuggestion  ClaimType = "suffix_suggestion"
)

// claimTypeRank orders claim types for tie-breaking. Lower wins.
var claimTypeRank = map[ClaimType]int{
	ClaimGLEIFVerified:     0,
	ClaimGLEIFRelationship: 1,
	ClaimExtracted:         2,
	ClaimGenerated:         3,
	ClaimSuffixSuggestion:  4,
	ClaimSuspect:           5,
}

// TieRank returns the tie-break rank for the claim type. Unknown types sort last.
func (t ClaimType) TieRank() int {
	if r, ok := claimTypeRank[t]; ok {
		return r
	}
	return len(claimTypeRank)
}

// EvidenceBag carries the evidence behind a claim. Known evidence kinds get
// named fields so arbitration can match on them safely; anything else goes
// into Extra.
type EvidenceBag struct {
	LEI                string         `json:"lei,omitempty"`
	Jurisdiction       string         `json:"jurisdiction,omitempty"`
	City               string         `json:"city,omitempty"`
	Country            string         `json:"country,omitempty"`
	RelationshipType   string         `json:"relationship_type,omitempty"`
	EntityStatus       string         `json:"entity_status,omitempty"`
	LegalForm          string         `json:"legal_form,omitempty"`
	RegistrationStatus string         `json:"registration_status,omitempty"`
	MatchScore         float64        `json:"match_score,omitempty"`
	SourceMethod       string         `json:"source_method,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// Claim is a single hypothesis about the legal entity operating a domain.
// Claim 0 is reserved for the website-extracted candidate; claims >= 1 are
// registry-derived. A run's claim list is append-only and never mutated after
// arbitration reads it.
type Claim struct {
	ClaimNumber int         `json:"claim_number"`
	Type        ClaimType   `json:"claim_type"`
	EntityName  string      `json:"entity_name"`
	LegalName   string      `json:"legal_name,omitempty"`
	LEICode     string      `json:"lei_code,omitempty"`
	Confidence  float64     `json:"confidence"` // normalized [0,1]
	Source      string      `json:"source"`
	Evidence    EvidenceBag `json:"evidence"`
	Reasoning   string      `json:"reasoning,omitempty"`
}
