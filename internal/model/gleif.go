package model

import "time"

// Entity status values as reported by GLEIF.
const (
	EntityStatusActive   = "ACTIVE"
	EntityStatusInactive = "INACTIVE"
)

// Address is a GLEIF-registered address. Fields may be absent on partial
// records; absent fields are omitted from scoring, not treated as zero.
type Address struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// GLEIFEntity is a cached copy of a registry record. The registry owns the
// truth; local copies may go stale and carry LastGleifUpdate so readers can
// tell how old they are.
type GLEIFEntity struct {
	LEICode            string    `json:"lei_code"`
	LegalName          string    `json:"legal_name"`
	EntityStatus       string    `json:"entity_status,omitempty"`
	LegalForm          string    `json:"legal_form,omitempty"`
	Jurisdiction       string    `json:"jurisdiction,omitempty"`
	Headquarters       Address   `json:"headquarters,omitempty"`
	LegalAddress       Address   `json:"legal_address,omitempty"`
	RegistrationStatus string    `json:"registration_status,omitempty"`
	LastGleifUpdate    time.Time `json:"last_gleif_update,omitempty"`

	// RelationshipType is set when the entity was found via a parent/child/
	// successor link rather than a direct name match.
	RelationshipType string `json:"relationship_type,omitempty"`
}

// Active reports whether the entity is currently active in the registry.
func (e GLEIFEntity) Active() bool {
	return e.EntityStatus == EntityStatusActive
}
