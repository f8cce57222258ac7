package gleif

import (
	"time"

	"go.uber.org/zap"
)

// LEIRecord is a flattened GLEIF lei-record. Optional fields stay empty when
// the registry omits them; callers must not treat absence as zero.
type LEIRecord struct {
	LEI                string
	LegalName          string
	EntityStatus       string
	LegalFormID        string
	Jurisdiction       string
	HQCity             string
	HQRegion           string
	HQCountry          string
	LegalCity          string
	LegalRegion        string
	LegalCountry       string
	RegistrationStatus string
	LastUpdate         time.Time
	RelationshipType   string // set for records found via relationship links
}

// recordsDocument is the JSON:API envelope for list endpoints.
type recordsDocument struct {
	Data []recordData `json:"data"`
}

// recordDocument is the JSON:API envelope for single-record endpoints.
type recordDocument struct {
	Data *recordData `json:"data"`
}

type recordData struct {
	ID         string `json:"id"`
	Attributes struct {
		LEI    string `json:"lei"`
		Entity struct {
			LegalName struct {
				Name string `json:"name"`
			} `json:"legalName"`
			Status    string `json:"status"`
			Jurisdiction string `json:"jurisdiction"`
			LegalForm struct {
				ID string `json:"id"`
			} `json:"legalForm"`
			LegalAddress struct {
				City    string `json:"city"`
				Region  string `json:"region"`
				Country string `json:"country"`
			} `json:"legalAddress"`
			HeadquartersAddress struct {
				City    string `json:"city"`
				Region  string `json:"region"`
				Country string `json:"country"`
			} `json:"headquartersAddress"`
		} `json:"entity"`
		Registration struct {
			Status         string `json:"status"`
			LastUpdateDate string `json:"lastUpdateDate"`
		} `json:"registration"`
	} `json:"attributes"`
}

// records flattens list data, skipping malformed entries so one bad record
// never fails the whole response.
func (d recordsDocument) records(relationshipType string) []LEIRecord {
	out := make([]LEIRecord, 0, len(d.Data))
	for _, rd := range d.Data {
		rec, ok := flatten(rd, relationshipType)
		if !ok {
			zap.L().Warn("gleif: skipping malformed record", zap.String("id", rd.ID))
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (d recordDocument) record(relationshipType string) (LEIRecord, bool) {
	if d.Data == nil {
		return LEIRecord{}, false
	}
	return flatten(*d.Data, relationshipType)
}

func flatten(rd recordData, relationshipType string) (LEIRecord, bool) {
	a := rd.Attributes
	lei := a.LEI
	if lei == "" {
		lei = rd.ID
	}
	if lei == "" || a.Entity.LegalName.Name == "" {
		return LEIRecord{}, false
	}

	rec := LEIRecord{
		LEI:                lei,
		LegalName:          a.Entity.LegalName.Name,
		EntityStatus:       a.Entity.Status,
		LegalFormID:        a.Entity.LegalForm.ID,
		Jurisdiction:       a.Entity.Jurisdiction,
		HQCity:             a.Entity.HeadquartersAddress.City,
		HQRegion:           a.Entity.HeadquartersAddress.Region,
		HQCountry:          a.Entity.HeadquartersAddress.Country,
		LegalCity:          a.Entity.LegalAddress.City,
		LegalRegion:        a.Entity.LegalAddress.Region,
		LegalCountry:       a.Entity.LegalAddress.Country,
		RegistrationStatus: a.Registration.Status,
		RelationshipType:   relationshipType,
	}

	if a.Registration.LastUpdateDate != "" {
		if t, err := time.Parse(time.RFC3339, a.Registration.LastUpdateDate); err == nil {
			rec.LastUpdate = t
		}
	}

	return rec, true
}
