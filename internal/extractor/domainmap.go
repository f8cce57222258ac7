package extractor

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DomainMap holds curated domain → company-name overrides. Entries here are
// analyst-verified, which is why domain_mapping carries the highest method
// priority.
type DomainMap struct {
	entries map[string]string
}

// LoadDomainMap reads a YAML file of the form:
//
//	mappings:
//	  apple.com: Apple Inc.
//	  alphabet.com: Alphabet Inc.
func LoadDomainMap(path string) (*DomainMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "extractor: read domain map")
	}

	var doc struct {
		Mappings map[string]string `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "extractor: parse domain map")
	}

	return NewDomainMap(doc.Mappings), nil
}

// NewDomainMap builds a DomainMap from an in-memory mapping.
func NewDomainMap(mappings map[string]string) *DomainMap {
	entries := make(map[string]string, len(mappings))
	for domain, name := range mappings {
		domain = normalizeDomain(domain)
		if domain == "" || strings.TrimSpace(name) == "" {
			continue
		}
		entries[domain] = strings.TrimSpace(name)
	}
	return &DomainMap{entries: entries}
}

// Lookup returns the curated name for a domain, if any.
func (m *DomainMap) Lookup(domain string) (string, bool) {
	if m == nil {
		return "", false
	}
	name, ok := m.entries[normalizeDomain(domain)]
	return name, ok
}

// Len returns the number of entries.
func (m *DomainMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

func normalizeDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimPrefix(domain, "www.")
	if i := strings.IndexByte(domain, '/'); i >= 0 {
		domain = domain[:i]
	}
	return domain
}
