// Package extractor produces raw company-name signals from page snapshots.
// It is the only place that knows how to pull names out of HTML; every
// heuristic feeds the same method-priority table in internal/model.
package extractor

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/sells-group/entity-resolver/internal/model"
)

// PageSnapshot is the opaque page input supplied by scraping adapters.
type PageSnapshot struct {
	Domain string            `json:"domain"`
	URL    string            `json:"url,omitempty"`
	HTML   string            `json:"html"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// Extractor walks page snapshots and emits one signal per heuristic that
// fires. All attempts are retained; selection happens downstream.
type Extractor struct {
	domainMap *DomainMap
}

// New creates an Extractor. domainMap may be nil when no override file is
// configured.
func New(domainMap *DomainMap) *Extractor {
	return &Extractor{domainMap: domainMap}
}

var copyrightRe = regexp.MustCompile(`(?i)(?:©|\(c\)|copyright)\s*(?:\d{4}(?:\s*[-–]\s*\d{4})?\s*)?(?:by\s+)?([A-Z][A-Za-z0-9\s&.,'\-]{2,90}?)(?:\.|,|\s+All\b|\s+Rights\b|$)`)

// ProduceSignals extracts every raw (text, method) pair from the snapshot.
// Signals are emitted in method-priority order so downstream audit trails
// read naturally, but ordering carries no semantics.
func (e *Extractor) ProduceSignals(snap PageSnapshot) []model.Signal {
	var signals []model.Signal

	if e.domainMap != nil {
		if name, ok := e.domainMap.Lookup(snap.Domain); ok {
			signals = append(signals, model.Signal{
				Text:   name,
				Method: model.MethodDomainMapping,
				RawContext: map[string]any{
					"domain": snap.Domain,
				},
			})
		}
	}

	doc, err := html.Parse(strings.NewReader(snap.HTML))
	if err != nil {
		zap.L().Warn("extractor: html parse failed",
			zap.String("domain", snap.Domain),
			zap.Error(err),
		)
		doc = nil
	}

	if doc != nil {
		p := newPageWalk(doc)

		for _, name := range p.jsonLDOrgNames {
			signals = append(signals, model.Signal{
				Text:       name,
				Method:     model.MethodStructuredData,
				RawContext: map[string]any{"source": "json-ld"},
			})
		}
		for _, m := range p.metaNames {
			signals = append(signals, model.Signal{
				Text:       m.content,
				Method:     model.MethodMetaProperty,
				RawContext: map[string]any{"property": m.property},
			})
		}
		if heading := p.aboutHeading; heading != "" {
			signals = append(signals, model.Signal{
				Text:   heading,
				Method: aboutOrLegalMethod(snap.URL),
			})
		}
		for _, line := range p.copyrightLines {
			if m := copyrightRe.FindStringSubmatch(line); m != nil {
				signals = append(signals, model.Signal{
					Text:       m[1],
					Method:     model.MethodFooterCopyright,
					RawContext: map[string]any{"line": truncate(line, 200)},
				})
			}
		}
		for _, alt := range p.logoAlts {
			signals = append(signals, model.Signal{Text: alt, Method: model.MethodLogoAltText})
		}
		if p.h1 != "" {
			signals = append(signals, model.Signal{Text: p.h1, Method: model.MethodH1Text})
		}
		if p.title != "" {
			signals = append(signals, model.Signal{Text: p.title, Method: model.MethodPageTitle})
		}
	}

	// Caller-supplied metadata can stand in for meta tags missing from HTML.
	for _, key := range []string{"og:site_name", "application-name"} {
		if v, ok := snap.Meta[key]; ok && v != "" {
			signals = append(signals, model.Signal{
				Text:       v,
				Method:     model.MethodMetaProperty,
				RawContext: map[string]any{"property": key, "source": "snapshot_meta"},
			})
		}
	}

	if name := ParseDomainName(snap.Domain); name != "" {
		signals = append(signals, model.Signal{
			Text:       name,
			Method:     model.MethodDomainParse,
			RawContext: map[string]any{"domain": snap.Domain},
		})
	}

	return signals
}

// aboutOrLegalMethod distinguishes about-page from legal-page headings by URL.
func aboutOrLegalMethod(url string) model.SourceMethod {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "legal") || strings.Contains(lower, "terms") ||
		strings.Contains(lower, "imprint") || strings.Contains(lower, "impressum") {
		return model.MethodLegalPage
	}
	return model.MethodAboutPage
}

type metaName struct {
	property string
	content  string
}

// pageWalk accumulates interesting nodes from a single DOM traversal.
type pageWalk struct {
	title          string
	h1             string
	aboutHeading   string
	metaNames      []metaName
	jsonLDOrgNames []string
	copyrightLines []string
	logoAlts       []string
}

func newPageWalk(doc *html.Node) *pageWalk {
	p := &pageWalk{}
	p.walk(doc, false)
	return p
}

func (p *pageWalk) walk(n *html.Node, inFooter bool) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style":
			if n.Data == "script" && attr(n, "type") == "application/ld+json" {
				p.collectJSONLD(textContent(n))
			}
			return
		case "title":
			if p.title == "" {
				p.title = strings.TrimSpace(textContent(n))
			}
		case "h1":
			if p.h1 == "" {
				p.h1 = strings.TrimSpace(textContent(n))
			}
		case "h2":
			if p.aboutHeading == "" {
				text := strings.TrimSpace(textContent(n))
				if isAboutHeading(text) {
					p.aboutHeading = text
				}
			}
		case "meta":
			prop := attr(n, "property")
			if prop == "" {
				prop = attr(n, "name")
			}
			if prop == "og:site_name" || prop == "application-name" {
				if c := strings.TrimSpace(attr(n, "content")); c != "" {
					p.metaNames = append(p.metaNames, metaName{property: prop, content: c})
				}
			}
		case "img":
			alt := strings.TrimSpace(attr(n, "alt"))
			if alt != "" && looksLikeLogo(n) {
				p.logoAlts = append(p.logoAlts, alt)
			}
		case "footer":
			inFooter = true
		}
	}

	if n.Type == html.TextNode && inFooter {
		text := strings.TrimSpace(n.Data)
		if text != "" && (strings.Contains(text, "©") || strings.Contains(strings.ToLower(text), "copyright")) {
			p.copyrightLines = append(p.copyrightLines, text)
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c, inFooter)
	}
}

// collectJSONLD pulls Organization names out of a JSON-LD block. Both a
// top-level object and a @graph array are handled; anything malformed is
// ignored.
func (p *pageWalk) collectJSONLD(raw string) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return
	}

	var visit func(v any)
	visit = func(v any) {
		switch node := v.(type) {
		case map[string]any:
			t, _ := node["@type"].(string)
			if t == "Organization" || t == "Corporation" || t == "LocalBusiness" {
				if name, _ := node["name"].(string); name != "" {
					p.jsonLDOrgNames = append(p.jsonLDOrgNames, name)
				}
			}
			if graph, ok := node["@graph"].([]any); ok {
				for _, g := range graph {
					visit(g)
				}
			}
			if pub, ok := node["publisher"].(map[string]any); ok {
				visit(pub)
			}
		case []any:
			for _, item := range node {
				visit(item)
			}
		}
	}
	visit(data)
}

func isAboutHeading(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "about ") && len(text) > len("about ")
}

// looksLikeLogo reports whether the img node is plausibly a site logo.
func looksLikeLogo(n *html.Node) bool {
	for _, key := range []string{"class", "id", "src"} {
		if strings.Contains(strings.ToLower(attr(n, key)), "logo") {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ParseDomainName derives a last-resort name guess from the registrable label
// of a domain: "blue-river.co.uk" → "Blue River".
func ParseDomainName(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	domain = strings.TrimPrefix(domain, "www.")
	if domain == "" {
		return ""
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ""
	}

	// Peel off the public suffix; treat two-part suffixes like co.uk, com.au.
	base := labels[len(labels)-2]
	if len(labels) >= 3 && secondLevelSuffixes[base+"."+labels[len(labels)-1]] {
		base = labels[len(labels)-3]
	}

	words := strings.FieldsFunc(base, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// DomainTLD returns the public suffix of a domain, treating two-part
// suffixes like co.uk as a unit: "blue-river.co.uk" → "co.uk".
func DomainTLD(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return domain
	}
	if len(labels) >= 3 {
		if two := labels[len(labels)-2] + "." + labels[len(labels)-1]; secondLevelSuffixes[two] {
			return two
		}
	}
	return labels[len(labels)-1]
}

var secondLevelSuffixes = map[string]bool{
	"co.uk": true, "org.uk": true, "ac.uk": true,
	"com.au": true, "net.au": true, "org.au": true,
	"co.jp": true, "co.nz": true, "co.za": true,
	"com.br": true, "com.mx": true, "com.sg": true,
}

// TLDCountry maps a domain's ccTLD to an ISO country code jurisdiction hint.
// Generic TLDs return "".
func TLDCountry(domain string) string {
	i := strings.LastIndex(domain, ".")
	if i < 0 {
		return ""
	}
	tld := strings.ToLower(domain[i+1:])
	return ccTLDCountries[tld]
}

var ccTLDCountries = map[string]string{
	"uk": "GB", "de": "DE", "fr": "FR", "nl": "NL", "it": "IT",
	"es": "ES", "ch": "CH", "at": "AT", "be": "BE", "se": "SE",
	"no": "NO", "dk": "DK", "fi": "FI", "ie": "IE", "pl": "PL",
	"jp": "JP", "cn": "CN", "kr": "KR", "in": "IN", "sg": "SG",
	"au": "AU", "nz": "NZ", "ca": "CA", "br": "BR", "mx": "MX",
	"za": "ZA", "us": "US",
}
