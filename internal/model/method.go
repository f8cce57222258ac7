package model

// SourceMethod identifies how a raw company-name signal was obtained from a
// page. Each method carries an intrinsic base confidence and a priority used
// when several methods succeed on the same page.
type SourceMethod string

const (
	MethodDomainMapping   SourceMethod = "domain_mapping"
	MethodStructuredData  SourceMethod = "structured_data"
	MethodMetaProperty    SourceMethod = "meta_property"
	MethodAboutPage       SourceMethod = "about_page"
	MethodLegalPage       SourceMethod = "legal_page"
	MethodFooterCopyright SourceMethod = "footer_copyright"
	MethodLogoAltText     SourceMethod = "logo_alt_text"
	MethodH1Text          SourceMethod = "h1_text"
	MethodPageTitle       SourceMethod = "page_title"
	MethodDomainParse     SourceMethod = "domain_parse"
)

// methodTable is the single source of truth for base confidence and priority.
// Priority 0 is highest. Order matters: earlier methods win when more than
// one produces a usable candidate for the same page.
var methodTable = []struct {
	method SourceMethod
	base   int
}{
	{MethodDomainMapping, 95},
	{MethodStructuredData, 95},
	{MethodMetaProperty, 85},
	{MethodAboutPage, 85},
	{MethodLegalPage, 75},
	{MethodFooterCopyright, 75},
	{MethodLogoAltText, 70},
	{MethodH1Text, 65},
	{MethodPageTitle, 60},
	{MethodDomainParse, 55},
}

var methodIndex = func() map[SourceMethod]int {
	m := make(map[SourceMethod]int, len(methodTable))
	for i, e := range methodTable {
		m[e.method] = i
	}
	return m
}()

// BaseConfidence returns the intrinsic 0-100 confidence for the method, or 0
// for an unknown method.
func (m SourceMethod) BaseConfidence() int {
	if i, ok := methodIndex[m]; ok {
		return methodTable[i].base
	}
	return 0
}

// Priority returns the selection rank for the method. Lower is better.
// Unknown methods sort after every known one.
func (m SourceMethod) Priority() int {
	if i, ok := methodIndex[m]; ok {
		return i
	}
	return len(methodTable)
}

// Valid reports whether m is a known source method.
func (m SourceMethod) Valid() bool {
	_, ok := methodIndex[m]
	return ok
}

// Methods returns all known source methods in priority order.
func Methods() []SourceMethod {
	out := make([]SourceMethod, len(methodTable))
	for i, e := range methodTable {
		out[i] = e.method
	}
	return out
}
