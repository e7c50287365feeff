package geocode

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeQuery canonicalizes a free-text place query for cache keying:
// Unicode NFC, case folded, inner whitespace collapsed. "Saint-Étienne" and
// "saint-étienne" normalize to the same string.
func NormalizeQuery(q string) string {
	q = norm.NFC.String(q)
	q = cases.Fold().String(q)
	return strings.Join(strings.Fields(q), " ")
}

// WithCountry appends ", <country>" to a city or postal code unless the
// query already names it.
func WithCountry(query, country string) string {
	query = strings.TrimSpace(query)
	if country == "" || query == "" {
		return query
	}
	if strings.Contains(NormalizeQuery(query), NormalizeQuery(country)) {
		return query
	}
	return query + ", " + country
}
