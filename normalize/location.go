package normalize

import (
	"net/url"
	"path"
	"strings"
	"unicode"
)

// ExtractLocation picks the town out of a UK address: the second-to-last
// comma segment, or the text in front of the postcode when town and
// postcode share the last segment.
func ExtractLocation(address string) string {
	var segments []string
	for _, s := range strings.Split(address, ",") {
		if s = cleanText(s); s != "" {
			segments = append(segments, s)
		}
	}

	switch len(segments) {
	case 0:
		return ""
	case 1:
		return stripPostcode(segments[0])
	}

	last := segments[len(segments)-1]
	if ExtractPostcode(last) != "" {
		if town := stripPostcode(last); town != "" && !hasDigit(town) {
			return town
		}
	}
	return segments[len(segments)-2]
}

var genericPathTokens = map[string]bool{
	"properties":            true,
	"property":              true,
	"property-to-rent":      true,
	"student-accommodation": true,
	"find":                  true,
	"search":                true,
	"listing":               true,
	"listings":              true,
	"details":               true,
	"to-rent":               true,
}

// LocationFromURL takes the last meaningful path segment of a listing URL,
// e.g. /student-accommodation/Leeds.html gives "Leeds".
func LocationFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if loc := u.Query().Get("searchLocation"); loc != "" {
		return cleanText(loc)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		token := strings.TrimSuffix(parts[i], path.Ext(parts[i]))
		if token == "" || genericPathTokens[strings.ToLower(token)] || hasDigit(token) {
			continue
		}
		return titleCase(strings.NewReplacer("-", " ", "_", " ", "+", " ").Replace(token))
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
