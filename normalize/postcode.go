package normalize

import (
	"regexp"
	"strings"
)

var postcodeRegex = regexp.MustCompile(`(?i)\b([A-Z]{1,2}[0-9][A-Z0-9]?)\s?([0-9][A-Z]{2})\b`)

// ExtractPostcode returns the first UK postcode in text as "OUT IN", or ""
func ExtractPostcode(text string) string {
	m := postcodeRegex.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1]) + " " + strings.ToUpper(m[2])
}

func stripPostcode(text string) string {
	return strings.TrimSpace(postcodeRegex.ReplaceAllString(text, ""))
}
