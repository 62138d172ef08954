package normalize

import (
	"regexp"
	"strings"

	"studenthome_ingest/models"
)

var unavailableSignals = []string{
	"let agreed",
	"let stc",
	"under offer",
	"no longer available",
	"not available",
	"fully booked",
}

// IsFurnished is true unless one of the texts says unfurnished
func IsFurnished(texts ...string) bool {
	for _, t := range texts {
		lower := strings.ToLower(t)
		if strings.Contains(lower, "unfurnished") || strings.Contains(lower, "not furnished") {
			return false
		}
	}
	return true
}

// IsAvailable is true unless one of the texts carries a let/withdrawn marker
func IsAvailable(texts ...string) bool {
	for _, t := range texts {
		lower := strings.ToLower(t)
		for _, signal := range unavailableSignals {
			if strings.Contains(lower, signal) {
				return false
			}
		}
	}
	return true
}

// Pattern order matters: "studio flat" is a studio, "room in shared house" is a room.
var propertyTypePatterns = []struct {
	pattern *regexp.Regexp
	kind    models.PropertyType
}{
	{regexp.MustCompile(`\bstudio`), models.PropertyStudio},
	{regexp.MustCompile(`\brooms?\b|\bhouse ?share\b|\bshared (house|flat|accommodation)`), models.PropertyRoom},
	{regexp.MustCompile(`\bmaisonette`), models.PropertyMaisonette},
	{regexp.MustCompile(`\bbungalow`), models.PropertyBungalow},
	{regexp.MustCompile(`\bhouse\b|\bterrace|detached\b|\bcottage|\btownhouse`), models.PropertyHouse},
	{regexp.MustCompile(`\bflat\b|\bapartment|\bpenthouse|\bduplex`), models.PropertyFlat},
}

// ParsePropertyType maps free text onto the property type set, defaulting to flat
func ParsePropertyType(texts ...string) models.PropertyType {
	for _, t := range texts {
		lower := strings.ToLower(t)
		if lower == "" {
			continue
		}
		for _, p := range propertyTypePatterns {
			if p.pattern.MatchString(lower) {
				return p.kind
			}
		}
	}
	return models.PropertyFlat
}
