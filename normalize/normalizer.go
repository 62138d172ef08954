package normalize

import (
	"fmt"
	"strings"

	"studenthome_ingest/models"
)

// DefaultSource tags rows whose provider is unknown; the store rejects an empty source
const DefaultSource = "scraper"

// Normalizer turns RawListings into Properties. It holds no state beyond
// the fallback source tag, so the same input always gives the same output.
type Normalizer struct {
	source string
}

func New(source string) *Normalizer {
	if source == "" {
		source = DefaultSource
	}
	return &Normalizer{source: source}
}

func (n *Normalizer) Normalize(raw *models.RawListing) *models.Property {
	source := raw.Provider
	if source == "" {
		source = n.source
	}

	address := cleanText(raw.AddressText)
	location := ExtractLocation(address)
	if location == "" {
		location = LocationFromURL(raw.SourceURL)
	}

	bedrooms := ParseCount(raw.BedroomsText)
	propertyType := ParsePropertyType(raw.PropertyTypeText, raw.Title)

	p := &models.Property{
		Title:        cleanText(raw.Title),
		Price:        ParsePrice(raw.PriceText),
		PriceType:    DetectPriceType(raw.PriceText),
		Location:     location,
		FullAddress:  address,
		Postcode:     ExtractPostcode(address),
		Bedrooms:     bedrooms,
		Bathrooms:    ParseCount(raw.BathroomsText),
		PropertyType: propertyType,
		Furnished:    IsFurnished(raw.FurnishedText, raw.Title),
		Available:    IsAvailable(raw.LettingStatus, raw.Title),
		Description:  strings.TrimSpace(raw.DescriptionText),
		LandlordName: cleanText(raw.LandlordName),
		Features:     normalizeFeatures(raw.Features),
		Source:       source,
		SourceURL:    strings.TrimSpace(raw.SourceURL),
		ScrapedAt:    raw.ScrapedAt,
	}

	if p.Title == "" {
		p.Title = FallbackTitle(bedrooms, propertyType, location)
	}

	return p
}

// FallbackTitle builds a title like "2 bed flat in Leeds"
func FallbackTitle(bedrooms int, kind models.PropertyType, location string) string {
	title := fmt.Sprintf("%d bed %s", bedrooms, kind)
	if kind == models.PropertyStudio || kind == models.PropertyRoom {
		title = "Student " + string(kind)
	}
	if location != "" {
		title += " in " + location
	}
	return title
}

func normalizeFeatures(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	features := make([]string, 0, len(raw))
	for _, f := range raw {
		f = cleanText(f)
		key := strings.ToLower(f)
		if f == "" || seen[key] {
			continue
		}
		seen[key] = true
		features = append(features, f)
	}
	return features
}
