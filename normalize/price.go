package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"studenthome_ingest/models"
)

var (
	priceNumberRegex = regexp.MustCompile(`\d+(?:\.\d+)?`)
	currencyReplacer = strings.NewReplacer(",", "", "£", "", "$", "", "€", "", "GBP", "", "gbp", "")
)

// ParsePrice returns the leading numeric run of a price string, or 0
func ParsePrice(text string) float64 {
	cleaned := currencyReplacer.Replace(text)
	match := priceNumberRegex.FindString(cleaned)
	if match == "" {
		return 0
	}
	price, err := strconv.ParseFloat(match, 64)
	if err != nil || price < 0 {
		return 0
	}
	return price
}

// DetectPriceType reads the rental period out of a price string. Weekly is
// the fallback since student lets are almost always quoted per week.
func DetectPriceType(text string) models.PriceType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "month"), strings.Contains(lower, "pcm"):
		return models.PriceMonthly
	case strings.Contains(lower, "year"), strings.Contains(lower, "annual"), strings.Contains(lower, "annum"):
		return models.PriceYearly
	default:
		return models.PriceWeekly
	}
}
