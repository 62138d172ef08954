package scraper

import (
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"studenthome_ingest/config"
	"studenthome_ingest/logging"
	"studenthome_ingest/models"
)

// Extract pulls listings out of a page. Embedded JSON is tried first and CSS
// selectors only when it yields nothing. It never fails: a page with no
// recognisable listing returns an empty slice.
func Extract(html, sourceURL string, provider *config.ProviderConfig) []models.RawListing {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		logging.Debugf("Extract: unreadable HTML at %s: %v", sourceURL, err)
		return nil
	}

	listings := extractEmbedded(doc, sourceURL)
	if len(listings) == 0 && provider != nil {
		listings = extractSelectors(doc, sourceURL, provider.Selectors)
	}

	providerID := ""
	if provider != nil {
		providerID = provider.ID
	}
	now := time.Now()
	for i := range listings {
		listings[i].Provider = providerID
		listings[i].ScrapedAt = now
	}
	return listings
}

// =============================================================================
// Embedded JSON
// =============================================================================

var modelAssignment = regexp.MustCompile(`(?:window\.)?(?:jsonModel|PAGE_MODEL|__PRELOADED_STATE__|__INITIAL_STATE__)\s*=\s*`)

// anyAssignment catches models under other names, e.g. `var listings = [...]`.
// The match ends on the opening bracket.
var anyAssignment = regexp.MustCompile(`=\s*[\[{]`)

func extractEmbedded(doc *goquery.Document, sourceURL string) []models.RawListing {
	var listings []models.RawListing

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, blob := range scriptBlobs(s) {
			var data any
			if err := json.Unmarshal([]byte(blob), &data); err != nil {
				logging.Debugf("Extract: skipping malformed JSON in %s: %v", sourceURL, err)
				continue
			}
			walkListings(data, func(m map[string]any) {
				listings = append(listings, toRawListing(m, sourceURL))
			})
			if len(listings) > 0 {
				return false
			}
		}
		return true
	})

	if len(listings) == 1 && listings[0].SourceURL == "" {
		listings[0].SourceURL = sourceURL
	}
	return listings
}

// scriptBlobs returns the JSON candidates in one script tag. A known model
// name wins; otherwise every `= {` or `= [` assignment is offered in order.
func scriptBlobs(s *goquery.Selection) []string {
	text := strings.TrimSpace(s.Text())
	if text == "" {
		return nil
	}
	if s.AttrOr("type", "") == "application/json" || s.AttrOr("id", "") == "__NEXT_DATA__" {
		return []string{text}
	}
	if loc := modelAssignment.FindStringIndex(text); loc != nil {
		if blob := balancedJSON(text[loc[1]:]); blob != "" {
			return []string{blob}
		}
		return nil
	}

	var blobs []string
	for _, loc := range anyAssignment.FindAllStringIndex(text, -1) {
		if blob := balancedJSON(text[loc[1]-1:]); blob != "" {
			blobs = append(blobs, blob)
		}
	}
	return blobs
}

// balancedJSON returns the object or array at the start of s, cutting off
// whatever script follows it. Braces inside strings are ignored.
func balancedJSON(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// walkListings visits every object that looks like a listing. It does not
// descend into a listing once found.
func walkListings(node any, visit func(map[string]any)) {
	switch v := node.(type) {
	case map[string]any:
		if looksLikeListing(v) {
			visit(v)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkListings(v[k], visit)
		}
	case []any:
		for _, item := range v {
			walkListings(item, visit)
		}
	}
}

func looksLikeListing(m map[string]any) bool {
	_, price := m["price"]
	if !price {
		_, price = m["prices"]
	}
	if !price {
		return false
	}
	for _, k := range []string{"title", "displayAddress", "propertyTypeFullDescription", "address"} {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

func toRawListing(m map[string]any, pageURL string) models.RawListing {
	raw := models.RawListing{
		Title:            firstString(m, "title", "propertyTypeFullDescription"),
		PriceText:        priceText(m),
		AddressText:      addressText(m),
		BedroomsText:     scalarText(m["bedrooms"]),
		BathroomsText:    scalarText(m["bathrooms"]),
		DescriptionText:  firstString(m, "description", "summary"),
		PropertyTypeText: firstString(m, "propertySubType", "propertyType", "type"),
		FurnishedText:    furnishText(m),
		LettingStatus:    firstString(m, "lettingStatus", "displayStatus", "status"),
		LandlordName:     firstString(m, "landlordName", "branchDisplayName", "agent"),
		Features:         stringList(m["features"]),
	}

	if raw.DescriptionText == "" {
		raw.DescriptionText = nestedString(m, "text", "description")
	}
	if raw.LandlordName == "" {
		raw.LandlordName = nestedString(m, "customer", "branchDisplayName")
	}
	if len(raw.Features) == 0 {
		raw.Features = stringList(m["keyFeatures"])
	}
	if raw.BedroomsText == "" {
		raw.BedroomsText = scalarText(m["beds"])
	}

	for _, key := range []string{"images", "propertyImages", "photos"} {
		raw.ImageRefs = append(raw.ImageRefs, imageRefs(m[key])...)
	}

	if link := firstString(m, "propertyUrl", "detailUrl", "url", "link"); link != "" {
		raw.SourceURL = resolveURL(pageURL, link)
	}
	return raw
}

func priceText(m map[string]any) string {
	p, ok := m["price"]
	if !ok {
		p = m["prices"]
	}
	switch v := p.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strings.TrimSpace(scalarText(v) + " " + firstString(m, "priceFrequency", "frequency", "rentFrequency"))
	case map[string]any:
		if list, ok := v["displayPrices"].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				if s := firstString(first, "displayPrice"); s != "" {
					return s
				}
			}
		}
		if s := firstString(v, "primaryPrice", "displayPrice"); s != "" {
			return s
		}
		amount := scalarText(v["amount"])
		if amount == "" {
			return ""
		}
		return strings.TrimSpace(amount + " " + firstString(v, "frequency"))
	}
	return ""
}

func addressText(m map[string]any) string {
	if s := firstString(m, "displayAddress", "fullAddress"); s != "" {
		return s
	}
	switch v := m["address"].(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if s := firstString(v, "displayAddress", "fullAddress"); s != "" {
			return s
		}
		parts := []string{firstString(v, "streetAddress", "street"), firstString(v, "town", "city", "addressLocality"), firstString(v, "postcode", "postalCode")}
		var kept []string
		for _, p := range parts {
			if p != "" {
				kept = append(kept, p)
			}
		}
		return strings.Join(kept, ", ")
	}
	return ""
}

func furnishText(m map[string]any) string {
	if s := firstString(m, "furnishType", "furnishing"); s != "" {
		return s
	}
	if s := nestedString(m, "letting", "furnishType"); s != "" {
		return s
	}
	if b, ok := m["furnished"].(bool); ok {
		if b {
			return "furnished"
		}
		return "unfurnished"
	}
	return ""
}

func imageRefs(v any) []string {
	switch x := v.(type) {
	case string:
		if s := strings.TrimSpace(x); s != "" {
			return []string{s}
		}
	case []any:
		var refs []string
		for _, item := range x {
			refs = append(refs, imageRefs(item)...)
		}
		return refs
	case map[string]any:
		if nested, ok := x["images"]; ok {
			return imageRefs(nested)
		}
		if s := firstString(x, "srcUrl", "url", "src", "mainImageSrc"); s != "" {
			return []string{s}
		}
	}
	return nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func nestedString(m map[string]any, outer, key string) string {
	inner, ok := m[outer].(map[string]any)
	if !ok {
		return ""
	}
	return firstString(inner, key)
}

func scalarText(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		switch x := item.(type) {
		case string:
			out = append(out, x)
		case map[string]any:
			if s := firstString(x, "description", "text", "name"); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// =============================================================================
// Selector fallback
// =============================================================================

func extractSelectors(doc *goquery.Document, sourceURL string, sel config.SelectorConfig) []models.RawListing {
	wholePage := true
	cards := doc.Selection
	if sel.Card != "" {
		if found := doc.Find(sel.Card); found.Length() > 0 {
			cards = found
			wholePage = false
		}
	}

	var listings []models.RawListing
	cards.Each(func(_ int, card *goquery.Selection) {
		raw := models.RawListing{
			Title:            textOf(card, sel.Title),
			PriceText:        textOf(card, sel.Price),
			AddressText:      textOf(card, sel.Address),
			BedroomsText:     textOf(card, sel.Bedrooms),
			BathroomsText:    textOf(card, sel.Bathrooms),
			DescriptionText:  textOf(card, sel.Description),
			PropertyTypeText: textOf(card, sel.Type),
			LandlordName:     textOf(card, sel.Landlord),
			Features:         textsOf(card, sel.Features),
			ImageRefs:        imageSources(card, sel.Image),
		}
		if sel.Link != "" {
			if href, ok := card.Find(sel.Link).First().Attr("href"); ok {
				raw.SourceURL = resolveURL(sourceURL, href)
			}
		}

		if raw.PriceText == "" && (wholePage || raw.Title == "") {
			return
		}
		listings = append(listings, raw)
	})

	if len(listings) == 1 && listings[0].SourceURL == "" {
		listings[0].SourceURL = sourceURL
	}
	return listings
}

func textOf(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.Find(selector).First().Text()), " ")
}

func textsOf(s *goquery.Selection, selector string) []string {
	if selector == "" {
		return nil
	}
	var out []string
	s.Find(selector).Each(func(_ int, item *goquery.Selection) {
		if text := strings.Join(strings.Fields(item.Text()), " "); text != "" {
			out = append(out, text)
		}
	})
	return out
}

func imageSources(s *goquery.Selection, selector string) []string {
	if selector == "" {
		selector = "img"
	}
	var refs []string
	s.Find(selector).Each(func(_ int, img *goquery.Selection) {
		src := img.AttrOr("data-src", "")
		if src == "" {
			src = img.AttrOr("src", "")
		}
		if src == "" {
			if fields := strings.Fields(img.AttrOr("srcset", "")); len(fields) > 0 {
				src = fields[0]
			}
		}
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		refs = append(refs, src)
	})
	return refs
}

func resolveURL(base, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	if u.IsAbs() {
		return u.String()
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return b.ResolveReference(u).String()
}
