package models

import "time"

// RawListing is what the extractor pulls off a page before normalization.
// It is also the record format of import datasets.
type RawListing struct {
	Title            string    `json:"title,omitempty"`
	PriceText        string    `json:"price_text,omitempty"`
	AddressText      string    `json:"address_text,omitempty"`
	BedroomsText     string    `json:"bedrooms_text,omitempty"`
	BathroomsText    string    `json:"bathrooms_text,omitempty"`
	DescriptionText  string    `json:"description_text,omitempty"`
	PropertyTypeText string    `json:"property_type_text,omitempty"`
	FurnishedText    string    `json:"furnished_text,omitempty"`
	LettingStatus    string    `json:"letting_status,omitempty"`
	LandlordName     string    `json:"landlord_name,omitempty"`
	Features         []string  `json:"features,omitempty"`
	ImageRefs        []string  `json:"image_refs,omitempty"`
	SourceURL        string    `json:"source_url"`
	Provider         string    `json:"provider,omitempty"`
	ScrapedAt        time.Time `json:"scraped_at"`
}

// Page is the Page Fetcher's output
type Page struct {
	URL        string
	StatusCode int
	HTML       string
	Rendered   bool
	FetchedAt  time.Time
}
