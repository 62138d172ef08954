package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type PriceType string

const (
	PriceWeekly  PriceType = "weekly"
	PriceMonthly PriceType = "monthly"
	PriceYearly  PriceType = "yearly"
)

func (p PriceType) Valid() bool {
	switch p {
	case PriceWeekly, PriceMonthly, PriceYearly:
		return true
	}
	return false
}

type PropertyType string

const (
	PropertyFlat       PropertyType = "flat"
	PropertyHouse      PropertyType = "house"
	PropertyStudio     PropertyType = "studio"
	PropertyRoom       PropertyType = "room"
	PropertyMaisonette PropertyType = "maisonette"
	PropertyBungalow   PropertyType = "bungalow"
)

// Property is a normalized accommodation listing as stored in the properties table
type Property struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Price        float64      `json:"price" db:"price"`
	PriceType    PriceType    `json:"price_type" db:"price_type"`
	Location     string       `json:"location" db:"location"`
	FullAddress  string       `json:"full_address,omitempty" db:"full_address"`
	Postcode     string       `json:"postcode,omitempty" db:"postcode"`
	Bedrooms     int          `json:"bedrooms" db:"bedrooms"`
	Bathrooms    int          `json:"bathrooms" db:"bathrooms"`
	PropertyType PropertyType `json:"property_type" db:"property_type"`
	Furnished    bool         `json:"furnished" db:"furnished"`
	Available    bool         `json:"available" db:"available"`
	Description  string       `json:"description,omitempty" db:"description"`
	LandlordName string       `json:"landlord_name,omitempty" db:"landlord_name"`
	Features     []string     `json:"features" db:"features"`
	Source       string       `json:"source" db:"source"`
	SourceURL    string       `json:"source_url,omitempty" db:"source_url"`
	ScrapedAt    time.Time    `json:"scraped_at" db:"scraped_at"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// FeaturesJSON encodes the amenity set for the jsonb column
func (p *Property) FeaturesJSON() json.RawMessage {
	if len(p.Features) == 0 {
		return json.RawMessage("[]")
	}
	data, err := json.Marshal(p.Features)
	if err != nil {
		return json.RawMessage("[]")
	}
	return data
}

// Validate rejects rows the store would refuse anyway
func (p *Property) Validate() error {
	var errs []error
	if p.Title == "" {
		errs = append(errs, errors.New("title is empty"))
	}
	if p.Source == "" {
		errs = append(errs, errors.New("source is empty"))
	}
	if p.Price < 0 {
		errs = append(errs, fmt.Errorf("price %.2f is negative", p.Price))
	}
	if p.Bedrooms < 1 {
		errs = append(errs, fmt.Errorf("bedrooms %d < 1", p.Bedrooms))
	}
	if p.Bathrooms < 1 {
		errs = append(errs, fmt.Errorf("bathrooms %d < 1", p.Bathrooms))
	}
	if !p.PriceType.Valid() {
		errs = append(errs, fmt.Errorf("unknown price type %q", p.PriceType))
	}
	return errors.Join(errs...)
}

type PropertyImage struct {
	ID         uuid.UUID `json:"id" db:"id"`
	PropertyID uuid.UUID `json:"property_id" db:"property_id"`
	ImageURL   string    `json:"image_url" db:"image_url"`
	AltText    string    `json:"alt_text,omitempty" db:"alt_text"`
	IsPrimary  bool      `json:"is_primary" db:"is_primary"`
	ImageOrder int       `json:"image_order" db:"image_order"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
