package identity

import (
	"sync"

	"studenthome_ingest/models"
)

// URLSet is a concurrency-safe set of URLs compared by exact string
type URLSet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

func NewURLSet() *URLSet {
	return &URLSet{urls: make(map[string]struct{})}
}

// Add returns true if the URL was not in the set yet
func (s *URLSet) Add(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.urls[url]; ok {
		return false
	}
	s.urls[url] = struct{}{}
	return true
}

// DedupeURLs merges discovery sources into one list of unique URLs, kept in
// first-seen order. Empty strings are dropped.
func DedupeURLs(sources ...[]string) []string {
	seen := NewURLSet()
	var out []string
	for _, src := range sources {
		for _, u := range src {
			if u == "" || !seen.Add(u) {
				continue
			}
			out = append(out, u)
		}
	}
	return out
}

// ListingKey is the source URL, or the (title, location) fingerprint when there is none
func ListingKey(raw *models.RawListing, location string) string {
	if raw.SourceURL != "" {
		return raw.SourceURL
	}
	return "fp:" + Fingerprint(raw.Title, location)
}

// DedupeListings collapses listings sharing a key. The position of the first
// occurrence is kept but its contents are replaced by the last one seen.
func DedupeListings(listings []models.RawListing, locate func(*models.RawListing) string) []models.RawListing {
	index := make(map[string]int, len(listings))
	out := make([]models.RawListing, 0, len(listings))
	for i := range listings {
		key := ListingKey(&listings[i], locate(&listings[i]))
		if pos, ok := index[key]; ok {
			out[pos] = listings[i]
			continue
		}
		index[key] = len(out)
		out = append(out, listings[i])
	}
	return out
}
