package identity

import (
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"studenthome_ingest/models"
)

func TestDedupeURLs_AcrossSources(t *testing.T) {
	sitemap := []string{"A", "B"}
	locationIndex := []string{"A", "C"}
	universityIndex := []string{"B"}

	got := DedupeURLs(sitemap, locationIndex, universityIndex)
	sort.Strings(got)

	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDedupeURLs_ExactStringMatch(t *testing.T) {
	got := DedupeURLs([]string{
		"https://example.com/Properties/1",
		"https://example.com/properties/1",
		"https://example.com/properties/1/",
		"",
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 distinct URLs (case and trailing slash preserved), got %v", got)
	}
	if got[0] != "https://example.com/Properties/1" {
		t.Fatalf("original casing not preserved: %s", got[0])
	}
}

func TestURLSet_Concurrent(t *testing.T) {
	set := NewURLSet()
	var wg sync.WaitGroup
	var added atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if set.Add("https://example.com/a") {
				added.Add(1)
			}
		}()
	}
	wg.Wait()

	if added.Load() != 1 {
		t.Fatalf("expected exactly one Add to win, got %d", added.Load())
	}
	if set.Add("https://example.com/a") {
		t.Fatalf("expected URL to be in set already")
	}
	if !set.Add("https://example.com/b") {
		t.Fatalf("expected a new URL to be added")
	}
}

func TestDedupeListings_LastSeenWins(t *testing.T) {
	listings := []models.RawListing{
		{SourceURL: "A", PriceText: "£100 pw"},
		{SourceURL: "B", PriceText: "£150 pw"},
		{SourceURL: "A", PriceText: "£110 pw"},
		{Title: "Room", AddressText: "Leeds"},
		{Title: "room", AddressText: "Leeds", PriceText: "£90 pw"},
	}
	locate := func(r *models.RawListing) string { return r.AddressText }

	got := DedupeListings(listings, locate)
	if len(got) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(got))
	}
	if got[0].SourceURL != "A" || got[0].PriceText != "£110 pw" {
		t.Fatalf("expected last-seen metadata for A, got %+v", got[0])
	}
	if got[2].PriceText != "£90 pw" {
		t.Fatalf("expected fingerprint match to collapse title case, got %+v", got[2])
	}
}

func TestNormalizeAddress(t *testing.T) {
	got := NormalizeAddress("Flat 2, 45 Oxford Road, Manchester")
	if got != "flat 2 45 oxford rd manchester" {
		t.Fatalf("unexpected normalized address %q", got)
	}
}
