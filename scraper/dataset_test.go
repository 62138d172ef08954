package scraper

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"studenthome_ingest/models"
)

type stubOpener struct {
	uri  string
	body string
}

func (o *stubOpener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	o.uri = uri
	return io.NopCloser(strings.NewReader(o.body)), nil
}

func TestLoadDataset_File(t *testing.T) {
	listings, err := LoadDataset(context.Background(), filepath.Join("testdata", "dataset.json"), nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(listings) != 10 {
		t.Fatalf("expected 10 listings, got %d", len(listings))
	}
	if listings[4].Title != "Flat 5" || listings[4].PriceText != "£150 pw" {
		t.Fatalf("unexpected record %+v", listings[4])
	}
}

func TestLoadDataset_S3(t *testing.T) {
	opener := &stubOpener{body: `[{"title":"Remote","source_url":"https://www.example.co.uk/properties/9"}]`}
	listings, err := LoadDataset(context.Background(), "s3://crawls/leeds.json", opener)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if opener.uri != "s3://crawls/leeds.json" {
		t.Fatalf("opener got %q", opener.uri)
	}
	if len(listings) != 1 || listings[0].Title != "Remote" {
		t.Fatalf("unexpected listings %+v", listings)
	}

	if _, err := LoadDataset(context.Background(), "s3://crawls/leeds.json", nil); err == nil {
		t.Fatal("expected an error when S3 is not configured")
	}
}

func TestLoadDataset_BadJSON(t *testing.T) {
	opener := &stubOpener{body: `{"title":"not an array"}`}
	if _, err := LoadDataset(context.Background(), "s3://crawls/bad.json", opener); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestWriteDataset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.json")
	in := []models.RawListing{{Title: "Studio Flat", ImageRefs: []string{"/img/1.jpg"}, SourceURL: "https://www.example.co.uk/properties/1"}}
	if err := WriteDataset(path, in); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out, err := LoadDataset(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if len(out) != 1 || out[0].ImageRefs[0] != "/img/1.jpg" {
		t.Fatalf("unexpected reload %+v", out)
	}
}
