package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"studenthome_ingest/models"
)

// DatasetOpener opens s3:// dataset sources
type DatasetOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// LoadDataset reads a JSON array of RawListing records from a local path or,
// given an opener, from s3://bucket/key
func LoadDataset(ctx context.Context, src string, opener DatasetOpener) ([]models.RawListing, error) {
	var r io.ReadCloser
	var err error
	if strings.HasPrefix(src, "s3://") {
		if opener == nil {
			return nil, fmt.Errorf("dataset %s: S3 is not configured", src)
		}
		r, err = opener.Open(ctx, src)
	} else {
		r, err = os.Open(src)
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", src, err)
	}
	defer r.Close()

	var listings []models.RawListing
	if err := json.NewDecoder(r).Decode(&listings); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", src, err)
	}
	return listings, nil
}

// WriteDataset saves extracted listings in the format LoadDataset reads
func WriteDataset(path string, listings []models.RawListing) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(listings); err != nil {
		f.Close()
		return fmt.Errorf("write dataset %s: %w", path, err)
	}
	return f.Close()
}
