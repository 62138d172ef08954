package storage

import "testing"

func TestParseS3URI(t *testing.T) {
	bucket, key, ok := ParseS3URI("s3://ingest-data/datasets/2026-09/leeds.json")
	if !ok || bucket != "ingest-data" || key != "datasets/2026-09/leeds.json" {
		t.Fatalf("unexpected parse %q %q %v", bucket, key, ok)
	}

	for _, bad := range []string{"datasets/leeds.json", "s3://", "s3://bucket", "s3:///key"} {
		if _, _, ok := ParseS3URI(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
