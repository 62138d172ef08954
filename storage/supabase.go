package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"studenthome_ingest/config"
	"studenthome_ingest/models"
)

// SupabaseStore reads through the PostgREST API. It only needs the anon key,
// which is why the diagnostic run prefers it over a direct DB connection.
type SupabaseStore struct {
	url    string
	key    string
	client *http.Client
}

func NewSupabaseStore(cfg config.SupabaseConfig, client *http.Client) *SupabaseStore {
	return &SupabaseStore{
		url:    strings.TrimRight(cfg.URL, "/"),
		key:    cfg.ReadKey(),
		client: client,
	}
}

func (s *SupabaseStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var stats models.StoreStats
	var err error

	if stats.Properties, err = s.count(ctx, "properties", url.Values{"select": {"id"}}); err != nil {
		return stats, fmt.Errorf("count properties: %w", err)
	}
	if stats.Images, err = s.count(ctx, "property_images", url.Values{"select": {"id"}}); err != nil {
		return stats, fmt.Errorf("count images: %w", err)
	}

	imageless := url.Values{
		"select":          {"id,property_images(id)"},
		"property_images": {"is.null"},
	}
	if stats.PropertiesWithoutImages, err = s.count(ctx, "properties", imageless); err != nil {
		return stats, fmt.Errorf("count imageless properties: %w", err)
	}

	return stats, nil
}

func (s *SupabaseStore) SampleImageURLs(ctx context.Context, n int) ([]string, error) {
	q := url.Values{
		"select": {"image_url"},
		"order":  {"created_at.desc"},
		"limit":  {strconv.Itoa(n)},
	}

	resp, err := s.get(ctx, "property_images", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rows []struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}

	urls := make([]string, 0, len(rows))
	for _, r := range rows {
		urls = append(urls, r.ImageURL)
	}
	return urls, nil
}

// count asks PostgREST for an exact count and reads it off Content-Range
func (s *SupabaseStore) count(ctx context.Context, table string, q url.Values) (int, error) {
	headers := map[string]string{
		"Prefer":     "count=exact",
		"Range-Unit": "items",
		"Range":      "0-0",
	}

	resp, err := s.get(ctx, table, q, headers)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

func (s *SupabaseStore) get(ctx context.Context, table string, q url.Values, headers map[string]string) (*http.Response, error) {
	endpoint := s.url + "/rest/v1/" + table + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, fmt.Errorf("supabase error %d: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}

// parseContentRangeTotal reads the total from "0-0/42" or "*/0"
func parseContentRangeTotal(header string) (int, error) {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return 0, fmt.Errorf("unexpected content-range %q", header)
	}
	total := header[idx+1:]
	if total == "*" {
		return 0, fmt.Errorf("count not returned in content-range %q", header)
	}
	return strconv.Atoi(total)
}
