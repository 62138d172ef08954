package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "modernc.org/sqlite"
)

type Client struct {
	pg     *pgxpool.Pool
	sqlite *sql.DB // run ledger and command queue written by the importer
	ctx    context.Context
}

type Totals struct {
	Properties int
	Images     int
	Imageless  int
	Pending    int
}

type ProviderStats struct {
	Provider      string
	Properties    int
	LastRunAt     *time.Time
	LastRunStatus *string
	LastImported  int
	LastFailed    int
}

type Run struct {
	ID         int64
	Kind       string
	Provider   string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Processed  int
	Imported   int
	Skipped    int
	Failed     int
}

type Property struct {
	ID           string
	Title        string
	Location     string
	Price        float64
	PriceType    string
	Bedrooms     int
	Bathrooms    int
	PropertyType string
	Source       string
	SourceURL    string
	Landlord     string
	Description  string
	Features     []string
	ImageCount   int
	UpdatedAt    time.Time
}

type Image struct {
	URL       string
	AltText   string
	IsPrimary bool
	Order     int
}

type RunLog struct {
	ID        int64
	RunID     *int64
	Timestamp time.Time
	Level     string
	Message   string
	Provider  *string
}

func New(postgresURL, sqlitePath string) (*Client, error) {
	ctx := context.Background()

	pgPool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, err
	}
	if err := pgPool.Ping(ctx); err != nil {
		pgPool.Close()
		return nil, err
	}

	sqliteDB, err := sql.Open("sqlite", sqlitePath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		pgPool.Close()
		return nil, err
	}

	return &Client{pg: pgPool, sqlite: sqliteDB, ctx: ctx}, nil
}

func (c *Client) Close() {
	c.pg.Close()
	c.sqlite.Close()
}

func (c *Client) GetTotals() (Totals, error) {
	var t Totals
	err := c.pg.QueryRow(c.ctx, `
		SELECT
			(SELECT COUNT(*) FROM properties)::int,
			(SELECT COUNT(*) FROM property_images)::int,
			(SELECT COUNT(*) FROM properties p
				WHERE NOT EXISTS (SELECT 1 FROM property_images i WHERE i.property_id = p.id))::int
	`).Scan(&t.Properties, &t.Images, &t.Imageless)
	if err != nil {
		return t, err
	}
	t.Pending, err = c.GetPendingCommandCount()
	return t, err
}

func (c *Client) GetPendingCommandCount() (int, error) {
	var count int
	err := c.sqlite.QueryRow(`SELECT COUNT(*) FROM commands WHERE processed_at IS NULL`).Scan(&count)
	return count, err
}

// GetProviderStats joins per-source property counts with the latest import run per provider
func (c *Client) GetProviderStats() ([]ProviderStats, error) {
	rows, err := c.pg.Query(c.ctx, `
		SELECT source, COUNT(*)::int
		FROM properties
		GROUP BY source
		ORDER BY COUNT(*) DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []ProviderStats
	seen := map[string]int{}
	for rows.Next() {
		var s ProviderStats
		if err := rows.Scan(&s.Provider, &s.Properties); err != nil {
			return nil, err
		}
		seen[s.Provider] = len(stats)
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runRows, err := c.sqlite.Query(`
		SELECT r.provider, r.started_at, r.status, r.imported, r.failed
		FROM runs r
		JOIN (
			SELECT provider, MAX(started_at) AS started_at
			FROM runs
			WHERE kind = 'import' AND provider IS NOT NULL AND provider != ''
			GROUP BY provider
		) latest ON latest.provider = r.provider AND latest.started_at = r.started_at
		WHERE r.kind = 'import'
	`)
	if err != nil {
		return stats, err
	}
	defer runRows.Close()

	for runRows.Next() {
		var provider, status string
		var started sql.NullString
		var imported, failed int
		if err := runRows.Scan(&provider, &started, &status, &imported, &failed); err != nil {
			return stats, err
		}
		idx, ok := seen[provider]
		if !ok {
			idx = len(stats)
			seen[provider] = idx
			stats = append(stats, ProviderStats{Provider: provider})
		}
		if ts, ok := parseTimestamp(started.String); ok {
			stats[idx].LastRunAt = &ts
		}
		st := status
		stats[idx].LastRunStatus = &st
		stats[idx].LastImported = imported
		stats[idx].LastFailed = failed
	}
	return stats, runRows.Err()
}

func (c *Client) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := c.sqlite.Query(`
		SELECT id, kind, COALESCE(provider, ''), started_at, finished_at, COALESCE(status, ''),
			COALESCE(processed, 0), COALESCE(imported, 0), COALESCE(skipped, 0), COALESCE(failed, 0)
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished sql.NullString
		err := rows.Scan(&r.ID, &r.Kind, &r.Provider, &started, &finished, &r.Status,
			&r.Processed, &r.Imported, &r.Skipped, &r.Failed)
		if err != nil {
			return nil, err
		}
		r.StartedAt, _ = parseTimestamp(started.String)
		if ts, ok := parseTimestamp(finished.String); ok {
			r.FinishedAt = &ts
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (c *Client) GetProperties(limit, offset int, imagelessOnly bool) ([]Property, error) {
	query := `
		SELECT
			p.id::text,
			p.title,
			COALESCE(p.location, ''),
			COALESCE(p.price, 0)::float8,
			p.price_type,
			p.bedrooms,
			p.bathrooms,
			p.property_type,
			p.source,
			COALESCE(p.source_url, ''),
			COALESCE(p.landlord_name, ''),
			COALESCE(p.description, ''),
			COALESCE(p.features, '[]'::jsonb),
			(SELECT COUNT(*) FROM property_images i WHERE i.property_id = p.id)::int,
			p.updated_at
		FROM properties p
	`
	if imagelessOnly {
		query += ` WHERE NOT EXISTS (SELECT 1 FROM property_images i WHERE i.property_id = p.id)`
	}
	query += ` ORDER BY p.updated_at DESC LIMIT $1 OFFSET $2`

	rows, err := c.pg.Query(c.ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []Property
	for rows.Next() {
		var p Property
		var features []byte
		err := rows.Scan(&p.ID, &p.Title, &p.Location, &p.Price, &p.PriceType,
			&p.Bedrooms, &p.Bathrooms, &p.PropertyType, &p.Source, &p.SourceURL,
			&p.Landlord, &p.Description, &features, &p.ImageCount, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		_ = json.Unmarshal(features, &p.Features)
		props = append(props, p)
	}
	return props, rows.Err()
}

func (c *Client) GetPropertyCount(imagelessOnly bool) (int, error) {
	query := "SELECT COUNT(*) FROM properties p"
	if imagelessOnly {
		query += ` WHERE NOT EXISTS (SELECT 1 FROM property_images i WHERE i.property_id = p.id)`
	}
	var count int
	err := c.pg.QueryRow(c.ctx, query).Scan(&count)
	return count, err
}

func (c *Client) GetImagesForProperty(propertyID string) ([]Image, error) {
	rows, err := c.pg.Query(c.ctx, `
		SELECT image_url, COALESCE(alt_text, ''), is_primary, image_order
		FROM property_images
		WHERE property_id = $1
		ORDER BY image_order
	`, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []Image
	for rows.Next() {
		var img Image
		if err := rows.Scan(&img.URL, &img.AltText, &img.IsPrimary, &img.Order); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// GetRecentLogs returns run log lines newest first, optionally filtered by level
func (c *Client) GetRecentLogs(limit int, level *string) ([]RunLog, error) {
	var rows *sql.Rows
	var err error

	if level != nil {
		rows, err = c.sqlite.Query(`
			SELECT id, run_id, timestamp, level, message, provider
			FROM run_logs
			WHERE UPPER(level) = UPPER(?)
			ORDER BY timestamp DESC
			LIMIT ?
		`, *level, limit)
	} else {
		rows, err = c.sqlite.Query(`
			SELECT id, run_id, timestamp, level, message, provider
			FROM run_logs
			ORDER BY timestamp DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []RunLog
	for rows.Next() {
		var l RunLog
		var ts sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &ts, &l.Level, &l.Message, &l.Provider); err != nil {
			return nil, err
		}
		l.Level = strings.ToUpper(l.Level)
		l.Timestamp, _ = parseTimestamp(ts.String)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// SendCommand queues a command for the importer daemon, which polls the same table
func (c *Client) SendCommand(command string, params map[string]string) error {
	payload := []byte("{}")
	if len(params) > 0 {
		var err error
		if payload, err = json.Marshal(params); err != nil {
			return err
		}
	}
	_, err := c.sqlite.Exec(`
		INSERT INTO commands (command, params, created_at)
		VALUES (?, ?, datetime('now'))
	`, command, string(payload))
	return err
}

func (c *Client) ImportNow() error {
	return c.SendCommand("import_now", nil)
}

func (c *Client) Cleanup(policy string) error {
	return c.SendCommand("cleanup", map[string]string{"policy": policy})
}

func (c *Client) Pause() error {
	return c.SendCommand("pause", nil)
}

func (c *Client) Resume() error {
	return c.SendCommand("resume", nil)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// parseTimestamp accepts the layouts the two SQLite drivers write DATETIME columns in
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if i := strings.Index(s, " m="); i > 0 {
		s = s[:i]
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
