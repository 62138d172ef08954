package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"studenthome_ingest/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// =============================================================================
// Schema
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS properties (
	id            UUID PRIMARY KEY,
	title         TEXT NOT NULL,
	price         NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (price >= 0),
	price_type    TEXT NOT NULL DEFAULT 'weekly' CHECK (price_type IN ('weekly', 'monthly', 'yearly')),
	location      TEXT NOT NULL DEFAULT '',
	full_address  TEXT,
	postcode      TEXT,
	bedrooms      INTEGER NOT NULL DEFAULT 1 CHECK (bedrooms >= 1),
	bathrooms     INTEGER NOT NULL DEFAULT 1 CHECK (bathrooms >= 1),
	property_type TEXT NOT NULL DEFAULT 'flat',
	furnished     BOOLEAN NOT NULL DEFAULT TRUE,
	available     BOOLEAN NOT NULL DEFAULT TRUE,
	description   TEXT,
	landlord_name TEXT,
	features      JSONB NOT NULL DEFAULT '[]',
	source        TEXT NOT NULL CHECK (source <> ''),
	source_url    TEXT,
	scraped_at    TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS property_images (
	id          UUID PRIMARY KEY,
	property_id UUID NOT NULL REFERENCES properties(id) ON DELETE CASCADE,
	image_url   TEXT NOT NULL,
	alt_text    TEXT,
	is_primary  BOOLEAN NOT NULL DEFAULT FALSE,
	image_order INTEGER NOT NULL DEFAULT 0 CHECK (image_order >= 0),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_properties_source_url ON properties(source_url);
CREATE INDEX IF NOT EXISTS idx_properties_location ON properties(location);
CREATE INDEX IF NOT EXISTS idx_properties_price ON properties(price);
CREATE INDEX IF NOT EXISTS idx_properties_bedrooms ON properties(bedrooms);
CREATE INDEX IF NOT EXISTS idx_properties_available ON properties(available);
CREATE INDEX IF NOT EXISTS idx_property_images_property_id ON property_images(property_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// =============================================================================
// Properties
// =============================================================================

// UpsertProperty inserts p, or updates the row with the same source_url, and
// writes the stored id back into p.
func (s *PostgresStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	query := `
		INSERT INTO properties (
			id, title, price, price_type, location, full_address, postcode,
			bedrooms, bathrooms, property_type, furnished, available, description,
			landlord_name, features, source, source_url, scraped_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11, $12,
			NULLIF($13, ''), NULLIF($14, ''), $15, $16, NULLIF($17, ''), $18, $19, $20
		)
		ON CONFLICT (source_url) DO UPDATE SET
			title = EXCLUDED.title,
			price = EXCLUDED.price,
			price_type = EXCLUDED.price_type,
			location = EXCLUDED.location,
			full_address = COALESCE(EXCLUDED.full_address, properties.full_address),
			postcode = COALESCE(EXCLUDED.postcode, properties.postcode),
			bedrooms = EXCLUDED.bedrooms,
			bathrooms = EXCLUDED.bathrooms,
			property_type = EXCLUDED.property_type,
			furnished = EXCLUDED.furnished,
			available = EXCLUDED.available,
			description = COALESCE(EXCLUDED.description, properties.description),
			landlord_name = COALESCE(EXCLUDED.landlord_name, properties.landlord_name),
			features = EXCLUDED.features,
			source = EXCLUDED.source,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
		RETURNING id, created_at`

	return s.pool.QueryRow(ctx, query,
		p.ID, p.Title, p.Price, p.PriceType, p.Location, p.FullAddress, p.Postcode,
		p.Bedrooms, p.Bathrooms, p.PropertyType, p.Furnished, p.Available, p.Description,
		p.LandlordName, p.FeaturesJSON(), p.Source, p.SourceURL, p.ScrapedAt, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID, &p.CreatedAt)
}

func (s *PostgresStore) DeleteProperties(ctx context.Context, ids []uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM properties WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PropertiesWithoutImages lists properties that have no image rows at all
func (s *PostgresStore) PropertiesWithoutImages(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT p.id FROM properties p
		WHERE NOT EXISTS (SELECT 1 FROM property_images pi WHERE pi.property_id = p.id)
		ORDER BY p.id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClearAll empties both tables ahead of a full rebuild
func (s *PostgresStore) ClearAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE property_images, properties`)
	return err
}

// =============================================================================
// Images
// =============================================================================

// ReplaceImages swaps a property's image set in one transaction
func (s *PostgresStore) ReplaceImages(ctx context.Context, propertyID uuid.UUID, images []models.PropertyImage) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM property_images WHERE property_id = $1`, propertyID); err != nil {
		return fmt.Errorf("clear images: %w", err)
	}

	batch := &pgx.Batch{}
	for _, img := range images {
		batch.Queue(`
			INSERT INTO property_images (id, property_id, image_url, alt_text, is_primary, image_order, created_at)
			VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
			img.ID, propertyID, img.ImageURL, img.AltText, img.IsPrimary, img.ImageOrder, img.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert images: %w", err)
	}

	return tx.Commit(ctx)
}

// ListImages pages through all image rows ordered by id, starting after the given id
func (s *PostgresStore) ListImages(ctx context.Context, after uuid.UUID, limit int) ([]models.PropertyImage, error) {
	query := `
		SELECT id, property_id, image_url, COALESCE(alt_text, ''), is_primary, image_order, created_at
		FROM property_images
		WHERE id > $1
		ORDER BY id
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.PropertyImage
	for rows.Next() {
		var img models.PropertyImage
		if err := rows.Scan(&img.ID, &img.PropertyID, &img.ImageURL, &img.AltText,
			&img.IsPrimary, &img.ImageOrder, &img.CreatedAt); err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func (s *PostgresStore) UpdateImageURL(ctx context.Context, id uuid.UUID, imageURL string) error {
	_, err := s.pool.Exec(ctx, `UPDATE property_images SET image_url = $2 WHERE id = $1`, id, imageURL)
	return err
}

func (s *PostgresStore) DeleteImages(ctx context.Context, ids []uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM property_images WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteOrphanImages removes image rows whose property is gone
func (s *PostgresStore) DeleteOrphanImages(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM property_images pi
		WHERE NOT EXISTS (SELECT 1 FROM properties p WHERE p.id = pi.property_id)`

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// EnsurePrimaryImages marks the lowest-ordered image primary for every
// property left without one
func (s *PostgresStore) EnsurePrimaryImages(ctx context.Context) (int64, error) {
	query := `
		UPDATE property_images SET is_primary = TRUE
		WHERE id IN (
			SELECT DISTINCT ON (pi.property_id) pi.id
			FROM property_images pi
			WHERE NOT EXISTS (
				SELECT 1 FROM property_images x
				WHERE x.property_id = pi.property_id AND x.is_primary
			)
			ORDER BY pi.property_id, pi.image_order, pi.created_at
		)`

	tag, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Diagnostics
// =============================================================================

func (s *PostgresStore) Stats(ctx context.Context) (models.StoreStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM properties),
			(SELECT COUNT(*) FROM property_images),
			(SELECT COUNT(*) FROM properties p
				WHERE NOT EXISTS (SELECT 1 FROM property_images pi WHERE pi.property_id = p.id))`

	var stats models.StoreStats
	err := s.pool.QueryRow(ctx, query).Scan(&stats.Properties, &stats.Images, &stats.PropertiesWithoutImages)
	return stats, err
}

func (s *PostgresStore) SampleImageURLs(ctx context.Context, n int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT image_url FROM property_images ORDER BY random() LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}
