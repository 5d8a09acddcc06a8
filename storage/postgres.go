package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"auctionwatch/models"
)

// ErrVersionConflict is returned by PutSnapshot when another writer replaced
// the snapshot since it was read.
var ErrVersionConflict = errors.New("snapshot version conflict")

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

const pgSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL DEFAULT '',
	street TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	county TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	zip_code TEXT NOT NULL DEFAULT '',
	latitude DOUBLE PRECISION,
	longitude DOUBLE PRECISION,
	status TEXT NOT NULL DEFAULT '',
	filing_date TIMESTAMPTZ,
	auction_date TIMESTAMPTZ,
	auction_time TEXT NOT NULL DEFAULT '',
	auction_location TEXT NOT NULL DEFAULT '',
	opening_bid DOUBLE PRECISION,
	unpaid_balance DOUBLE PRECISION,
	lender_name TEXT NOT NULL DEFAULT '',
	case_number TEXT NOT NULL DEFAULT '',
	trustee_name TEXT NOT NULL DEFAULT '',
	property_type TEXT NOT NULL DEFAULT '',
	beds INTEGER NOT NULL DEFAULT 0,
	baths DOUBLE PRECISION NOT NULL DEFAULT 0,
	sqft INTEGER NOT NULL DEFAULT 0,
	year_built INTEGER,
	estimated_value DOUBLE PRECISION,
	detail_url TEXT NOT NULL DEFAULT '',
	data_timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_listings_status_auction
	ON listings (status, auction_date);

CREATE TABLE IF NOT EXISTS listing_snapshots (
	listing_id TEXT PRIMARY KEY REFERENCES listings(id),
	status TEXT NOT NULL,
	auction_date TIMESTAMPTZ,
	opening_bid DOUBLE PRECISION,
	version BIGINT NOT NULL DEFAULT 1,
	observed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS alerts (
	id BIGSERIAL PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	states TEXT[] NOT NULL DEFAULT '{}',
	city TEXT NOT NULL DEFAULT '',
	min_bid DOUBLE PRECISION,
	max_bid DOUBLE PRECISION,
	property_types TEXT[] NOT NULL DEFAULT '{}',
	center_lat DOUBLE PRECISION,
	center_lng DOUBLE PRECISION,
	radius_miles DOUBLE PRECISION,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_alerts_active ON alerts (active);

CREATE TABLE IF NOT EXISTS watchlist (
	owner_id BIGINT NOT NULL,
	listing_id TEXT NOT NULL REFERENCES listings(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (owner_id, listing_id)
);
CREATE INDEX IF NOT EXISTS idx_watchlist_listing ON watchlist (listing_id);

CREATE TABLE IF NOT EXISTS notification_preferences (
	owner_id BIGINT PRIMARY KEY,
	email_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	sms_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	push_enabled BOOLEAN NOT NULL DEFAULT FALSE,
	in_app_enabled BOOLEAN NOT NULL DEFAULT TRUE,
	quiet_hours_start TEXT NOT NULL DEFAULT '',
	quiet_hours_end TEXT NOT NULL DEFAULT '',
	timezone TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS notifications (
	id UUID PRIMARY KEY,
	owner_id BIGINT NOT NULL,
	listing_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	priority TEXT NOT NULL DEFAULT 'medium',
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	data JSONB,
	idempotency_key TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	delivered_at TIMESTAMPTZ,
	deferred_until TIMESTAMPTZ,
	read_at TIMESTAMPTZ,
	dismissed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_notifications_owner
	ON notifications (owner_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_deferred
	ON notifications (deferred_until) WHERE status = 'deferred';
`

// Migrate creates the schema when it does not exist yet. Statements are
// idempotent so running it on every startup is safe.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// =============================================================================
// Listings
// =============================================================================

const listingColumns = `id, source, street, city, county, state, zip_code, latitude, longitude,
	status, filing_date, auction_date, auction_time, auction_location,
	opening_bid, unpaid_balance, lender_name, case_number, trustee_name,
	property_type, beds, baths, sqft, year_built, estimated_value,
	detail_url, data_timestamp, created_at, updated_at`

func scanListing(row pgx.Row) (*models.Listing, error) {
	var l models.Listing
	err := row.Scan(
		&l.ID, &l.Source, &l.Street, &l.City, &l.County, &l.State, &l.ZipCode, &l.Latitude, &l.Longitude,
		&l.Status, &l.FilingDate, &l.AuctionDate, &l.AuctionTime, &l.AuctionLocation,
		&l.OpeningBid, &l.UnpaidBalance, &l.LenderName, &l.CaseNumber, &l.TrusteeName,
		&l.PropertyType, &l.Beds, &l.Baths, &l.SqFt, &l.YearBuilt, &l.EstimatedValue,
		&l.DetailURL, &l.DataTimestamp, &l.CreatedAt, &l.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *PostgresStore) UpsertListing(ctx context.Context, l *models.Listing) error {
	query := `
		INSERT INTO listings (` + listingColumns + `)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filing_date = COALESCE(EXCLUDED.filing_date, listings.filing_date),
			auction_date = EXCLUDED.auction_date,
			auction_time = COALESCE(NULLIF(EXCLUDED.auction_time, ''), listings.auction_time),
			auction_location = COALESCE(NULLIF(EXCLUDED.auction_location, ''), listings.auction_location),
			opening_bid = EXCLUDED.opening_bid,
			unpaid_balance = COALESCE(EXCLUDED.unpaid_balance, listings.unpaid_balance),
			lender_name = COALESCE(NULLIF(EXCLUDED.lender_name, ''), listings.lender_name),
			case_number = COALESCE(NULLIF(EXCLUDED.case_number, ''), listings.case_number),
			trustee_name = COALESCE(NULLIF(EXCLUDED.trustee_name, ''), listings.trustee_name),
			property_type = COALESCE(NULLIF(EXCLUDED.property_type, ''), listings.property_type),
			beds = COALESCE(NULLIF(EXCLUDED.beds, 0), listings.beds),
			baths = COALESCE(NULLIF(EXCLUDED.baths, 0), listings.baths),
			sqft = COALESCE(NULLIF(EXCLUDED.sqft, 0), listings.sqft),
			year_built = COALESCE(EXCLUDED.year_built, listings.year_built),
			estimated_value = COALESCE(EXCLUDED.estimated_value, listings.estimated_value),
			latitude = COALESCE(EXCLUDED.latitude, listings.latitude),
			longitude = COALESCE(EXCLUDED.longitude, listings.longitude),
			detail_url = COALESCE(NULLIF(EXCLUDED.detail_url, ''), listings.detail_url),
			data_timestamp = EXCLUDED.data_timestamp,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.Source, l.Street, l.City, l.County, l.State, l.ZipCode, l.Latitude, l.Longitude,
		l.Status, l.FilingDate, l.AuctionDate, l.AuctionTime, l.AuctionLocation,
		l.OpeningBid, l.UnpaidBalance, l.LenderName, l.CaseNumber, l.TrusteeName,
		l.PropertyType, l.Beds, l.Baths, l.SqFt, l.YearBuilt, l.EstimatedValue,
		l.DetailURL, l.DataTimestamp, l.CreatedAt, l.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	return scanListing(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ListListings(ctx context.Context) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ListUpcomingAuctions returns listings in auction status with a future
// auction date, used by the reminder scan.
func (s *PostgresStore) ListUpcomingAuctions(ctx context.Context, now time.Time) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE status = $1 AND auction_date IS NOT NULL AND auction_date > $2
		ORDER BY auction_date`

	rows, err := s.pool.Query(ctx, query, models.StatusAuction, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// =============================================================================
// Snapshots
// =============================================================================

func (s *PostgresStore) GetSnapshot(ctx context.Context, listingID string) (*models.ListingSnapshot, error) {
	query := `
		SELECT listing_id, status, auction_date, opening_bid, version, observed_at
		FROM listing_snapshots WHERE listing_id = $1`

	var snap models.ListingSnapshot
	err := s.pool.QueryRow(ctx, query, listingID).Scan(
		&snap.ListingID, &snap.Status, &snap.AuctionDate, &snap.OpeningBid, &snap.Version, &snap.ObservedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// PutSnapshot replaces a listing's snapshot if its version is still
// expectedVersion. expectedVersion 0 means no snapshot existed; the insert
// fails with ErrVersionConflict if one appeared meanwhile.
func (s *PostgresStore) PutSnapshot(ctx context.Context, snap *models.ListingSnapshot, expectedVersion int64) error {
	if expectedVersion == 0 {
		query := `
			INSERT INTO listing_snapshots (listing_id, status, auction_date, opening_bid, version, observed_at)
			VALUES ($1, $2, $3, $4, 1, $5)
			ON CONFLICT (listing_id) DO NOTHING`

		tag, err := s.pool.Exec(ctx, query,
			snap.ListingID, snap.Status, snap.AuctionDate, snap.OpeningBid, snap.ObservedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
		snap.Version = 1
		return nil
	}

	query := `
		UPDATE listing_snapshots
		SET status = $1, auction_date = $2, opening_bid = $3, version = version + 1, observed_at = $4
		WHERE listing_id = $5 AND version = $6`

	tag, err := s.pool.Exec(ctx, query,
		snap.Status, snap.AuctionDate, snap.OpeningBid, snap.ObservedAt, snap.ListingID, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	snap.Version = expectedVersion + 1
	return nil
}

// =============================================================================
// Alerts and watchlist
// =============================================================================

func (s *PostgresStore) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	query := `
		SELECT id, owner_id, name, kind, active, states, city, min_bid, max_bid,
			property_types, center_lat, center_lng, radius_miles, created_at
		FROM alerts WHERE active = TRUE ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		var a models.Alert
		err := rows.Scan(
			&a.ID, &a.OwnerID, &a.Name, &a.Kind, &a.Active, &a.States, &a.City, &a.MinBid, &a.MaxBid,
			&a.PropertyTypes, &a.CenterLat, &a.CenterLng, &a.RadiusMiles, &a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListWatchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	query := `SELECT owner_id, listing_id, created_at FROM watchlist ORDER BY owner_id, listing_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.WatchlistEntry
	for rows.Next() {
		var w models.WatchlistEntry
		if err := rows.Scan(&w.OwnerID, &w.ListingID, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListWatchersForListing(ctx context.Context, listingID string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id FROM watchlist WHERE listing_id = $1`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var owner int64
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		out = append(out, owner)
	}
	return out, rows.Err()
}

// GetWatchlistListings returns the listings on an owner's watchlist, used
// for the initial_state message on connect.
func (s *PostgresStore) GetWatchlistListings(ctx context.Context, ownerID int64) ([]models.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings
		WHERE id IN (SELECT listing_id FROM watchlist WHERE owner_id = $1)
		ORDER BY auction_date NULLS LAST`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddWatchlistEntry(ctx context.Context, ownerID int64, listingID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watchlist (owner_id, listing_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_id, listing_id) DO NOTHING`, ownerID, listingID)
	return err
}

func (s *PostgresStore) RemoveWatchlistEntry(ctx context.Context, ownerID int64, listingID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist WHERE owner_id = $1 AND listing_id = $2`, ownerID, listingID)
	return err
}

// =============================================================================
// Preferences
// =============================================================================

func (s *PostgresStore) GetPreference(ctx context.Context, ownerID int64) (*models.NotificationPreference, error) {
	query := `
		SELECT owner_id, email_enabled, sms_enabled, push_enabled, in_app_enabled,
			quiet_hours_start, quiet_hours_end, timezone, updated_at
		FROM notification_preferences WHERE owner_id = $1`

	var p models.NotificationPreference
	err := s.pool.QueryRow(ctx, query, ownerID).Scan(
		&p.OwnerID, &p.EmailEnabled, &p.SMSEnabled, &p.PushEnabled, &p.InAppEnabled,
		&p.QuietHoursStart, &p.QuietHoursEnd, &p.Timezone, &p.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// Notifications
// =============================================================================

const notificationColumns = `id, owner_id, listing_id, kind, priority, title, body, data,
	idempotency_key, status, created_at, delivered_at, deferred_until, read_at, dismissed_at`

func scanNotification(row pgx.Row) (*models.Notification, error) {
	var n models.Notification
	err := row.Scan(
		&n.ID, &n.OwnerID, &n.ListingID, &n.Kind, &n.Priority, &n.Title, &n.Body, &n.Data,
		&n.IdempotencyKey, &n.Status, &n.CreatedAt, &n.DeliveredAt, &n.DeferredUntil, &n.ReadAt, &n.DismissedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// InsertNotification persists a notification record. Returns false without
// error when a record with the same idempotency key already exists.
func (s *PostgresStore) InsertNotification(ctx context.Context, n *models.Notification) (bool, error) {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (idempotency_key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		n.ID, n.OwnerID, n.ListingID, n.Kind, n.Priority, n.Title, n.Body, n.Data,
		n.IdempotencyKey, n.Status, n.CreatedAt, n.DeliveredAt, n.DeferredUntil, n.ReadAt, n.DismissedAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`
	return scanNotification(s.pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ListNotifications(ctx context.Context, ownerID int64, limit int) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications
		WHERE owner_id = $1 AND dismissed_at IS NULL
		ORDER BY created_at DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// ClaimDueDeferred atomically flips due deferred notifications back to
// pending and returns them, so a sweep racing a crashed predecessor cannot
// pick up the same rows twice.
func (s *PostgresStore) ClaimDueDeferred(ctx context.Context, now time.Time, limit int) ([]models.Notification, error) {
	query := `
		UPDATE notifications SET status = $1, deferred_until = NULL
		WHERE id IN (
			SELECT id FROM notifications
			WHERE status = $2 AND deferred_until <= $3
			ORDER BY deferred_until LIMIT $4
		)
		RETURNING ` + notificationColumns

	rows, err := s.pool.Query(ctx, query,
		models.NotificationPending, models.NotificationDeferred, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = $1, delivered_at = $2 WHERE id = $3`,
		models.NotificationDelivered, at, id)
	return err
}

// DeferNotification pushes a notification back into the deferred state,
// typically when the owner is still inside quiet hours at sweep time.
func (s *PostgresStore) DeferNotification(ctx context.Context, id uuid.UUID, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = $1, deferred_until = $2 WHERE id = $3`,
		models.NotificationDeferred, until, id)
	return err
}

func (s *PostgresStore) MarkNotificationFailed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = $1 WHERE id = $2`,
		models.NotificationFailed, id)
	return err
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read_at = $1 WHERE id = $2 AND read_at IS NULL`, at, id)
	return err
}

func (s *PostgresStore) MarkNotificationDismissed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET dismissed_at = $1 WHERE id = $2 AND dismissed_at IS NULL`, at, id)
	return err
}
