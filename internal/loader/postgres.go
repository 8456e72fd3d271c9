package loader

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/i474232898/weather-history/internal/weather"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS locations (
		location_id INTEGER PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		region VARCHAR(255) NOT NULL DEFAULT '',
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL
	);

	CREATE TABLE IF NOT EXISTS weather_daily (
		id BIGSERIAL PRIMARY KEY,
		location_id INTEGER NOT NULL
			REFERENCES locations (location_id) DEFERRABLE INITIALLY IMMEDIATE,
		date DATE NOT NULL,
		temp_max_c NUMERIC(6,2) NOT NULL,
		temp_min_c NUMERIC(6,2) NOT NULL,
		temp_avg_c NUMERIC(6,2) NOT NULL,
		humidity_pct NUMERIC(6,2),
		wind_speed_ms NUMERIC(6,2),
		pressure_kpa NUMERIC(7,2),
		loaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT weather_daily_location_date_key UNIQUE (location_id, date)
	);

	CREATE INDEX IF NOT EXISTS weather_daily_date_idx ON weather_daily (date);
	`

const stageTableSQL = `
	CREATE TEMP TABLE weather_daily_stage (
		location_id TEXT,
		date TEXT,
		temp_max_c TEXT,
		temp_min_c TEXT,
		temp_avg_c TEXT,
		humidity_pct TEXT,
		wind_speed_ms TEXT,
		pressure_kpa TEXT
	) ON COMMIT DROP`

const copyStageSQL = `COPY weather_daily_stage FROM STDIN WITH (FORMAT csv, HEADER true)`

const insertFromStageSQL = `
	INSERT INTO weather_daily
		(location_id, date, temp_max_c, temp_min_c, temp_avg_c, humidity_pct, wind_speed_ms, pressure_kpa)
	SELECT
		location_id::integer,
		to_date(date, 'YYYY-MM-DD'),
		temp_max_c::numeric,
		temp_min_c::numeric,
		temp_avg_c::numeric,
		NULLIF(humidity_pct, '')::numeric,
		NULLIF(wind_speed_ms, '')::numeric,
		NULLIF(pressure_kpa, '')::numeric
	FROM weather_daily_stage`

const upsertSQL = `
	INSERT INTO weather_daily
		(location_id, date, temp_max_c, temp_min_c, temp_avg_c, humidity_pct, wind_speed_ms, pressure_kpa)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (location_id, date) DO UPDATE SET
		temp_max_c = EXCLUDED.temp_max_c,
		temp_min_c = EXCLUDED.temp_min_c,
		temp_avg_c = EXCLUDED.temp_avg_c,
		humidity_pct = EXCLUDED.humidity_pct,
		wind_speed_ms = EXCLUDED.wind_speed_ms,
		pressure_kpa = EXCLUDED.pressure_kpa,
		loaded_at = now()`

const upsertLocationSQL = `
	INSERT INTO locations (location_id, name, region, latitude, longitude)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (location_id) DO UPDATE SET
		name = EXCLUDED.name,
		region = EXCLUDED.region,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude`

// EnsureSchema creates the destination tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("loader: failed to create schema: %w", err)
	}
	return nil
}

// SyncLocations upserts the registry into the locations table, the foreign
// key target of weather_daily.
func SyncLocations(ctx context.Context, pool *pgxpool.Pool, locations []weather.Location) error {
	if len(locations) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, loc := range locations {
		b.Queue(upsertLocationSQL, loc.ID, loc.Name, loc.Region, loc.Lat, loc.Lon)
	}
	br := pool.SendBatch(ctx, b)
	for range locations {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("loader: failed to sync locations: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("loader: failed to sync locations: %w", err)
	}
	return nil
}

// PostgresStore opens destination sessions on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin(ctx context.Context) (Session, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgSession{tx: tx}, nil
}

type pgSession struct {
	tx pgx.Tx
}

func (s *pgSession) Prepare(ctx context.Context) error {
	if _, err := s.tx.Exec(ctx, "SET CONSTRAINTS ALL DEFERRED"); err != nil {
		return err
	}
	_, err := s.tx.Exec(ctx, "TRUNCATE weather_daily")
	return err
}

// BulkLoad copies the staging file into a temporary text table and inserts it
// with explicit casts, all inside a savepoint so a failure leaves the
// enclosing transaction usable.
func (s *pgSession) BulkLoad(ctx context.Context, stagingPath string) (n int64, err error) {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = sp.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = sp.Exec(ctx, stageTableSQL); err != nil {
		return 0, err
	}

	f, err := os.Open(stagingPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err = sp.Conn().PgConn().CopyFrom(ctx, f, copyStageSQL); err != nil {
		return 0, err
	}

	tag, err := sp.Exec(ctx, insertFromStageSQL)
	if err != nil {
		return 0, err
	}
	if _, err = sp.Exec(ctx, "SET CONSTRAINTS ALL IMMEDIATE"); err != nil {
		return 0, err
	}
	if err = sp.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgSession) EnableConstraints(ctx context.Context) error {
	_, err := s.tx.Exec(ctx, "SET CONSTRAINTS ALL IMMEDIATE")
	return err
}

func (s *pgSession) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.tx.QueryRow(ctx, "SELECT COUNT(*) FROM weather_daily").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func upsertArgs(r weather.WeatherRecord) []any {
	return []any{r.LocationID, r.Date, r.TempMaxC, r.TempMinC, r.TempAvgC, r.HumidityPct, r.WindSpeedMS, r.PressureKPa}
}

func (s *pgSession) UpsertBatch(ctx context.Context, records []weather.WeatherRecord) (total int64, err error) {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = sp.Rollback(context.WithoutCancel(ctx))
		}
	}()

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(upsertSQL, upsertArgs(r)...)
	}
	br := sp.SendBatch(ctx, b)
	for range records {
		tag, execErr := br.Exec()
		if execErr != nil {
			_ = br.Close()
			return 0, execErr
		}
		total += tag.RowsAffected()
	}
	if err = br.Close(); err != nil {
		return 0, err
	}
	if err = sp.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *pgSession) UpsertRow(ctx context.Context, r weather.WeatherRecord) (err error) {
	sp, err := s.tx.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = sp.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err = sp.Exec(ctx, upsertSQL, upsertArgs(r)...); err != nil {
		return err
	}
	return sp.Commit(ctx)
}

func (s *pgSession) Commit(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

func (s *pgSession) Rollback(ctx context.Context) error {
	return s.tx.Rollback(ctx)
}

// SyncLocations upserts locations into the foreign key target table.
func (s *PostgresStore) SyncLocations(ctx context.Context, locations []weather.Location) error {
	return SyncLocations(ctx, s.db, locations)
}
