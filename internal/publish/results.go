package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"celigo/internal/config"
)

// Record is the row kept per work unit in the result database.
type Record struct {
	WorkUnitID    string
	CorrelationID string
	Profile       string
	Metadata      ImageMetadata
	FileIDs       map[string]string
	Measurements  Measurements
	ProcessedAt   time.Time
}

// ResultDB persists result records.
type ResultDB interface {
	UpsertResult(ctx context.Context, rec Record) error
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresResults writes records into one table, created on first use.
type PostgresResults struct {
	db    execer
	pool  *pgxpool.Pool
	table string

	mu          sync.Mutex
	schemaReady bool
}

// OpenPostgres connects a pool for the database config section.
func OpenPostgres(ctx context.Context, cfg config.Database) (*PostgresResults, error) {
	pc, err := pgxpool.ParseConfig(strings.TrimSpace(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "celigo"

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &PostgresResults{db: pool, pool: pool, table: cfg.Table}, nil
}

// Ping checks connectivity.
func (p *PostgresResults) Ping(ctx context.Context) error {
	if p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}

// Close releases the pool.
func (p *PostgresResults) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// ensureSchema creates the table on first use. A failed attempt is not
// remembered so the next upsert tries again.
func (p *PostgresResults) ensureSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.schemaReady {
		return nil
	}
	if _, err := p.db.Exec(ctx, createTableSQL(p.table)); err != nil {
		return err
	}
	p.schemaReady = true
	return nil
}

// UpsertResult inserts rec or replaces the row already stored for its work
// unit, so re-running a unit never duplicates results.
func (p *PostgresResults) UpsertResult(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.WorkUnitID) == "" {
		return fmt.Errorf("work unit id is required")
	}
	if err := p.ensureSchema(ctx); err != nil {
		return fmt.Errorf("ensure result table: %w", err)
	}
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = time.Now()
	}
	fileIDs := rec.FileIDs
	if fileIDs == nil {
		fileIDs = map[string]string{}
	}
	var measurements any
	if rec.Measurements != nil {
		measurements = rec.Measurements
	}
	_, err := p.db.Exec(ctx, upsertSQL(p.table),
		rec.WorkUnitID,
		rec.CorrelationID,
		rec.Profile,
		rec.Metadata.PlateBarcode,
		rec.Metadata.ScanDate,
		rec.Metadata.ScanTime,
		rec.Metadata.Well(),
		fileIDs,
		measurements,
		len(rec.Measurements),
		rec.ProcessedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert result %s: %w", rec.WorkUnitID, err)
	}
	return nil
}

func createTableSQL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + pgx.Identifier{table}.Sanitize() + ` (
    work_unit_id TEXT PRIMARY KEY,
    correlation_id TEXT NOT NULL,
    profile TEXT NOT NULL,
    plate_barcode TEXT,
    scan_date TEXT,
    scan_time TEXT,
    well TEXT,
    file_ids JSONB NOT NULL,
    measurements JSONB,
    measurement_rows INTEGER NOT NULL DEFAULT 0,
    processed_at TIMESTAMPTZ NOT NULL
)`
}

func upsertSQL(table string) string {
	return `INSERT INTO ` + pgx.Identifier{table}.Sanitize() + ` (
    work_unit_id, correlation_id, profile, plate_barcode, scan_date, scan_time, well,
    file_ids, measurements, measurement_rows, processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (work_unit_id) DO UPDATE SET
    correlation_id = EXCLUDED.correlation_id,
    profile = EXCLUDED.profile,
    plate_barcode = EXCLUDED.plate_barcode,
    scan_date = EXCLUDED.scan_date,
    scan_time = EXCLUDED.scan_time,
    well = EXCLUDED.well,
    file_ids = EXCLUDED.file_ids,
    measurements = EXCLUDED.measurements,
    measurement_rows = EXCLUDED.measurement_rows,
    processed_at = EXCLUDED.processed_at`
}
