package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"canvasrelay/internal/config"
)

// Manifest is an optional Postgres-backed record of already-relayed
// object paths. It answers the "does this path already exist" predicate
// locally, saving a gateway negotiation round trip on repeated runs. The
// gateway's own already-exists signal remains the source of truth; the
// manifest is only a fast path.
type Manifest struct {
	db          *sql.DB
	autoMigrate bool
}

// NewManifest opens the manifest database. A config without a DSN yields
// a nil manifest, which every method treats as "no fast path".
func NewManifest(cfg config.SQLConfig) (*Manifest, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	driver := cfg.Driver
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open manifest db: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping manifest db: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	m := &Manifest{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := m.ensureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return m, nil
}

// Exists reports whether the path was already relayed in a previous run.
func (m *Manifest) Exists(ctx context.Context, path string) (bool, error) {
	if m == nil || m.db == nil {
		return false, nil
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM relayed_objects WHERE path = $1)`
	err := m.db.QueryRowContext(ctx, query, path).Scan(&exists)
	if err != nil {
		if m.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := m.ensureSchema(ctx); schemaErr != nil {
				return false, fmt.Errorf("ensure schema: %w", schemaErr)
			}
			err = m.db.QueryRowContext(ctx, query, path).Scan(&exists)
			if err == nil {
				return exists, nil
			}
		}
		return false, fmt.Errorf("manifest lookup: %w", err)
	}
	return exists, nil
}

// Record remembers a successfully relayed object.
func (m *Manifest) Record(ctx context.Context, path, filename, contentType string, sizeBytes int64) error {
	if m == nil || m.db == nil {
		return nil
	}
	query := `
        INSERT INTO relayed_objects (path, filename, content_type, size_bytes, relayed_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (path) DO UPDATE SET
            filename = EXCLUDED.filename,
            content_type = EXCLUDED.content_type,
            size_bytes = EXCLUDED.size_bytes,
            relayed_at = EXCLUDED.relayed_at
    `
	if _, err := m.db.ExecContext(ctx, query, path, filename, contentType, sizeBytes, time.Now()); err != nil {
		return fmt.Errorf("record relayed object: %w", err)
	}
	return nil
}

// Close closes the underlying DB connection.
func (m *Manifest) Close() error {
	if m == nil || m.db == nil {
		return nil
	}
	return m.db.Close()
}

func (m *Manifest) ensureSchema(ctx context.Context) error {
	if m == nil || m.db == nil {
		return nil
	}
	schemaCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS relayed_objects (
		    path TEXT PRIMARY KEY,
		    filename TEXT,
		    content_type TEXT,
		    size_bytes BIGINT,
		    relayed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relayed_objects_relayed_at ON relayed_objects (relayed_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply manifest schema: %w", err)
		}
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
