// Package postgres persists deployment-level search settings. The engine
// holding the chunks is the source of truth for content; this record only
// exists so a restarted process can detect drift between its configuration
// and what the live index was provisioned with.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/oryntel/docindex/internal/core/domain"
	"github.com/oryntel/docindex/internal/core/ports"
)

type SettingsRepository struct {
	db *sql.DB
}

func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

var _ ports.SettingsRepository = (*SettingsRepository)(nil)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *SettingsRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS search_settings (
	id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	index_name TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	multi_tenant BOOLEAN NOT NULL,
	knowledge_graph BOOLEAN NOT NULL,
	backend TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// Get returns the persisted settings, or nil on a first boot where nothing
// was saved yet.
func (r *SettingsRepository) Get(ctx context.Context) (*domain.SearchSettings, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT index_name, dimensions, multi_tenant, knowledge_graph, backend, updated_at
FROM search_settings
WHERE id = 1
`)

	var settings domain.SearchSettings
	var backend string
	err := row.Scan(
		&settings.IndexName, &settings.Dimensions, &settings.MultiTenant,
		&settings.KnowledgeGraph, &backend, &settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan search settings: %w", err)
	}

	settings.Backend, err = domain.ParseBackendFamily(backend)
	if err != nil {
		return nil, fmt.Errorf("persisted settings: %w", err)
	}
	return &settings, nil
}

func (r *SettingsRepository) Save(ctx context.Context, settings domain.SearchSettings) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO search_settings (id, index_name, dimensions, multi_tenant, knowledge_graph, backend, updated_at)
VALUES (1, $1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	index_name = EXCLUDED.index_name,
	dimensions = EXCLUDED.dimensions,
	multi_tenant = EXCLUDED.multi_tenant,
	knowledge_graph = EXCLUDED.knowledge_graph,
	backend = EXCLUDED.backend,
	updated_at = EXCLUDED.updated_at
`,
		settings.IndexName, settings.Dimensions, settings.MultiTenant,
		settings.KnowledgeGraph, string(settings.Backend), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save search settings: %w", err)
	}
	return nil
}

// ValidateAgainst rejects startup when the persisted provisioning disagrees
// with the process configuration. Changing dimensions or tenancy requires an
// explicit re-provision, not a silent overwrite.
func ValidateAgainst(persisted *domain.SearchSettings, desired domain.SearchSettings) error {
	if persisted == nil {
		return nil
	}
	if persisted.Dimensions != desired.Dimensions {
		return domain.WrapError(domain.ErrSchema, "validate settings",
			fmt.Errorf("index %q was provisioned with %d dimensions, config wants %d",
				persisted.IndexName, persisted.Dimensions, desired.Dimensions))
	}
	if persisted.MultiTenant != desired.MultiTenant {
		return domain.WrapError(domain.ErrSchema, "validate settings",
			fmt.Errorf("multi-tenancy cannot change after provisioning"))
	}
	if persisted.Backend != desired.Backend {
		return domain.WrapError(domain.ErrSchema, "validate settings",
			fmt.Errorf("index %q was provisioned for the %s backend, config selects %s",
				persisted.IndexName, persisted.Backend, desired.Backend))
	}
	return nil
}
