package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/telhawk-audit/audit/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations.
func Migrate(connString string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, connString)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresIndex is an Index backed by the audit_events table.
type PostgresIndex struct {
	pool *pgxpool.Pool
}

func NewPostgresIndex(ctx context.Context, connString string) (*PostgresIndex, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", classifyPgError(err))
	}

	return &PostgresIndex{pool: pool}, nil
}

func (r *PostgresIndex) Close() {
	r.pool.Close()
}

func (r *PostgresIndex) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := r.pool.Ping(ctx); err != nil {
		return classifyPgError(err)
	}
	return nil
}

// PutRecord inserts or replaces the row for rec.EventID in one statement.
func (r *PostgresIndex) PutRecord(ctx context.Context, rec *models.IndexRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		INSERT INTO audit_events (event_id, entity_type, entity_id, operation, s3_key, author, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO UPDATE SET
			entity_type = EXCLUDED.entity_type,
			entity_id   = EXCLUDED.entity_id,
			operation   = EXCLUDED.operation,
			s3_key      = EXCLUDED.s3_key,
			author      = EXCLUDED.author,
			ts          = EXCLUDED.ts,
			recorded_at = now()
	`

	_, err := r.pool.Exec(ctx, query,
		rec.EventID, rec.EntityType, rec.EntityID, rec.Operation, rec.S3Key, rec.Author, rec.TS,
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.EventID, classifyPgError(err))
	}
	return nil
}

func (r *PostgresIndex) GetByEventID(ctx context.Context, eventID string) (*models.IndexRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	query := `
		SELECT event_id, entity_type, entity_id, operation, s3_key, author, ts
		FROM audit_events
		WHERE event_id = $1
	`

	var rec models.IndexRecord
	err := r.pool.QueryRow(ctx, query, eventID).Scan(
		&rec.EventID, &rec.EntityType, &rec.EntityID, &rec.Operation, &rec.S3Key, &rec.Author, &rec.TS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", eventID, classifyPgError(err))
	}
	return &rec, nil
}

func (r *PostgresIndex) ListByEntity(ctx context.Context, entityID string, q models.Query) ([]*models.IndexRecord, error) {
	return r.list(ctx, "entity_id", entityID, q)
}

func (r *PostgresIndex) ListByAuthor(ctx context.Context, author string, q models.Query) ([]*models.IndexRecord, error) {
	return r.list(ctx, "author", author, q)
}

// list runs a range scan on one of the two indexed columns. column is never
// caller-controlled.
func (r *PostgresIndex) list(ctx context.Context, column, value string, q models.Query) ([]*models.IndexRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := `
		SELECT event_id, entity_type, entity_id, operation, s3_key, author, ts
		FROM audit_events
		WHERE ` + column + ` = $1
		  AND ($2::bigint = 0 OR ts >= $2)
		  AND ($3::bigint = 0 OR ts <= $3)
		ORDER BY ts ASC, event_id ASC
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, value, q.From, q.To, q.EffectiveLimit())
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", classifyPgError(err))
	}
	defer rows.Close()

	out := make([]*models.IndexRecord, 0)
	for rows.Next() {
		var rec models.IndexRecord
		if err := rows.Scan(
			&rec.EventID, &rec.EntityType, &rec.EntityID, &rec.Operation, &rec.S3Key, &rec.Author, &rec.TS,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", classifyPgError(err))
	}
	return out, nil
}

// classifyPgError maps driver errors onto the store taxonomy.
// Class 23 is integrity constraint violation, 42501 is insufficient privilege
// and 28xxx is invalid authorization.
func classifyPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "23":
			return fmt.Errorf("%w: %s", models.ErrConstraintViolation, pgErr.Message)
		case pgErr.Code == "42501", len(pgErr.Code) == 5 && pgErr.Code[:2] == "28":
			return fmt.Errorf("%w: %s", models.ErrPermissionDenied, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}
