// Package postgres implements the record store over PostgreSQL, one JSONB
// document per record. The increment operator maps to a single UPDATE
// statement, which is what gives it per-document atomicity.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"vaultchat/internal/config"
	"vaultchat/internal/logger"
	"vaultchat/internal/store"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// Ensure PostgresStore implements the store interface
var _ store.Store = (*PostgresStore)(nil)

// collections whitelists the tables the generic operations may touch.
var collections = map[string]bool{
	store.CollectionUsers:    true,
	store.CollectionChats:    true,
	store.CollectionMessages: true,
}

// PostgresStore implements store.Store.
type PostgresStore struct {
	conn *sql.DB
}

// NewPostgresStore opens a connection and applies migrations.
func NewPostgresStore(dbConfig config.DatabaseConfig) (*PostgresStore, error) {
	conn, err := sql.Open("postgres", dbConfig.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err = conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	logger.Log.Info("Connected to PostgreSQL record store")

	s := &PostgresStore{conn: conn}
	if err = s.runMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *PostgresStore) runMigrations() error {
	driver, err := migratepg.WithInstance(p.conn, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("error creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("error creating migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("error running migrations: %w", err)
	}

	logger.Log.Info("Database migrations applied successfully")
	return nil
}

func tableFor(collection string) (string, error) {
	if !collections[collection] {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return collection, nil
}

// Find returns the records matching the filter by JSON containment.
func (p *PostgresStore) Find(ctx context.Context, collection string, filter store.Filter) ([]store.Record, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("error encoding filter: %w", err)
	}

	query := fmt.Sprintf(`SELECT doc FROM %s WHERE doc @> $1`, table)
	rows, err := p.conn.QueryContext(ctx, query, filterJSON)
	if err != nil {
		return nil, fmt.Errorf("error querying %s: %w", collection, err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("error scanning record: %w", err)
		}
		var record store.Record
		if err := json.Unmarshal(doc, &record); err != nil {
			return nil, fmt.Errorf("error decoding record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Write inserts a record. Writes that collide on a unique index are dropped
// silently: records are immutable, so a duplicate write carries no new data.
func (p *PostgresStore) Write(ctx context.Context, collection string, record store.Record) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	id, _ := record["_id"].(string)
	if id == "" {
		id = uuid.New().String()
		record["_id"] = id
	}

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("error encoding record: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES ($1, $2) ON CONFLICT DO NOTHING`, table)
	if _, err := p.conn.ExecContext(ctx, query, id, doc); err != nil {
		return fmt.Errorf("error writing to %s: %w", collection, err)
	}
	return nil
}

// Update applies a patch to every record matching the filter. OpSet merges
// the patch into the document; OpInc adds the numeric patch values to the
// current fields in a single statement, so concurrent increments of the same
// document cannot lose updates.
func (p *PostgresStore) Update(ctx context.Context, collection string, filter store.Filter, patch store.Patch, op store.Operator) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("error encoding filter: %w", err)
	}

	switch op {
	case store.OpSet, "":
		patchJSON, err := json.Marshal(patch)
		if err != nil {
			return fmt.Errorf("error encoding patch: %w", err)
		}
		query := fmt.Sprintf(`UPDATE %s SET doc = doc || $1 WHERE doc @> $2`, table)
		if _, err := p.conn.ExecContext(ctx, query, patchJSON, filterJSON); err != nil {
			return fmt.Errorf("error updating %s: %w", collection, err)
		}
		return nil

	case store.OpInc:
		for field, value := range patch {
			n, ok := toInt64(value)
			if !ok {
				return fmt.Errorf("$inc patch field %q is not numeric", field)
			}
			path, docExpr := incTarget(field)
			query := fmt.Sprintf(
				`UPDATE %s SET doc = jsonb_set(%s, $1, to_jsonb(COALESCE((doc #>> $1)::bigint, 0) + $2), true) WHERE doc @> $3`,
				table, docExpr,
			)
			if _, err := p.conn.ExecContext(ctx, query, path, n, filterJSON); err != nil {
				return fmt.Errorf("error incrementing %s.%s: %w", collection, field, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported update operator %q", op)
	}
}

// Delete removes every record matching the filter.
func (p *PostgresStore) Delete(ctx context.Context, collection string, filter store.Filter) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return fmt.Errorf("error encoding filter: %w", err)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE doc @> $1`, table)
	if _, err := p.conn.ExecContext(ctx, query, filterJSON); err != nil {
		return fmt.Errorf("error deleting from %s: %w", collection, err)
	}
	return nil
}

// CollectionMetadata reports record count and latest activity.
func (p *PostgresStore) CollectionMetadata(ctx context.Context, collection string) (*store.CollectionMetadata, error) {
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(
		`SELECT COUNT(*), MAX(COALESCE((doc->>'updated_at')::timestamptz, (doc->>'created_at')::timestamptz)) FROM %s`,
		table,
	)

	meta := &store.CollectionMetadata{Collection: collection}
	var lastUpdated sql.NullTime
	if err := p.conn.QueryRowContext(ctx, query).Scan(&meta.Count, &lastUpdated); err != nil {
		return nil, fmt.Errorf("error reading %s metadata: %w", collection, err)
	}
	if lastUpdated.Valid {
		meta.LastUpdated = lastUpdated.Time
	}
	return meta, nil
}

// incTarget maps a dotted field to its jsonb path and the document expression
// the increment applies to. jsonb_set cannot create missing ancestors, so the
// expression seeds every absent parent object with {} before the increment;
// without that an increment on a nested counter would silently no-op.
func incTarget(field string) (path, docExpr string) {
	parts := strings.Split(field, ".")
	path = "{" + strings.Join(parts, ",") + "}"

	docExpr = "doc"
	for i := 1; i < len(parts); i++ {
		ancestor := "'{" + strings.Join(parts[:i], ",") + "}'"
		docExpr = fmt.Sprintf("jsonb_set(%s, %s, COALESCE(doc #> %s, '{}'::jsonb), true)", docExpr, ancestor, ancestor)
	}
	return path, docExpr
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
