package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Actor is recorded in audit entries. Defaults to "catalog".
	Actor string
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Actor == "" {
		cfg.Actor = "catalog"
	}
	// Every connection to :memory: opens a distinct database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{config: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)", "synchronous(NORMAL)"}
	if s.config.Path != MemoryPath {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	dsn := s.config.Path + "?_txlock=immediate&_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveSchema inserts a schema or replaces the documents of the schema with
// the same name. On return record carries the stored ID and creation time.
func (s *SQLiteStore) SaveSchema(ctx context.Context, record *SchemaRecord) error {
	query := `
		INSERT INTO schemas (id, name, format, documents, hash, type_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			format = excluded.format,
			documents = excluded.documents,
			hash = excluded.hash,
			type_count = excluded.type_count,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Name,
		record.Format,
		record.Documents,
		record.Hash,
		record.TypeCount,
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save schema: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT id, created_at FROM schemas WHERE name = ?`, record.Name).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read saved schema: %w", err)
	}

	s.audit(ctx, AuditSchemaSaved, record.Name, record.Hash)
	return nil
}

// GetSchema retrieves a schema by name
func (s *SQLiteStore) GetSchema(ctx context.Context, name string) (*SchemaRecord, error) {
	query := `
		SELECT id, name, format, documents, hash, type_count, created_at, updated_at
		FROM schemas
		WHERE name = ?
	`

	record := &SchemaRecord{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&record.ID,
		&record.Name,
		&record.Format,
		&record.Documents,
		&record.Hash,
		&record.TypeCount,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schema %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schema: %w", err)
	}

	return record, nil
}

// ListSchemas lists all schemas ordered by name. Documents are not loaded.
func (s *SQLiteStore) ListSchemas(ctx context.Context) ([]*SchemaRecord, error) {
	query := `
		SELECT id, name, format, hash, type_count, created_at, updated_at
		FROM schemas
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	defer rows.Close()

	records := []*SchemaRecord{}
	for rows.Next() {
		record := &SchemaRecord{}
		err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Format,
			&record.Hash,
			&record.TypeCount,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schemas: %w", err)
	}

	return records, nil
}

// DeleteSchema deletes a schema by name. Datasets bound to it are kept and unbound.
func (s *SQLiteStore) DeleteSchema(ctx context.Context, name string) error {
	if err := s.deleteByName(ctx, "schemas", name); err != nil {
		return err
	}
	s.audit(ctx, AuditSchemaDeleted, name, "")
	return nil
}

// SaveDataset inserts a dataset or replaces every fact of the dataset with
// the same name, in one transaction.
func (s *SQLiteStore) SaveDataset(ctx context.Context, record *DatasetRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (id, name, description, schema_name, fact_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			schema_name = excluded.schema_name,
			fact_count = excluded.fact_count,
			updated_at = excluded.updated_at
	`,
		record.ID,
		record.Name,
		record.Description,
		record.SchemaName,
		len(record.Facts),
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save dataset: %w", err)
	}

	err = tx.QueryRowContext(ctx, `SELECT id, created_at FROM datasets WHERE name = ?`, record.Name).
		Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to read saved dataset: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM dataset_facts WHERE dataset_id = ?`, record.ID); err != nil {
		return fmt.Errorf("failed to clear dataset facts: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dataset_facts (dataset_id, position, type_name, value, source_kind, source_id, source_detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare fact insert: %w", err)
	}
	defer stmt.Close()

	for i, fact := range record.Facts {
		fact.DatasetID = record.ID
		fact.Position = i
		result, err := stmt.ExecContext(ctx,
			fact.DatasetID,
			fact.Position,
			fact.TypeName,
			fact.Value,
			fact.SourceKind,
			fact.SourceID,
			fact.SourceDetail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert fact %d: %w", i, err)
		}
		if fact.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get fact ID: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit dataset: %w", err)
	}
	record.FactCount = len(record.Facts)

	s.audit(ctx, AuditDatasetSaved, record.Name, fmt.Sprintf(`{"facts":%d}`, record.FactCount))
	return nil
}

// GetDataset retrieves a dataset and its facts by name
func (s *SQLiteStore) GetDataset(ctx context.Context, name string) (*DatasetRecord, error) {
	query := `
		SELECT id, name, description, schema_name, fact_count, created_at, updated_at
		FROM datasets
		WHERE name = ?
	`

	record := &DatasetRecord{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&record.ID,
		&record.Name,
		&record.Description,
		&record.SchemaName,
		&record.FactCount,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, position, type_name, value, source_kind, source_id, source_detail
		FROM dataset_facts
		WHERE dataset_id = ?
		ORDER BY position ASC
	`, record.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list dataset facts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		fact := &FactRecord{}
		err := rows.Scan(
			&fact.ID,
			&fact.DatasetID,
			&fact.Position,
			&fact.TypeName,
			&fact.Value,
			&fact.SourceKind,
			&fact.SourceID,
			&fact.SourceDetail,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fact: %w", err)
		}
		record.Facts = append(record.Facts, fact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}

	return record, nil
}

// ListDatasets lists datasets with pagination. Facts are not loaded.
func (s *SQLiteStore) ListDatasets(ctx context.Context, limit, offset int) ([]*DatasetRecord, error) {
	query := `
		SELECT id, name, description, schema_name, fact_count, created_at, updated_at
		FROM datasets
		ORDER BY name ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	records := []*DatasetRecord{}
	for rows.Next() {
		record := &DatasetRecord{}
		err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Description,
			&record.SchemaName,
			&record.FactCount,
			&record.CreatedAt,
			&record.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating datasets: %w", err)
	}

	return records, nil
}

// DeleteDataset deletes a dataset and its facts by name
func (s *SQLiteStore) DeleteDataset(ctx context.Context, name string) error {
	if err := s.deleteByName(ctx, "datasets", name); err != nil {
		return err
	}
	s.audit(ctx, AuditDatasetDeleted, name, "")
	return nil
}

func (s *SQLiteStore) deleteByName(ctx context.Context, table, name string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %s: %w", strings.TrimSuffix(table, "s"), name, ErrNotFound)
	}

	return nil
}

// audit records a mutation. Audit failures do not fail the mutation.
func (s *SQLiteStore) audit(ctx context.Context, action, target, details string) {
	entry := &AuditEntry{
		Action:    action,
		Actor:     s.config.Actor,
		TargetID:  &target,
		Timestamp: time.Now().UTC(),
	}
	if details != "" {
		entry.Details = &details
	}
	_ = s.CreateAuditEntry(ctx, entry)
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, with an optional action filter
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
