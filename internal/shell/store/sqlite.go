package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Environment Operations
// =============================================================================

// environmentRow represents an environment row in the database.
type environmentRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Source      string `db:"source"`
	CreatedAt   string `db:"created_at"`
	UpdatedAt   string `db:"updated_at"`
}

func (s *SQLiteStore) CreateEnvironment(ctx context.Context, env *EnvironmentRecord) error {
	return createEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) GetEnvironment(ctx context.Context, id string) (*EnvironmentRecord, error) {
	return getEnvironment(ctx, s.db, id)
}

func (s *SQLiteStore) GetEnvironmentByName(ctx context.Context, name string) (*EnvironmentRecord, error) {
	return getEnvironmentByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateEnvironment(ctx context.Context, env *EnvironmentRecord) error {
	return updateEnvironment(ctx, s.db, env)
}

func (s *SQLiteStore) DeleteEnvironment(ctx context.Context, id string) error {
	return deleteEnvironment(ctx, s.db, id)
}

func (s *SQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]EnvironmentRecord, error) {
	return listEnvironments(ctx, s.db, opts)
}

// =============================================================================
// Render Operations
// =============================================================================

// renderRow represents a render row in the database.
type renderRow struct {
	ID            string  `db:"id"`
	EnvironmentID string  `db:"environment_id"`
	Profiles      *string `db:"profiles"`
	Variables     *string `db:"variables"`
	Output        string  `db:"output"`
	CreatedAt     string  `db:"created_at"`
}

func (s *SQLiteStore) CreateRender(ctx context.Context, render *RenderRecord) error {
	return createRender(ctx, s.db, render)
}

func (s *SQLiteStore) GetRender(ctx context.Context, id string) (*RenderRecord, error) {
	return getRender(ctx, s.db, id)
}

func (s *SQLiteStore) ListRendersByEnvironment(ctx context.Context, environmentID string, opts ListOptions) ([]RenderRecord, error) {
	return listRendersByEnvironment(ctx, s.db, environmentID, opts)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateEnvironment(ctx context.Context, env *EnvironmentRecord) error {
	return createEnvironment(ctx, s.tx, env)
}

func (s *txSQLiteStore) GetEnvironment(ctx context.Context, id string) (*EnvironmentRecord, error) {
	return getEnvironment(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetEnvironmentByName(ctx context.Context, name string) (*EnvironmentRecord, error) {
	return getEnvironmentByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateEnvironment(ctx context.Context, env *EnvironmentRecord) error {
	return updateEnvironment(ctx, s.tx, env)
}

func (s *txSQLiteStore) DeleteEnvironment(ctx context.Context, id string) error {
	return deleteEnvironment(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListEnvironments(ctx context.Context, opts ListOptions) ([]EnvironmentRecord, error) {
	return listEnvironments(ctx, s.tx, opts)
}

func (s *txSQLiteStore) CreateRender(ctx context.Context, render *RenderRecord) error {
	return createRender(ctx, s.tx, render)
}

func (s *txSQLiteStore) GetRender(ctx context.Context, id string) (*RenderRecord, error) {
	return getRender(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListRendersByEnvironment(ctx context.Context, environmentID string, opts ListOptions) ([]RenderRecord, error) {
	return listRendersByEnvironment(ctx, s.tx, environmentID, opts)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createEnvironment(ctx context.Context, exec executor, env *EnvironmentRecord) error {
	query := `
		INSERT INTO environments (
			id, name, description, source, created_at, updated_at
		) VALUES (
			:id, :name, :description, :source, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":          env.ID,
		"name":        env.Name,
		"description": env.Description,
		"source":      env.Source,
		"created_at":  env.CreatedAt.Format(time.RFC3339),
		"updated_at":  env.UpdatedAt.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: environments.id") {
			return NewStoreError("CreateEnvironment", "environment", env.ID, "environment with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: environments.name") {
			return NewStoreError("CreateEnvironment", "environment", env.ID, "environment with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateEnvironment", "environment", env.ID, err.Error(), err)
	}

	return nil
}

func getEnvironment(ctx context.Context, exec executor, id string) (*EnvironmentRecord, error) {
	query := `SELECT * FROM environments WHERE id = ?`

	var row environmentRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetEnvironment", "environment", id, "environment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetEnvironment", "environment", id, err.Error(), err)
	}

	return rowToEnvironment(&row), nil
}

func getEnvironmentByName(ctx context.Context, exec executor, name string) (*EnvironmentRecord, error) {
	query := `SELECT * FROM environments WHERE name = ?`

	var row environmentRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetEnvironmentByName", "environment", name, "environment not found", ErrNotFound)
		}
		return nil, NewStoreError("GetEnvironmentByName", "environment", name, err.Error(), err)
	}

	return rowToEnvironment(&row), nil
}

func updateEnvironment(ctx context.Context, exec executor, env *EnvironmentRecord) error {
	query := `
		UPDATE environments SET
			name = :name,
			description = :description,
			source = :source,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":          env.ID,
		"name":        env.Name,
		"description": env.Description,
		"source":      env.Source,
		"updated_at":  env.UpdatedAt.Format(time.RFC3339),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: environments.name") {
			return NewStoreError("UpdateEnvironment", "environment", env.ID, "environment with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("UpdateEnvironment", "environment", env.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateEnvironment", "environment", env.ID, "environment not found", ErrNotFound)
	}

	return nil
}

func deleteEnvironment(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM environments WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteEnvironment", "environment", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteEnvironment", "environment", id, "environment not found", ErrNotFound)
	}

	return nil
}

func listEnvironments(ctx context.Context, exec executor, opts ListOptions) ([]EnvironmentRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM environments ORDER BY name LIMIT ? OFFSET ?`

	var rows []environmentRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListEnvironments", "environment", "", err.Error(), err)
	}

	envs := make([]EnvironmentRecord, 0, len(rows))
	for _, row := range rows {
		envs = append(envs, *rowToEnvironment(&row))
	}

	return envs, nil
}

func createRender(ctx context.Context, exec executor, render *RenderRecord) error {
	profilesJSON, err := json.Marshal(render.Profiles)
	if err != nil {
		return NewStoreError("CreateRender", "render", render.ID, "failed to serialize profiles", ErrInvalidData)
	}
	variablesJSON, err := json.Marshal(render.Variables)
	if err != nil {
		return NewStoreError("CreateRender", "render", render.ID, "failed to serialize variables", ErrInvalidData)
	}

	query := `
		INSERT INTO renders (
			id, environment_id, profiles, variables, output, created_at
		) VALUES (
			:id, :environment_id, :profiles, :variables, :output, :created_at
		)`

	row := map[string]any{
		"id":             render.ID,
		"environment_id": render.EnvironmentID,
		"profiles":       string(profilesJSON),
		"variables":      string(variablesJSON),
		"output":         render.Output,
		"created_at":     render.CreatedAt.Format(time.RFC3339),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: renders.id") {
			return NewStoreError("CreateRender", "render", render.ID, "render with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateRender", "render", render.ID, "environment not found", ErrForeignKey)
		}
		return NewStoreError("CreateRender", "render", render.ID, err.Error(), err)
	}

	return nil
}

func getRender(ctx context.Context, exec executor, id string) (*RenderRecord, error) {
	query := `SELECT * FROM renders WHERE id = ?`

	var row renderRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRender", "render", id, "render not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRender", "render", id, err.Error(), err)
	}

	return rowToRender(&row)
}

func listRendersByEnvironment(ctx context.Context, exec executor, environmentID string, opts ListOptions) ([]RenderRecord, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM renders WHERE environment_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []renderRow
	err := exec.SelectContext(ctx, &rows, query, environmentID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRendersByEnvironment", "render", "", err.Error(), err)
	}

	renders := make([]RenderRecord, 0, len(rows))
	for _, row := range rows {
		render, err := rowToRender(&row)
		if err != nil {
			return nil, err
		}
		renders = append(renders, *render)
	}

	return renders, nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

func rowToEnvironment(row *environmentRow) *EnvironmentRecord {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	return &EnvironmentRecord{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Source:      row.Source,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

func rowToRender(row *renderRow) (*RenderRecord, error) {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)

	var profiles []string
	if row.Profiles != nil && *row.Profiles != "" && *row.Profiles != "null" {
		if err := json.Unmarshal([]byte(*row.Profiles), &profiles); err != nil {
			return nil, NewStoreError("rowToRender", "render", row.ID, "failed to parse profiles", ErrInvalidData)
		}
	}

	var variables map[string]string
	if row.Variables != nil && *row.Variables != "" && *row.Variables != "null" {
		if err := json.Unmarshal([]byte(*row.Variables), &variables); err != nil {
			return nil, NewStoreError("rowToRender", "render", row.ID, "failed to parse variables", ErrInvalidData)
		}
	}

	return &RenderRecord{
		ID:            row.ID,
		EnvironmentID: row.EnvironmentID,
		Profiles:      profiles,
		Variables:     variables,
		Output:        row.Output,
		CreatedAt:     createdAt,
	}, nil
}
