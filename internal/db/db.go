package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xtrntr/rwaexchange/internal/models"
)

var ErrNotFound = fmt.Errorf("db: %w", models.ErrNotFound)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// Migrate executes a schema script
func (db *DB) Migrate(ctx context.Context, script string) error {
	if _, err := db.Pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (db *DB) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", fmt.Sprintf(format, args...), err)
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return nil, notFound(err, "user %q", username)
	}
	return user, nil
}

const assetColumns = "id, symbol, chain, status, vault_address"

func scanAsset(row pgx.Row) (*models.Asset, error) {
	var (
		a      models.Asset
		status string
	)
	if err := row.Scan(&a.ID, &a.Symbol, &a.Chain, &status, &a.VaultAddress); err != nil {
		return nil, err
	}
	a.Status = models.AssetStatus(status)
	switch a.Status {
	case models.AssetActive, models.AssetHalted, models.AssetDelisted:
	default:
		return nil, fmt.Errorf("%w: asset status %q", models.ErrUnknownStatus, status)
	}
	return &a, nil
}

// CreateAsset lists a new asset
func (db *DB) CreateAsset(ctx context.Context, a models.Asset) (*models.Asset, error) {
	if a.Status == "" {
		a.Status = models.AssetActive
	}
	created, err := scanAsset(db.Pool.QueryRow(ctx,
		"INSERT INTO assets (symbol, chain, status, vault_address) VALUES ($1, $2, $3, $4) RETURNING "+assetColumns,
		a.Symbol, a.Chain, string(a.Status), a.VaultAddress))
	if err != nil {
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}
	return created, nil
}

// GetAsset retrieves an asset by id
func (db *DB) GetAsset(ctx context.Context, id int64) (*models.Asset, error) {
	a, err := scanAsset(db.Pool.QueryRow(ctx, "SELECT "+assetColumns+" FROM assets WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err, "asset %d", id)
	}
	return a, nil
}

// SetAssetStatus halts, resumes or delists an asset
func (db *DB) SetAssetStatus(ctx context.Context, id int64, status models.AssetStatus) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE assets SET status = $1 WHERE id = $2", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update asset status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("asset %d: %w", id, ErrNotFound)
	}
	return nil
}

// ListAssets returns every listed asset
func (db *DB) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+assetColumns+" FROM assets ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
