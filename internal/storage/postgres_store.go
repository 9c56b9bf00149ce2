package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/nearby/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	b, err := migrations.ReadFile("migrations/001_create_users.sql")
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply 001_create_users.sql: %w", err)
	}
	return nil
}

func (p *PostgresStore) Create(ctx context.Context, e models.Entity) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO users(id, name, lat, lng, created_at, updated_at) VALUES($1,$2,$3,$4,$5,$5)`,
		e.ID, e.Name, e.Lat, e.Lng, e.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrExists
	}
	return err
}

func (p *PostgresStore) UpdatePosition(ctx context.Context, id string, c models.Coord, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE users SET lat=$1, lng=$2, updated_at=$3 WHERE id=$4`, c.Lat, c.Lng, at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.Entity, error) {
	var e models.Entity
	err := p.db.QueryRowContext(ctx, `SELECT id, name, lat, lng, updated_at FROM users WHERE id=$1`, id).
		Scan(&e.ID, &e.Name, &e.Lat, &e.Lng, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entity{}, ErrNotFound
	}
	if err != nil {
		return models.Entity{}, err
	}
	return e, nil
}

func (p *PostgresStore) ListExcept(ctx context.Context, id string) ([]models.Entity, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, name, lat, lng, updated_at FROM users WHERE id <> $1 ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		var e models.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Lat, &e.Lng, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
