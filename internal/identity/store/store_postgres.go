package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"aeroinsight/internal/identity/models"
	"aeroinsight/internal/platform/config"
	"aeroinsight/pkg/platform/sentinel"
)

// PostgresStore reads profiles from the profiles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres wraps db.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByUID(ctx context.Context, uid string) (*models.Profile, error) {
	const query = `SELECT uid, email, name, role FROM profiles WHERE uid = $1`
	var (
		p    models.Profile
		role string
	)
	err := s.db.QueryRowContext(ctx, query, uid).Scan(&p.UID, &p.Email, &p.Name, &role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	p.Role = models.Role(role)
	return &p, nil
}

// Seed upserts the configured profiles. Provisioning normally happens out of
// band; this keeps development databases usable without manual SQL.
func (s *PostgresStore) Seed(ctx context.Context, seeds []config.ProfileSeed) error {
	const query = `
		INSERT INTO profiles (uid, email, name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name, role = EXCLUDED.role
	`
	for _, seed := range seeds {
		p := profileFromSeed(seed)
		if _, err := s.db.ExecContext(ctx, query, p.UID, p.Email, p.Name, string(p.Role)); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.UID, err)
		}
	}
	return nil
}
