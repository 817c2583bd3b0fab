package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sakif/profile-server/internal/model"
	"github.com/sakif/profile-server/internal/repository"
)

// compile-time check that *DB implements repository.ProfilePersister
var _ repository.ProfilePersister = (*DB)(nil)

// Load returns the stored profile, or (nil, nil) when the table is empty.
func (db *DB) Load(ctx context.Context) (*model.Profile, error) {
	var p model.Profile

	err := db.conn.QueryRowContext(ctx,
		`SELECT handle, first_name, last_name, company_name, website, image_url
		 FROM profile WHERE id = 1`,
	).Scan(
		&p.Handle,
		&p.FirstName,
		&p.LastName,
		&p.CompanyName,
		&p.Website,
		&p.ImageURL,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: loading profile: %w", err)
	}

	if p.Handle == "" {
		return nil, fmt.Errorf("sqlite: stored profile has no handle: %w", repository.ErrCorrupt)
	}

	return &p, nil
}

// Save upserts row 1.
//
// INSERT ... ON CONFLICT DO UPDATE replaces every column, so no value from
// a previous save can survive into the new one.
func (db *DB) Save(ctx context.Context, p *model.Profile) error {
	if p == nil {
		return errors.New("sqlite: cannot save a nil profile")
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profile (id, handle, first_name, last_name, company_name, website, image_url, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			handle       = excluded.handle,
			first_name   = excluded.first_name,
			last_name    = excluded.last_name,
			company_name = excluded.company_name,
			website      = excluded.website,
			image_url    = excluded.image_url,
			updated_at   = excluded.updated_at`,
		p.Handle,
		p.FirstName,
		p.LastName,
		p.CompanyName,
		p.Website,
		p.ImageURL,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: saving profile %q: %w", p.Handle, err)
	}
	return nil
}

// Remove deletes row 1. Deleting from an empty table is not an error.
func (db *DB) Remove(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM profile WHERE id = 1`); err != nil {
		return fmt.Errorf("sqlite: removing profile: %w", err)
	}
	return nil
}
