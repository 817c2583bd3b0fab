// Package repository defines the persistence contract behind the profile store.
//
// The store keeps the authoritative in-memory copy of the profile; a
// ProfilePersister is only responsible for making that copy durable. Two
// implementations exist: repository/file (the default, one JSON file) and
// repository/sqlite (one row in a SQLite database).
package repository

import (
	"context"
	"errors"

	"github.com/sakif/profile-server/internal/model"
)

// ErrCorrupt is wrapped by Load when a persisted profile exists but cannot
// be decoded.
var ErrCorrupt = errors.New("persisted profile is corrupt")

type ProfilePersister interface {
	// Load returns the persisted profile, or (nil, nil) if none has been saved.
	Load(ctx context.Context) (*model.Profile, error)
	// Save durably replaces the persisted profile.
	Save(ctx context.Context, profile *model.Profile) error
	// Remove deletes the persisted profile. Removing nothing is not an error.
	Remove(ctx context.Context) error
	// Close releases any resources held by the persister.
	Close() error
}
