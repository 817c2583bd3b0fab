// Package file persists the profile as a single pretty-printed JSON file.
//
// ATOMIC REPLACE:
// Writing straight over the target with os.WriteFile truncates it first, so a
// crash half-way through leaves a broken file behind. Instead we write the new
// contents to a temporary file in the same directory, fsync it, and rename it
// over the target. A rename within one directory is atomic on POSIX
// filesystems: readers (and the next process start) see either the old file
// or the new one, never a mix.
//
// WHY AFERO?
// All file access goes through an afero.Fs instead of the os package. In
// production that is afero.NewOsFs(); in tests it is an in-memory filesystem,
// or a read-only wrapper that makes every write fail, which is how the store's
// storage-failure paths are exercised without touching chmod.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"
	"github.com/spf13/afero"

	"github.com/sakif/profile-server/internal/model"
	"github.com/sakif/profile-server/internal/repository"
)

// compile-time check that *Persister implements repository.ProfilePersister
var _ repository.ProfilePersister = (*Persister)(nil)

const (
	filePerm = 0o644
	dirPerm  = 0o755

	osCreateExclusive = os.O_WRONLY | os.O_CREATE | os.O_EXCL
)

// Persister stores one profile in one JSON file.
// It holds no lock of its own: the store serialises every call.
type Persister struct {
	fs   afero.Fs
	path string
}

// New returns a Persister for path on the real filesystem.
func New(path string) *Persister {
	return NewWithFs(afero.NewOsFs(), path)
}

// NewWithFs returns a Persister that uses the given filesystem.
func NewWithFs(fsys afero.Fs, path string) *Persister {
	return &Persister{fs: fsys, path: path}
}

// Path returns the location of the backing file.
func (p *Persister) Path() string {
	return p.path
}

// Load reads and decodes the backing file.
// A missing file is not an error: it means no profile has been saved yet.
func (p *Persister) Load(_ context.Context) (*model.Profile, error) {
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("file: reading %s: %w", p.path, err)
	}

	var profile model.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("file: decoding %s: %w: %v", p.path, repository.ErrCorrupt, err)
	}
	// "{}" and "null" decode without error but do not describe a profile.
	if profile.Handle == "" {
		return nil, fmt.Errorf("file: %s has no handle: %w", p.path, repository.ErrCorrupt)
	}

	return &profile, nil
}

// Save writes the profile to a temporary file and renames it over the target.
func (p *Persister) Save(_ context.Context, profile *model.Profile) (err error) {
	if profile == nil {
		return errors.New("file: cannot save a nil profile")
	}

	// MarshalIndent gives the same two-space, human-editable layout that
	// `jq .` would produce. Absent optional fields are dropped by omitempty.
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encoding profile: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := p.fs.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("file: creating directory %s: %w", dir, err)
	}

	// xid gives every write its own temp name, so a crashed write never
	// collides with the next one. The leading dot keeps it out of `ls`.
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(p.path), xid.New().String()))

	defer func() {
		if err == nil {
			return
		}
		if rmErr := p.fs.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = multierror.Append(err, fmt.Errorf("file: removing temp file %s: %w", tmp, rmErr))
		}
	}()

	if err := p.writeTemp(tmp, data); err != nil {
		return err
	}

	if err := p.fs.Rename(tmp, p.path); err != nil {
		return fmt.Errorf("file: replacing %s: %w", p.path, err)
	}

	return nil
}

// writeTemp creates tmp exclusively, writes data and flushes it to disk.
func (p *Persister) writeTemp(tmp string, data []byte) (err error) {
	f, err := p.fs.OpenFile(tmp, osCreateExclusive, filePerm)
	if err != nil {
		return fmt.Errorf("file: creating temp file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			err = multierror.Append(err, fmt.Errorf("file: closing temp file: %w", closeErr))
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("file: writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("file: syncing temp file: %w", err)
	}
	return nil
}

// Remove deletes the backing file. A file that is already gone is fine.
func (p *Persister) Remove(_ context.Context) error {
	if err := p.fs.Remove(p.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: removing %s: %w", p.path, err)
	}
	return nil
}

// Close is a no-op; the persister keeps no file open between calls.
func (p *Persister) Close() error {
	return nil
}
