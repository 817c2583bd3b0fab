// Package store holds the one profile this server manages.
//
// CONCURRENCY MODEL:
// Every HTTP request runs on its own goroutine, so Get, Put and Delete can be
// called from many goroutines at once. A sync.RWMutex guards the value:
//
//   - Get takes the read lock. Any number of readers proceed together.
//   - Put and Delete take the write lock. A writer waits for readers to drain,
//     then runs alone; new readers queue behind it.
//
// The persister is called while the write lock is still held. That makes the
// lock cover "memory + disk" as one unit: mutations are totally ordered, the
// last writer to acquire the lock wins, and the file on disk always matches
// the value readers see once a mutation returns successfully. The cost is that
// a slow disk stalls every request, readers included.
//
// WRITE POLICIES:
// What happens when the disk write fails is chosen per store:
//
//	WriteThrough (default)  persist first, update memory only on success.
//	                        A failed call changes nothing.
//	Optimistic              update memory first, then persist. A failed call
//	                        leaves memory ahead of disk until the next
//	                        successful write or a restart.
//
// CANCELLATION:
// A mutation is never abandoned half-way. Once Put or Delete holds the lock,
// the persister runs with context.WithoutCancel(ctx): a client that hangs up
// mid-request still gets its write completed (or cleanly failed), and memory
// and disk stay in step under either policy.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sakif/profile-server/internal/apperror"
	"github.com/sakif/profile-server/internal/model"
	"github.com/sakif/profile-server/internal/repository"
)

// WritePolicy decides the order of the memory update and the disk write.
type WritePolicy int

const (
	// WriteThrough commits to disk before memory (fail-closed).
	WriteThrough WritePolicy = iota
	// Optimistic commits to memory before disk (fail-open).
	Optimistic
)

func (p WritePolicy) String() string {
	switch p {
	case WriteThrough:
		return "write-through"
	case Optimistic:
		return "optimistic"
	default:
		return fmt.Sprintf("WritePolicy(%d)", int(p))
	}
}

// ParseWritePolicy maps a config string to a WritePolicy.
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "", "write-through":
		return WriteThrough, nil
	case "optimistic":
		return Optimistic, nil
	default:
		return 0, fmt.Errorf("store: unknown write policy %q (want write-through or optimistic)", s)
	}
}

// Option configures a Store.
type Option func(*Store)

// WithWritePolicy overrides the default WriteThrough policy.
func WithWritePolicy(p WritePolicy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// Store owns the in-memory profile and its persister.
// Create one with New and share the pointer; never copy a Store.
type Store struct {
	mu        sync.RWMutex
	profile   *model.Profile // nil when absent
	persister repository.ProfilePersister
	policy    WritePolicy
	logger    *slog.Logger
}

// New builds a Store and loads any previously persisted profile.
//
// New never fails. A missing record starts the store empty. So does a
// corrupt or unreadable one, but that case is logged at WARN: the operator
// should know a saved profile was just ignored.
func New(ctx context.Context, persister repository.ProfilePersister, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		persister: persister,
		policy:    WriteThrough,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	profile, err := persister.Load(ctx)
	switch {
	case err != nil && errors.Is(err, repository.ErrCorrupt):
		logger.Warn("persisted profile is corrupt, starting empty",
			slog.String("error", err.Error()),
		)
	case err != nil:
		logger.Warn("could not read persisted profile, starting empty",
			slog.String("error", err.Error()),
		)
	case profile != nil:
		s.profile = profile
		logger.Info("loaded persisted profile", slog.String("handle", profile.Handle))
	default:
		logger.Info("no persisted profile, starting empty")
	}

	logger.Debug("store ready", slog.String("writePolicy", s.policy.String()))
	return s
}

// Get returns a copy of the current profile and whether one exists.
//
// Returning a value (not a pointer) means callers can't reach into the
// store's memory and modify it without holding the lock.
func (s *Store) Get() (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.profile == nil {
		return model.Profile{}, false
	}
	return *s.profile, true
}

// Put replaces the current profile with p, creating it if absent.
// On success the profile is both in memory and persisted.
func (s *Store) Put(ctx context.Context, p model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := &p

	if s.policy == Optimistic {
		s.profile = next
	}

	if err := s.persister.Save(context.WithoutCancel(ctx), next); err != nil {
		if s.policy == Optimistic {
			s.logger.Error("profile saved in memory but not persisted",
				slog.String("handle", p.Handle),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Error("failed to persist profile, keeping previous value",
				slog.String("handle", p.Handle),
				slog.String("error", err.Error()),
			)
		}
		return apperror.Storage("save profile", err)
	}

	s.profile = next
	s.logger.Info("profile stored", slog.String("handle", p.Handle))
	return nil
}

// Delete clears the profile and removes its persisted copy.
// Deleting when nothing is stored is not an error.
func (s *Store) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.policy == Optimistic {
		s.profile = nil
	}

	if err := s.persister.Remove(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("failed to remove persisted profile",
			slog.String("writePolicy", s.policy.String()),
			slog.String("error", err.Error()),
		)
		return apperror.Storage("delete profile", err)
	}

	s.profile = nil
	s.logger.Info("profile deleted")
	return nil
}

// Close releases the persister.
// The store must not be used afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.Close(); err != nil {
		return fmt.Errorf("store: closing persister: %w", err)
	}
	return nil
}
