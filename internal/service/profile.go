// Package service contains the business logic layer of the application.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (Business layer) → validates, enforces rules, orchestrates
//	Store   (Data layer)     → holds the profile, persists it
//
// Handlers only know about HTTP (status codes, headers, JSON). The service
// only knows about business rules. Neither knows whether the profile ends up
// in a JSON file or a SQLite database.
//
// DEPENDENCY INJECTION:
// ProfileService takes a ProfileStore (interface), NOT a *store.Store.
// Tests pass a fake; production passes the real store.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sakif/profile-server/internal/apperror"
	"github.com/sakif/profile-server/internal/model"
)

// Validation constants.
const (
	MaxHandleLength = 64
	MaxFieldLength  = 256
)

// ProfileStore is the subset of *store.Store the service needs.
type ProfileStore interface {
	Get() (model.Profile, bool)
	Put(ctx context.Context, p model.Profile) error
	Delete(ctx context.Context) error
}

// ProfileService handles business logic for the profile.
type ProfileService struct {
	store  ProfileStore
	logger *slog.Logger
}

// NewProfileService creates a new ProfileService.
func NewProfileService(store ProfileStore, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		store:  store,
		logger: logger,
	}
}

// Get returns the current profile.
// Returns apperror.ErrNotFound if none has been stored.
func (s *ProfileService) Get(_ context.Context) (*model.Profile, error) {
	p, ok := s.store.Get()
	if !ok {
		return nil, apperror.NotFound("profile")
	}
	return &p, nil
}

// Save validates p and stores it, replacing any existing profile wholesale.
// It returns the value that was stored (after trimming).
//
// There is no "create only" or "update only" variant: the HTTP layer picks
// 201 or 200 from the verb, but both verbs mean "make this the profile".
func (s *ProfileService) Save(ctx context.Context, p model.Profile) (*model.Profile, error) {
	p = normalize(p)
	if err := validate(p); err != nil {
		return nil, err
	}

	if err := s.store.Put(ctx, p); err != nil {
		return nil, fmt.Errorf("saving profile: %w", err)
	}

	s.logger.Debug("profile saved", slog.String("handle", p.Handle))
	return &p, nil
}

// Delete removes the profile. Deleting an absent profile succeeds.
func (s *ProfileService) Delete(ctx context.Context) error {
	if err := s.store.Delete(ctx); err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	return nil
}

// normalize trims surrounding whitespace from every field.
// "  " becomes "", which means the optional field is absent.
func normalize(p model.Profile) model.Profile {
	return model.Profile{
		Handle:      strings.TrimSpace(p.Handle),
		FirstName:   strings.TrimSpace(p.FirstName),
		LastName:    strings.TrimSpace(p.LastName),
		CompanyName: strings.TrimSpace(p.CompanyName),
		Website:     strings.TrimSpace(p.Website),
		ImageURL:    strings.TrimSpace(p.ImageURL),
	}
}

func validate(p model.Profile) error {
	if p.Handle == "" {
		return apperror.ValidationFailed("handle", "handle is required")
	}
	if utf8.RuneCountInString(p.Handle) > MaxHandleLength {
		return apperror.ValidationFailed("handle",
			fmt.Sprintf("handle must be %d characters or less", MaxHandleLength))
	}

	text := []struct {
		field, value string
	}{
		{"first_name", p.FirstName},
		{"last_name", p.LastName},
		{"company_name", p.CompanyName},
		{"website", p.Website},
		{"image_url", p.ImageURL},
	}
	for _, f := range text {
		if utf8.RuneCountInString(f.value) > MaxFieldLength {
			return apperror.ValidationFailed(f.field,
				fmt.Sprintf("%s must be %d characters or less", f.field, MaxFieldLength))
		}
	}

	for _, f := range []struct{ field, value string }{{"website", p.Website}, {"image_url", p.ImageURL}} {
		if f.value != "" && !isHTTPURL(f.value) {
			return apperror.ValidationFailed(f.field,
				fmt.Sprintf("%s must be an absolute http(s) URL", f.field))
		}
	}

	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
