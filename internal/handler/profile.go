// Package handler contains the HTTP handlers for the profile API.
//
// Handlers are the glue between HTTP and the service layer:
//  1. Parse the incoming request (body, headers)
//  2. Call the service
//  3. Translate the result into a status code and a JSON body
//
// They hold no state of their own and contain no business rules.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/sakif/profile-server/internal/apperror"
	"github.com/sakif/profile-server/internal/model"
	"github.com/sakif/profile-server/internal/service"
)

// MaxBodyBytes caps the size of a POST/PUT body. A profile is a handful of
// short strings; anything near this size is a mistake or an attack.
const MaxBodyBytes = 1 << 20

// ProfileHandler serves the single profile resource.
type ProfileHandler struct {
	svc    *service.ProfileService
	logger *slog.Logger
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(svc *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{
		svc:    svc,
		logger: logger,
	}
}

// HandleGet returns the stored profile.
//
// HTTP: GET /profile
// 200 with the profile, or 404 if none has been stored.
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.Get(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, profile)
}

// HandleCreate stores the request body as the profile.
//
// HTTP: POST /profile
// REQUEST BODY: {"handle": "ada", "first_name": "Ada", ...}
// 201 with the stored profile.
func (h *ProfileHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, http.StatusCreated)
}

// HandleUpdate replaces the profile with the request body.
//
// HTTP: PUT /profile
// 200 with the stored profile. Replacement is wholesale: fields left out of
// the body are cleared, not kept from the previous profile.
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, http.StatusOK)
}

func (h *ProfileHandler) save(w http.ResponseWriter, r *http.Request, status int) {
	profile, err := decodeProfile(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.logger.Warn("profile body too large", slog.Int64("limit", tooLarge.Limit))
			WriteError(w, apperror.TooLarge(tooLarge.Limit))
			return
		}
		h.logger.Warn("invalid profile JSON", slog.String("error", err.Error()))
		WriteError(w, apperror.ValidationFailed("body", "invalid JSON body"))
		return
	}

	stored, err := h.svc.Save(r.Context(), profile)
	if err != nil {
		WriteError(w, err)
		return
	}

	WriteJSON(w, status, stored)
}

// HandleDelete removes the profile.
//
// HTTP: DELETE /profile
// 200 with a confirmation message, also when no profile existed.
func (h *ProfileHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context()); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, MessageResponse{Message: "profile deleted"})
}

// HandleHealth reports that the process is up.
//
// HTTP: GET /healthz
func HandleHealth(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeProfile reads exactly one JSON object from the body.
//
// Unknown fields are ignored so older clients keep working if the profile
// grows, but trailing data after the object is rejected.
func decodeProfile(w http.ResponseWriter, r *http.Request) (model.Profile, error) {
	var profile model.Profile

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err := dec.Decode(&profile); err != nil {
		return model.Profile{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return model.Profile{}, err
		}
		return model.Profile{}, errors.New("request body must contain a single JSON object")
	}

	return profile, nil
}
