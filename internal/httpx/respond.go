package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sitelift/sitelift/internal/domain"
	"github.com/sitelift/sitelift/internal/preview"
	"github.com/sitelift/sitelift/internal/repository"
	"github.com/sitelift/sitelift/internal/service/job"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps service errors onto HTTP statuses. Sentinels carry
// resource semantics; classified errors carry caller-fault semantics.
func statusForError(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, preview.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, preview.ErrExpired):
		return http.StatusGone
	case errors.Is(err, job.ErrNotCompleted),
		errors.Is(err, job.ErrAlreadyDeployed),
		errors.Is(err, job.ErrNoArtifact),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	}
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindPathTraversal:
		return http.StatusBadRequest
	case domain.KindAuth:
		return http.StatusUnauthorized
	case domain.KindTransient:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}
