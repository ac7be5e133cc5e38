package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/camden-git/framearchive/database"
	"github.com/camden-git/framearchive/logging"
	"github.com/camden-git/framearchive/services"
)

// APIErrorDetail represents a single error in the standardized error response.
type APIErrorDetail struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// APIErrorResponse represents the standardized error response body.
type APIErrorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}

// WriteAPIError writes a standardized error response with the given HTTP status, code, and detail.
func WriteAPIError(w http.ResponseWriter, httpStatus int, code string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)

	resp := APIErrorResponse{
		Errors: []APIErrorDetail{
			{
				Code:   code,
				Status: strconv.Itoa(httpStatus),
				Detail: detail,
			},
		},
	}

	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.Error().Err(err).Msg("error encoding JSON response")
		}
	}
}

// writeServiceError maps an error class onto a response.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case services.ErrNotFound.Has(err), errors.Is(err, gorm.ErrRecordNotFound):
		WriteAPIError(w, http.StatusNotFound, "not_found", "Not found.")
	case database.ErrInvalidFilter.Has(err):
		WriteAPIError(w, http.StatusBadRequest, "invalid_query", err.Error())
	case services.ErrMalformed.Has(err):
		WriteAPIError(w, http.StatusUnprocessableEntity, "malformed_frame", err.Error())
	case services.ErrUnauthorized.Has(err):
		WriteAPIError(w, http.StatusUnauthorized, "not_authenticated", err.Error())
	case services.ErrAuthUnavailable.Has(err):
		WriteAPIError(w, http.StatusServiceUnavailable, "auth_unavailable", "Authentication service unavailable.")
	default:
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		WriteAPIError(w, http.StatusInternalServerError, "internal_error", "An internal error occurred.")
	}
}
