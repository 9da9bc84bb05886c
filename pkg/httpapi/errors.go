package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/cuemby/nimbus/pkg/log"
)

// errorBody is the shape every non-2xx response carries (spec.md §6).
type errorBody struct {
	Description string   `json:"description"`
	Errors      []string `json:"errors,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponent("httpapi").Error().Err(err).Msg("failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, description string, errs ...string) {
	writeJSON(w, status, errorBody{Description: description, Errors: errs})
}

func writeSchemaError(w http.ResponseWriter, details []string) {
	writeError(w, http.StatusBadRequest, "The provided JSON doesn't match the required schema.", details...)
}

func writeConflict(w http.ResponseWriter, description string) {
	writeError(w, http.StatusConflict, description)
}

func writeNotFound(w http.ResponseWriter, description string) {
	writeError(w, http.StatusNotFound, description)
}

func writeInternalError(w http.ResponseWriter, op string, err error) {
	log.WithComponent("httpapi").Error().Err(err).Str("operation", op).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "An internal error occurred while processing the request.")
}
