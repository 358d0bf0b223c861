package utils

import (
	"encoding/json"
	"net/http"
	"strings"
)

// WriteJSONResponse writes data as a JSON body. Marshal runs before any
// header is committed, so an encoding failure still produces a clean 500.
func WriteJSONResponse(w http.ResponseWriter, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(body)
	return err
}

// WriteJSONError writes the platform's JSON error envelope with the given
// status code.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message}) //nolint:errcheck
}

// ParseBool interprets common boolean strings, returning true for typical
// truthy values.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}
