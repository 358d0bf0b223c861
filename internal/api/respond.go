package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// writeError maps a component error to its HTTP status and emits the JSON
// error body. Server faults are logged; client faults only reach Debug.
func writeError(w http.ResponseWriter, op string, err error) {
	status := verrors.HTTPStatus(err)
	if status >= 500 {
		log.Error().Err(err).Str("op", op).Msg("Request failed")
	} else {
		log.Debug().Err(err).Str("op", op).Int("status", status).Msg("Request rejected")
	}
	utils.WriteJSONError(w, status, err.Error())
}

// queryInt64 reads an int64 query parameter. Returns ok=false when absent.
func queryInt64(r *http.Request, name string) (int64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// queryInt reads an int query parameter, falling back to def when absent
// or unparsable.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	return def
}

// queryTime reads an RFC3339 query parameter. Returns the zero time when
// absent.
func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// queryFloat reads a float64 query parameter. Returns ok=false when absent.
func queryFloat(r *http.Request, name string) (float64, bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}
