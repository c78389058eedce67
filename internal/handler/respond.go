package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/dukerupert/mise/internal/resilient"
)

const maxBodyBytes = 1 << 16

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// decode reads a JSON body of at most maxBodyBytes into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request.")
		return false
	}
	return true
}

// writeResult picks the status from the result's outcome. A degraded
// success is still 200.
func writeResult[T any](w http.ResponseWriter, res resilient.Result[T]) {
	status := http.StatusOK
	if !res.Success {
		switch res.Error {
		case resilient.ErrMsgNotFound:
			status = http.StatusNotFound
		case resilient.ErrMsgForbidden:
			status = http.StatusForbidden
		case resilient.ErrMsgUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, res)
}

func queryInt(r *http.Request, key string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return n
}

// locale prefers an explicit value, then the first Accept-Language tag.
func locale(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if l := r.URL.Query().Get("locale"); l != "" {
		return l
	}
	al := r.Header.Get("Accept-Language")
	for i, c := range al {
		if c == ',' || c == ';' {
			return al[:i]
		}
	}
	return al
}
