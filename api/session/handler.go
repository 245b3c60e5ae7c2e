// Package session exposes the live session state and the journal over HTTP.
package session

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/driverlink/core/journal"
)

func authorized(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" {
		return true
	}
	if r.Header.Get("Authorization") != "Bearer "+token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewSnapshotHandler returns an HTTP handler serving GET /api/session.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func NewSnapshotHandler[T any](snapshot func(context.Context) T, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authorized(w, r, token) {
			return
		}
		writeJSON(w, snapshot(r.Context()))
	})
}

// NewJournalHandler returns an HTTP handler exposing journal records via GET /api/journal.
// Supported query parameters: start, end (RFC3339), kind, agent_id, ride_id, limit.
func NewJournalHandler(store journal.Store, token string, defaultLimit int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !authorized(w, r, token) {
			return
		}
		params := r.URL.Query()
		q := journal.Query{
			Kind:    journal.Kind(params.Get("kind")),
			AgentID: params.Get("agent_id"),
			RideID:  params.Get("ride_id"),
			Limit:   defaultLimit,
		}
		if s := params.Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := params.Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		if s := params.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			q.Limit = n
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []journal.Record{}
		}
		writeJSON(w, records)
	})
}

// NewMux routes both handlers under /api.
func NewMux[T any](snapshot func(context.Context) T, store journal.Store, token string, defaultLimit int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/session", NewSnapshotHandler(snapshot, token))
	mux.Handle("/api/journal", NewJournalHandler(store, token, defaultLimit))
	return mux
}
