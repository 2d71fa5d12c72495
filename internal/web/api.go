package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ppiankov/subdigest/internal/source"
)

// apiError keeps the fetch response shape for errors raised before a fetch.
type apiError struct {
	OK    bool          `json:"ok"`
	Posts []source.Post `json:"posts"`
	Error string        `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// handleAPIFetch runs one fetch and returns {ok, posts, error?}.
func (s *Server) handleAPIFetch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	name := strings.TrimSpace(params.Get("name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Posts: []source.Post{}, Error: "name is required"})
		return
	}

	limit, _ := strconv.Atoi(params.Get("limit"))
	out := s.fetcher.Fetch(r.Context(), source.Query{
		Name:       name,
		Sort:       source.Sort(params.Get("sort")),
		TimeWindow: source.TimeWindow(params.Get("t")),
		Limit:      limit,
	})
	if !out.OK {
		s.log(r).Info("api fetch failed",
			slog.String("subreddit", name),
			slog.String("reason", string(out.Reason)))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log(r).Warn("health check failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
