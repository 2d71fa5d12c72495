package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

// MaxSubreddits is the most subreddits one subscription may hold.
const MaxSubreddits = 10

//go:embed templates/*.html
var templateFS embed.FS

type pageData struct {
	Title string
	User  *store.User
	Error string
	Flash string
	Email string

	Subscription    store.Subscription
	HasSubscription bool
	Subreddits      string
	NextSend        string
	Runs            []store.DigestRun

	Sorts   []source.Sort
	Windows []source.TimeWindow
}

var funcs = template.FuncMap{
	"ago":    func(t time.Time) string { return humanize.Time(t) },
	"reason": func(r string) string { return digest.Describe(source.Reason(r)) },
}

func parsePages() (map[string]*template.Template, error) {
	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, path := range names {
		name := strings.TrimPrefix(path, "templates/")
		if name == "layout.html" {
			continue
		}
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", path)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data pageData) {
	t, ok := s.pages[name]
	if !ok {
		s.log(r).Error("unknown template", slog.String("template", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if u, ok := userFrom(r.Context()); ok && data.User == nil {
		data.User = &u
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", data); err != nil {
		s.log(r).Error("render template", slog.String("template", name), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFrom(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "index.html", pageData{Title: "Reddit digests"})
}

func (s *Server) dashboardData(r *http.Request, u store.User) (pageData, error) {
	data := pageData{
		Title:   "Dashboard",
		Sorts:   []source.Sort{source.SortHot, source.SortNew, source.SortTop},
		Windows: []source.TimeWindow{source.WindowDay, source.WindowWeek, source.WindowMonth, source.WindowYear, source.WindowAll},
		Subscription: store.Subscription{
			Sort:       source.SortHot,
			TimeWindow: source.WindowDay,
			Active:     true,
		},
	}

	sub, err := s.store.Subscription(r.Context(), u.ID)
	switch {
	case err == nil:
		data.Subscription = sub
		data.HasSubscription = true
		data.Subreddits = strings.Join(sub.Subreddits, ", ")
		if sub.Active {
			data.NextSend = humanize.Time(sub.NextSendAt)
		}
	case errors.Is(err, store.ErrNotFound):
	default:
		return data, err
	}

	runs, err := s.store.RecentRuns(r.Context(), u.ID, 20)
	if err != nil {
		return data, err
	}
	data.Runs = runs
	return data, nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	data, err := s.dashboardData(r, u)
	if err != nil {
		s.log(r).Error("load dashboard", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if r.URL.Query().Get("saved") == "1" {
		data.Flash = "Subscription saved"
	}
	s.render(w, r, http.StatusOK, "dashboard.html", data)
}

// parseSubreddits splits a free-form list on commas and whitespace,
// normalizes each name and drops duplicates. Invalid names are returned
// separately.
func parseSubreddits(raw string) (names, invalid []string) {
	seen := map[string]bool{}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	})
	for _, f := range fields {
		q, ok := source.Query{Name: f}.Normalize()
		if !ok {
			invalid = append(invalid, f)
			continue
		}
		key := strings.ToLower(q.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, q.Name)
	}
	return names, invalid
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	now := s.now()

	names, invalid := parseSubreddits(r.PostFormValue("subreddits"))
	formErr := ""
	switch {
	case len(invalid) > 0:
		formErr = "Invalid subreddit name: " + strings.Join(invalid, ", ")
	case len(names) > MaxSubreddits:
		formErr = fmt.Sprintf("At most %d subreddits per digest", MaxSubreddits)
	}

	sub := store.Subscription{
		UserID:     u.ID,
		Email:      u.Email,
		Subreddits: names,
		Sort:       source.ParseSort(r.PostFormValue("sort")),
		TimeWindow: source.ParseTimeWindow(r.PostFormValue("time_window")),
		Active:     r.PostFormValue("active") != "",
		UpdatedAt:  now,
	}

	if formErr != "" {
		data, err := s.dashboardData(r, u)
		if err != nil {
			s.log(r).Error("load dashboard", slog.Any("error", err))
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		data.Error = formErr
		data.Subscription = sub
		data.Subreddits = r.PostFormValue("subreddits")
		s.render(w, r, http.StatusBadRequest, "dashboard.html", data)
		return
	}

	sub.NextSendAt = s.composer.NextSend(now)
	if prev, err := s.store.Subscription(r.Context(), u.ID); err == nil && prev.NextSendAt.After(now) {
		sub.NextSendAt = prev.NextSendAt
	}

	if _, err := s.store.UpsertSubscription(r.Context(), sub); err != nil {
		s.log(r).Error("save subscription", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.log(r).Info("subscription saved",
		slog.String("user_id", u.ID),
		slog.Int("subreddits", len(names)),
		slog.Bool("active", sub.Active))
	http.Redirect(w, r, "/dashboard?saved=1", http.StatusSeeOther)
}

// handlePreview renders the digest the user would receive now, without
// sending it or moving the schedule.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	u, _ := userFrom(r.Context())
	sub, err := s.store.Subscription(r.Context(), u.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}
		s.log(r).Error("load subscription", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	d := s.composer.Compose(r.Context(), sub, s.now())
	var buf bytes.Buffer
	if err := digest.NewHTML().Format(&buf, d); err != nil {
		s.log(r).Error("render preview", slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
