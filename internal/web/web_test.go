package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

var testNow = time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC)

type stubFetcher struct {
	queries []source.Query
}

func (f *stubFetcher) Fetch(_ context.Context, q source.Query) source.Outcome {
	f.queries = append(f.queries, q)
	if q.Name == "golang" {
		return source.Ok([]source.Post{{
			Position: 1, Title: "Go 1.25 released", Author: "gopher", Score: 42,
			URL: "https://www.reddit.com/r/golang/comments/abc/", Created: "2026-10-17 07:00 UTC", Subreddit: "golang",
		}})
	}
	return source.Fail(source.ReasonNotFound)
}

type stubComposer struct {
	fetcher *stubFetcher
}

func (c stubComposer) Compose(ctx context.Context, sub store.Subscription, now time.Time) digest.Digest {
	var results []digest.Result
	for _, name := range sub.Subreddits {
		results = append(results, digest.Result{Subreddit: name, Outcome: c.fetcher.Fetch(ctx, source.Query{Name: name})})
	}
	return digest.Build(sub.Email, now, results)
}

func (stubComposer) NextSend(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 10, 0, 0, 0, time.UTC)
}

type testEnv struct {
	store   *store.Store
	fetcher *stubFetcher
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "subdigest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &stubFetcher{}
	srv, err := New(Options{
		Store:    st,
		Fetcher:  f,
		Composer: stubComposer{fetcher: f},
		Session:  config.SessionConfig{TTL: config.Duration{Duration: time.Hour}, CookieName: "subdigest_session"},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:      func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &testEnv{store: st, fetcher: f, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == "subdigest_session" && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func (e *testEnv) register(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/register", url.Values{"email": {email}, "password": {"correct horse"}}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	require.Equal(t, "/dashboard", rec.Header().Get("Location"))
	return sessionCookie(t, rec)
}

func TestRegister(t *testing.T) {
	e := newTestEnv(t)
	c := e.register(t, "Reader@Example.com")
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	u, err := e.store.UserByEmail(context.Background(), "reader@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", u.PasswordHash)

	rec := e.do(t, http.MethodPost, "/register", url.Values{"email": {"reader@example.com"}, "password": {"another pass"}}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already exists")
}

func TestRegister_Validation(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name     string
		email    string
		password string
		want     string
	}{
		{"bad email", "not-an-email", "correct horse", ErrInvalidEmail.Error()},
		{"empty email", "", "correct horse", ErrInvalidEmail.Error()},
		{"short password", "reader@example.com", "short", ErrWeakPassword.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/register", url.Values{"email": {tt.email}, "password": {tt.password}}, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.want)
		})
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.register(t, "reader@example.com")

	rec := e.do(t, http.MethodPost, "/login", url.Values{"email": {"reader@example.com"}, "password": {"wrong password"}}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), ErrInvalidCredentials.Error())

	rec = e.do(t, http.MethodPost, "/login", url.Values{"email": {"nobody@example.com"}, "password": {"correct horse"}}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/login", url.Values{"email": {" READER@example.com "}, "password": {"correct horse"}}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	c := sessionCookie(t, rec)

	rec = e.do(t, http.MethodGet, "/dashboard", nil, c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reader@example.com")
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	c := e.register(t, "reader@example.com")

	rec := e.do(t, http.MethodPost, "/logout", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	_, err := e.store.SessionUser(context.Background(), c.Value, testNow)
	assert.ErrorIs(t, err, store.ErrNotFound)

	rec = e.do(t, http.MethodGet, "/dashboard", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestProtectedRoutesRedirect(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/dashboard", "/preview"} {
		rec := e.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusSeeOther, rec.Code, path)
		assert.Equal(t, "/login", rec.Header().Get("Location"), path)
	}

	rec := e.do(t, http.MethodGet, "/dashboard", nil, &http.Cookie{Name: "subdigest_session", Value: "stale"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestIndex(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Create an account")

	c := e.register(t, "reader@example.com")
	rec = e.do(t, http.MethodGet, "/", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
}

func TestSubscription(t *testing.T) {
	e := newTestEnv(t)
	c := e.register(t, "reader@example.com")

	rec := e.do(t, http.MethodPost, "/subscription", url.Values{
		"subreddits":  {"r/golang, rust\nGolang"},
		"sort":        {"top"},
		"time_window": {"week"},
		"active":      {"1"},
	}, c)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	u, err := e.store.UserByEmail(context.Background(), "reader@example.com")
	require.NoError(t, err)
	sub, err := e.store.Subscription(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"golang", "rust"}, sub.Subreddits)
	assert.Equal(t, source.SortTop, sub.Sort)
	assert.Equal(t, source.WindowWeek, sub.TimeWindow)
	assert.True(t, sub.Active)
	assert.True(t, sub.NextSendAt.Equal(time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "reader@example.com", sub.Email)

	rec = e.do(t, http.MethodGet, "/dashboard?saved=1", nil, c)
	assert.Contains(t, rec.Body.String(), "Subscription saved")
	assert.Contains(t, rec.Body.String(), "golang, rust")
}

func TestSubscription_Invalid(t *testing.T) {
	e := newTestEnv(t)
	c := e.register(t, "reader@example.com")

	rec := e.do(t, http.MethodPost, "/subscription", url.Values{"subreddits": {"golang, no spaces!"}, "active": {"1"}}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid subreddit name")

	many := make([]string, MaxSubreddits+1)
	for i := range many {
		many[i] = "sub" + string(rune('a'+i))
	}
	rec = e.do(t, http.MethodPost, "/subscription", url.Values{"subreddits": {strings.Join(many, ",")}}, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "At most 10 subreddits")
}

func TestPreview(t *testing.T) {
	e := newTestEnv(t)
	c := e.register(t, "reader@example.com")

	rec := e.do(t, http.MethodGet, "/preview", nil, c)
	assert.Equal(t, http.StatusSeeOther, rec.Code, "no subscription yet")

	rec = e.do(t, http.MethodPost, "/subscription", url.Values{"subreddits": {"golang gone"}, "active": {"1"}}, c)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = e.do(t, http.MethodGet, "/preview", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Go 1.25 released")
	assert.Contains(t, body, "Subreddit not found")
}

func TestAPIFetch(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/fetch?name=golang", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	c := e.register(t, "reader@example.com")

	rec = e.do(t, http.MethodGet, "/api/fetch?name=golang&sort=top&t=week&limit=3", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, true, got["ok"])
	assert.NotContains(t, got, "error")
	posts := got["posts"].([]any)
	require.Len(t, posts, 1)
	post := posts[0].(map[string]any)
	for _, key := range []string{"position", "title", "author", "score", "comments", "url", "created", "subreddit"} {
		assert.Contains(t, post, key)
	}

	q := e.fetcher.queries[len(e.fetcher.queries)-1]
	assert.Equal(t, source.Query{Name: "golang", Sort: source.SortTop, TimeWindow: source.WindowWeek, Limit: 3}, q)

	rec = e.do(t, http.MethodGet, "/api/fetch?name=gone", nil, c)
	require.Equal(t, http.StatusOK, rec.Code)
	got = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["ok"])
	assert.Equal(t, "not_found", got["error"])
	assert.Empty(t, got["posts"])

	rec = e.do(t, http.MethodGet, "/api/fetch", nil, c)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestParseSubreddits(t *testing.T) {
	tests := []struct {
		raw         string
		wantNames   []string
		wantInvalid []string
	}{
		{"golang", []string{"golang"}, nil},
		{"r/golang, /r/rust/", []string{"golang", "rust"}, nil},
		{"golang;GoLang golang", []string{"golang"}, nil},
		{"golang bad-name", []string{"golang"}, []string{"bad-name"}},
		{"  ", nil, nil},
	}
	for _, tt := range tests {
		names, invalid := parseSubreddits(tt.raw)
		assert.Equal(t, tt.wantNames, names, tt.raw)
		assert.Equal(t, tt.wantInvalid, invalid, tt.raw)
	}
}
