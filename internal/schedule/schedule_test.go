package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/source"
	"github.com/ppiankov/subdigest/internal/store"
)

type fakeStore struct {
	mu       sync.Mutex
	due      []store.Subscription
	dueErr   error
	markErr  error
	dueCalls int
	marked   map[string]time.Time
	recorded map[string]digest.Digest
	dueHook  func()
}

func newFakeStore(due ...store.Subscription) *fakeStore {
	return &fakeStore{
		due:      due,
		marked:   map[string]time.Time{},
		recorded: map[string]digest.Digest{},
	}
}

func (f *fakeStore) Due(_ context.Context, now time.Time) ([]store.Subscription, error) {
	f.mu.Lock()
	f.dueCalls++
	hook := f.dueHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.dueErr != nil {
		return nil, f.dueErr
	}
	var out []store.Subscription
	for _, sub := range f.due {
		if sub.Active && !sub.NextSendAt.After(now) && len(sub.Subreddits) > 0 {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkSent(_ context.Context, userID string, next time.Time) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[userID] = next
	return nil
}

func (f *fakeStore) RecordDigest(_ context.Context, userID string, _ time.Time, d digest.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[userID] = d
	return nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	outcomes map[string]source.Outcome
	queries  []source.Query
}

func (f *fakeFetcher) Fetch(_ context.Context, q source.Query) source.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if out, ok := f.outcomes[q.Name]; ok {
		return out
	}
	return source.Fail(source.ReasonNotFound)
}

type fakeNotifier struct {
	mu   sync.Mutex
	err  error
	sent map[string]digest.Digest
}

func (f *fakeNotifier) Notify(_ context.Context, email string, d digest.Digest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string]digest.Digest{}
	}
	f.sent[email] = d
	return f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	slotNow = time.Date(2026, 10, 17, 10, 0, 30, 0, time.UTC)
	golang  = source.Post{Position: 1, Title: "Go 1.25 released", Author: "gopher", URL: "https://www.reddit.com/r/golang/comments/abc/", Subreddit: "golang"}
)

func subscription(userID, email string, subreddits ...string) store.Subscription {
	return store.Subscription{
		UserID:     userID,
		Email:      email,
		Subreddits: subreddits,
		Sort:       source.SortTop,
		TimeWindow: source.WindowWeek,
		NextSendAt: slotNow.Add(-time.Minute),
		Active:     true,
	}
}

func newScheduler(t *testing.T, st SubscriptionStore, f Fetcher, n *fakeNotifier) *Scheduler {
	t.Helper()
	s, err := New(Options{
		Store:    st,
		Fetcher:  f,
		Notifier: n,
		Logger:   quietLogger(),
		Hour:     10,
	})
	require.NoError(t, err)
	return s
}

func TestNextSend(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "before slot",
			now:  time.Date(2026, 10, 17, 9, 59, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "exactly at slot",
			now:  time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "after slot",
			now:  time.Date(2026, 10, 17, 18, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "month end",
			now:  time.Date(2026, 10, 31, 11, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 11, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "nil location is utc",
			now:  time.Date(2026, 10, 17, 8, 0, 0, 0, time.UTC),
			want: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "local zone differs from utc date",
			now:  time.Date(2026, 10, 18, 2, 0, 0, 0, time.UTC), // 22:00 on the 17th in New York
			loc:  ny,
			want: time.Date(2026, 10, 18, 10, 0, 0, 0, ny),
		},
		{
			name: "across dst change",
			now:  time.Date(2026, 10, 31, 15, 0, 0, 0, ny),
			loc:  ny,
			want: time.Date(2026, 11, 1, 10, 0, 0, 0, ny),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextSend(tt.now, tt.loc, 10, 0)
			assert.True(t, got.Equal(tt.want), "NextSend = %s, want %s", got, tt.want)
			assert.True(t, got.After(tt.now))
		})
	}
}

func TestNextSend_DSTWallClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got := NextSend(time.Date(2026, 10, 31, 15, 0, 0, 0, ny), ny, 10, 0)
	local := got.In(ny)
	assert.Equal(t, 10, local.Hour())
	assert.Equal(t, 0, local.Minute())
	assert.Equal(t, time.Date(2026, 11, 1, 15, 0, 0, 0, time.UTC), got.UTC())
}

func TestNew_Validation(t *testing.T) {
	st := newFakeStore()
	f := &fakeFetcher{}
	n := &fakeNotifier{}

	_, err := New(Options{Fetcher: f, Notifier: n})
	assert.Error(t, err)
	_, err = New(Options{Store: st, Notifier: n})
	assert.Error(t, err)
	_, err = New(Options{Store: st, Fetcher: f})
	assert.Error(t, err)
	_, err = New(Options{Store: st, Fetcher: f, Notifier: n, Hour: 24})
	assert.Error(t, err)

	s, err := New(Options{Store: st, Fetcher: f, Notifier: n, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, source.MaxLimit, s.limit)
	assert.Equal(t, defaultTick, s.tick)
	assert.Equal(t, time.UTC, s.loc)
}

func TestRunDue_DeliversAndAdvances(t *testing.T) {
	later := subscription("u3", "later@example.com", "golang")
	later.NextSendAt = slotNow.Add(time.Hour)
	inactive := subscription("u4", "off@example.com", "golang")
	inactive.Active = false

	st := newFakeStore(
		subscription("u1", "one@example.com", "golang", "gone"),
		subscription("u2", "two@example.com", "golang"),
		later,
		inactive,
	)
	f := &fakeFetcher{outcomes: map[string]source.Outcome{
		"golang": source.Ok([]source.Post{golang}),
	}}
	n := &fakeNotifier{}
	s := newScheduler(t, st, f, n)

	rep, err := s.RunDue(context.Background(), slotNow)
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 2, Sent: 2}, rep)

	require.Len(t, n.sent, 2)
	first := n.sent["one@example.com"]
	require.Len(t, first.Sections, 2)
	assert.Equal(t, "golang", first.Sections[0].Subreddit)
	assert.True(t, first.Sections[0].OK())
	assert.Equal(t, "gone", first.Sections[1].Subreddit)
	assert.Equal(t, source.ReasonNotFound, first.Sections[1].Reason)
	assert.Equal(t, digest.ErrorEntry{Error: "Subreddit not found"}, first.Payload()["gone"])

	want := time.Date(2026, 10, 18, 10, 0, 0, 0, time.UTC)
	assert.True(t, st.marked["u1"].Equal(want))
	assert.True(t, st.marked["u2"].Equal(want))
	assert.NotContains(t, st.marked, "u3")
	assert.NotContains(t, st.marked, "u4")
	assert.Contains(t, st.recorded, "u1")
}

func TestRunDue_FetchesSequentiallyInOrder(t *testing.T) {
	st := newFakeStore(subscription("u1", "one@example.com", "golang", "rust", "python"))
	f := &fakeFetcher{}
	s := newScheduler(t, st, f, &fakeNotifier{})

	_, err := s.RunDue(context.Background(), slotNow)
	require.NoError(t, err)

	require.Len(t, f.queries, 3)
	for i, name := range []string{"golang", "rust", "python"} {
		q := f.queries[i]
		assert.Equal(t, name, q.Name)
		assert.Equal(t, source.SortTop, q.Sort)
		assert.Equal(t, source.WindowWeek, q.TimeWindow)
		assert.Equal(t, source.MaxLimit, q.Limit)
	}
}

func TestRunDue_AllFailuresStillDelivered(t *testing.T) {
	st := newFakeStore(subscription("u1", "one@example.com", "a1", "b2"))
	f := &fakeFetcher{outcomes: map[string]source.Outcome{
		"a1": source.Fail(source.ReasonRateLimited),
		"b2": source.Fail(source.ReasonForbidden),
	}}
	n := &fakeNotifier{}
	s := newScheduler(t, st, f, n)

	rep, err := s.RunDue(context.Background(), slotNow)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)

	d := n.sent["one@example.com"]
	ok, failed, posts := d.Counts()
	assert.Equal(t, 0, ok)
	assert.Equal(t, 2, failed)
	assert.Equal(t, 0, posts)
	assert.Contains(t, st.marked, "u1")
}

func TestRunDue_NotifyFailureStillAdvances(t *testing.T) {
	st := newFakeStore(subscription("u1", "one@example.com", "golang"))
	f := &fakeFetcher{outcomes: map[string]source.Outcome{"golang": source.Ok([]source.Post{golang})}}
	n := &fakeNotifier{err: errors.New("smtp down")}
	s := newScheduler(t, st, f, n)

	rep, err := s.RunDue(context.Background(), slotNow)
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 1, NotifyFailed: 1}, rep)
	assert.Contains(t, st.marked, "u1")
	assert.Contains(t, st.recorded, "u1")
}

func TestRunDue_MarkSentError(t *testing.T) {
	st := newFakeStore(subscription("u1", "one@example.com", "golang"))
	st.markErr = store.ErrNotFound
	s := newScheduler(t, st, &fakeFetcher{}, &fakeNotifier{})

	rep, err := s.RunDue(context.Background(), slotNow)
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 1, Errors: 1}, rep)
}

func TestRunDue_DueError(t *testing.T) {
	st := newFakeStore()
	st.dueErr = errors.New("database is locked")
	s := newScheduler(t, st, &fakeFetcher{}, &fakeNotifier{})

	_, err := s.RunDue(context.Background(), slotNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestRunDue_Canceled(t *testing.T) {
	st := newFakeStore(subscription("u1", "one@example.com", "golang"))
	n := &fakeNotifier{}
	s := newScheduler(t, st, &fakeFetcher{}, n)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RunDue(ctx, slotNow)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, n.sent)
}

func TestDeliver_ReturnsNotifyError(t *testing.T) {
	st := newFakeStore()
	n := &fakeNotifier{err: errors.New("smtp down")}
	s := newScheduler(t, st, &fakeFetcher{}, n)

	d, err := s.Deliver(context.Background(), subscription("u1", "one@example.com", "golang"), slotNow)
	assert.ErrorIs(t, err, ErrNotify)
	assert.Len(t, d.Sections, 1)
	assert.Contains(t, st.marked, "u1")
}

func TestStartStop(t *testing.T) {
	ticked := make(chan struct{}, 1)
	st := newFakeStore()
	st.dueHook = func() {
		select {
		case ticked <- struct{}{}:
		default:
		}
	}

	s, err := New(Options{
		Store:    st,
		Fetcher:  &fakeFetcher{},
		Notifier: &fakeNotifier{},
		Logger:   quietLogger(),
		Tick:     "@every 1s",
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never ticked")
	}

	s.Stop()
	s.Stop()
}

func TestStart_InvalidTick(t *testing.T) {
	s, err := New(Options{
		Store:    newFakeStore(),
		Fetcher:  &fakeFetcher{},
		Notifier: &fakeNotifier{},
		Logger:   quietLogger(),
		Tick:     "not a spec",
	})
	require.NoError(t, err)
	assert.Error(t, s.Start(context.Background()))
}
