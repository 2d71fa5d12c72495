package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/ppiankov/subdigest/internal/config"
	"github.com/ppiankov/subdigest/internal/digest"
	"github.com/ppiankov/subdigest/internal/privacy"
	"github.com/ppiankov/subdigest/internal/source"
)

func sampleDigest() digest.Digest {
	return digest.Build("reader@example.com", time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), []digest.Result{
		{Subreddit: "golang", Outcome: source.Ok([]source.Post{{
			Position: 1, Title: "Go 1.25 released", Author: "gopher", Score: 42,
			URL: "https://www.reddit.com/r/golang/comments/abc/", Created: "2026-10-17 09:00 UTC", Subreddit: "golang",
		}})},
		{Subreddit: "gone", Outcome: source.Fail(source.ReasonNotFound)},
	})
}

type fakeSender struct {
	sent []*mail.Msg
	err  error
}

func (f *fakeSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msgs...)
	return nil
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	patterns, err := privacy.Compile([]string{`(?i)gopher`})
	require.NoError(t, err)

	n := NewLog(logger, patterns)
	require.NoError(t, n.Notify(context.Background(), "reader@example.com", sampleDigest()))

	out := buf.String()
	assert.Contains(t, out, "digest delivered to log")
	assert.Contains(t, out, "r*****@example.com")
	assert.NotContains(t, out, "reader@example.com")
	assert.Contains(t, out, "Go 1.25 released")
	assert.Contains(t, out, "Subreddit not found")
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "u/gopher")
	assert.Contains(t, out, `"subreddits_failed":1`)
}

func TestSMTPNotifier_ComposesMultipart(t *testing.T) {
	fake := &fakeSender{}
	n := newSMTP("digest@example.com", fake, 0, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "reader@example.com", sampleDigest()))
	require.Len(t, fake.sent, 1)

	var raw bytes.Buffer
	_, err := fake.sent[0].WriteTo(&raw)
	require.NoError(t, err)
	msg := raw.String()

	assert.Contains(t, msg, "Subject: Your Reddit digest for October 17, 2026")
	assert.Contains(t, msg, "reader@example.com")
	assert.Contains(t, msg, "digest@example.com")
	assert.Contains(t, msg, "text/plain")
	assert.Contains(t, msg, "text/html")
	assert.Contains(t, msg, "multipart/alternative")
}

func TestSMTPNotifier_SendError(t *testing.T) {
	fake := &fakeSender{err: errors.New("connection refused")}
	n := newSMTP("digest@example.com", fake, 0, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "reader@example.com", sampleDigest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send mail")
}

func TestSMTPNotifier_InvalidRecipient(t *testing.T) {
	fake := &fakeSender{}
	n := newSMTP("digest@example.com", fake, 0, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "not an address", sampleDigest())
	require.Error(t, err)
	assert.Empty(t, fake.sent)
}

func TestSMTPNotifier_PacesSends(t *testing.T) {
	fake := &fakeSender{}
	n := newSMTP("digest@example.com", fake, time.Hour, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "a@example.com", sampleDigest()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.Notify(ctx, "b@example.com", sampleDigest())
	require.Error(t, err, "second send within the interval should wait for a slot")
	assert.Len(t, fake.sent, 1)
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	n, err := New(config.NotifyConfig{Mode: "log"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LogNotifier{}, n)

	n, err = New(config.NotifyConfig{
		Mode: "smtp",
		From: "digest@example.com",
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587, TLS: "opportunistic"},
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SMTPNotifier{}, n)

	_, err = New(config.NotifyConfig{Mode: "smtp"}, logger)
	assert.Error(t, err)

	_, err = New(config.NotifyConfig{Mode: "carrier-pigeon"}, logger)
	assert.Error(t, err)

	_, err = New(config.NotifyConfig{Mode: "log", Redact: []string{"[bad"}}, logger)
	assert.Error(t, err)
}
