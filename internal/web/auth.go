package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/ppiankov/subdigest/internal/privacy"
	"github.com/ppiankov/subdigest/internal/store"
)

const minPasswordLen = 8

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("enter a valid email address")
	ErrWeakPassword       = fmt.Errorf("password must be at least %d characters", minPasswordLen)
)

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func validateEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// register creates an account and opens a session for it.
func (s *Server) register(ctx context.Context, email, password string) (store.Session, error) {
	email, err := validateEmail(email)
	if err != nil {
		return store.Session{}, err
	}
	if len(password) < minPasswordLen {
		return store.Session{}, ErrWeakPassword
	}
	hash, err := hashPassword(password)
	if err != nil {
		return store.Session{}, err
	}
	u, err := s.store.CreateUser(ctx, email, hash, s.now())
	if err != nil {
		return store.Session{}, err
	}
	return s.store.CreateSession(ctx, u.ID, s.now(), s.session.TTL.Duration)
}

// login checks credentials and opens a session.
func (s *Server) login(ctx context.Context, email, password string) (store.Session, error) {
	u, err := s.store.UserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Session{}, ErrInvalidCredentials
		}
		return store.Session{}, err
	}
	if !checkPassword(u.PasswordHash, password) {
		return store.Session{}, ErrInvalidCredentials
	}
	return s.store.CreateSession(ctx, u.ID, s.now(), s.session.TTL.Duration)
}

func (s *Server) setCookie(w http.ResponseWriter, sess store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.session.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFrom(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "register.html", pageData{Title: "Create account"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	sess, err := s.register(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		status, msg := http.StatusBadRequest, err.Error()
		switch {
		case errors.Is(err, store.ErrEmailTaken):
			status, msg = http.StatusConflict, "An account with this email already exists"
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
		default:
			s.log(r).Error("register", slog.Any("error", err))
			status, msg = http.StatusInternalServerError, "Could not create account"
		}
		s.render(w, r, status, "register.html", pageData{Title: "Create account", Error: msg, Email: email})
		return
	}

	s.log(r).Info("user registered", slog.String("email", privacy.MaskEmail(strings.ToLower(strings.TrimSpace(email)))))
	s.setCookie(w, sess)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	if _, ok := userFrom(r.Context()); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", pageData{Title: "Log in"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	sess, err := s.login(r.Context(), email, r.PostFormValue("password"))
	if err != nil {
		status, msg := http.StatusUnauthorized, ErrInvalidCredentials.Error()
		if !errors.Is(err, ErrInvalidCredentials) {
			s.log(r).Error("login", slog.Any("error", err))
			status, msg = http.StatusInternalServerError, "Could not log in"
		}
		s.render(w, r, status, "login.html", pageData{Title: "Log in", Error: msg, Email: email})
		return
	}
	s.setCookie(w, sess)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.session.CookieName); err == nil && c.Value != "" {
		if err := s.store.DeleteSession(r.Context(), c.Value); err != nil {
			s.log(r).Warn("delete session", slog.Any("error", err))
		}
	}
	s.clearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
