package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/egaugemx/tarifador/pkg/log"
)

func isAuthPath(path string) bool {
	return path == "/api/auth/login" || path == "/api/auth/status" || path == "/api/auth/logout"
}

// requestToken returns the bearer token or, failing that, the auth cookie.
func requestToken(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", errors.New("invalid auth header")
		}
		return strings.TrimPrefix(authHeader, "Bearer "), nil
	}
	authCookie, err := r.Cookie(authTokenCookie)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		return "", err
	}
	return authCookie.Value, nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := log.WithAttrs(r.Context(), slog.String("reqPath", r.URL.Path))

		if s.bypassAuth || isAuthPath(r.URL.Path) {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, err := requestToken(r)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth", slog.Any("error", err))
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}
		if token == "" {
			log.Ctx(ctx).WarnContext(ctx, "no auth token found")
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		email, _, _, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			s.clearCookie(w)
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !s.isAdmin(email) {
			log.Ctx(ctx).WarnContext(ctx, "user is not an admin", slog.String("email", email))
			writeJSONError(w, "access denied", http.StatusForbidden)
			return
		}

		ctx = log.WithAttrs(ctx, slog.String("authEmail", email))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request")

		ctx = context.WithValue(ctx, emailContextKey, email)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// isAdmin returns true if the email is in the adminEmails list. An empty list
// admits every verified user.
func (s *Server) isAdmin(email string) bool {
	if email == "" {
		return false
	}
	if len(s.adminEmails) == 0 {
		return true
	}
	for _, adminEmail := range s.adminEmails {
		if strings.EqualFold(email, adminEmail) {
			return true
		}
	}
	return false
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// since we failed to read, don't return JSON error
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	email, subject, expires, err := s.authenticateToken(r.Context(), req.Token)
	if err != nil {
		log.Ctx(r.Context()).WarnContext(r.Context(), "failed to validate id token", slog.Any("error", err))
		writeJSONError(w, "invalid id token", http.StatusUnauthorized)
		return
	}
	if !s.isAdmin(email) {
		log.Ctx(r.Context()).WarnContext(r.Context(), "login denied", slog.String("email", email))
		writeJSONError(w, "access denied", http.StatusForbidden)
		return
	}

	log.Ctx(r.Context()).InfoContext(r.Context(), "login token validated successfully", slog.String("email", email), slog.String("subject", subject))

	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    req.Token,
		Expires:  expires,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
	})

	w.WriteHeader(http.StatusOK)
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authTokenCookie,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.clearCookie(w)
	w.WriteHeader(http.StatusOK)
}

type authStatusResponse struct {
	LoggedIn     bool              `json:"loggedIn"`
	Email        string            `json:"email"`
	AuthRequired bool              `json:"authRequired"`
	ClientIDs    map[string]string `json:"clientIDs"`
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	resp := authStatusResponse{
		AuthRequired: !s.bypassAuth,
		ClientIDs:    s.oidcAudiences,
	}
	if s.bypassAuth {
		resp.LoggedIn = true
	} else if token, err := requestToken(r); err == nil && token != "" {
		email, _, _, err := s.authenticateToken(r.Context(), token)
		if err == nil && s.isAdmin(email) {
			resp.LoggedIn = true
			resp.Email = email
		}
	}
	writeJSON(w, resp)
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, string, time.Time, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email         string `json:"email"`
				EmailVerified bool   `json:"email_verified"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				if !claims.EmailVerified {
					err = fmt.Errorf("email %s is not verified", claims.Email)
				} else {
					return claims.Email, idToken.Subject, idToken.Expiry, nil
				}
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 1 {
		return "", "", time.Time{}, errors.Join(errs...)
	}
	if len(errs) == 1 {
		return "", "", time.Time{}, errs[0]
	}
	return "", "", time.Time{}, errors.New("no valid audiences configured or token invalid")
}
