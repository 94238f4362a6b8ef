package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/levenlabs/go-lflag"

	"github.com/egaugemx/tarifador/pkg/billing"
	"github.com/egaugemx/tarifador/pkg/egauge"
	"github.com/egaugemx/tarifador/pkg/log"
	"github.com/egaugemx/tarifador/pkg/metrics"
	"github.com/egaugemx/tarifador/pkg/storage"
	"github.com/egaugemx/tarifador/pkg/tariff"
	"github.com/egaugemx/tarifador/pkg/types"
)

const authTokenCookie = "auth_token"

type contextKey string

const emailContextKey contextKey = "email"

// tokenVerifier is a function that validates an OIDC ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// downloader fetches and classifies a client's meter readings.
type downloader interface {
	Download(ctx context.Context, c *tariff.Classifier, client types.Client, start, end time.Time) (egauge.Result, error)
	Step() int
}

// Server handles the HTTP API: classification, client management, ingestion
// and billing.
type Server struct {
	storage    storage.Database
	downloader downloader
	classifier *tariff.Classifier
	schedule   types.RateSchedule

	listenAddr string
	httpServer *http.Server

	adminEmails   []string
	oidcAudiences map[string]string
	oidcVerifiers map[string]tokenVerifier
	bypassAuth    bool
	serverName    string

	now   func() time.Time
	newID func() string
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(s storage.Database, d *egauge.Downloader, c *tariff.Classifier) *Server {
	srv := &Server{
		storage:    s,
		downloader: d,
		classifier: c,
		serverName: "tarifador",
		now:        time.Now,
		newID:      uuid.NewString,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	adminEmails := lflag.String("admin-emails", "", "comma-delimited list of email addresses allowed to use the API")
	oidcAudience := lflag.String("oidc-audience", "", "Google client ID to validate id tokens against")
	schedulePath := lflag.String("rate-schedule", "", "YAML file with the GDMTH rate schedule (defaults are used when empty)")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		if *adminEmails != "" {
			srv.adminEmails = strings.Split(*adminEmails, ",")
			for i, email := range srv.adminEmails {
				srv.adminEmails[i] = strings.TrimSpace(email)
			}
		}
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifiers = map[string]tokenVerifier{
				"google": provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify,
			}
			srv.oidcAudiences = map[string]string{
				"google": *oidcAudience,
			}
		} else {
			log.Ctx(context.Background()).Warn("no oidc-audience configured, API authentication is disabled")
			srv.bypassAuth = true
		}

		srv.schedule = billing.DefaultRateSchedule()
		if *schedulePath != "" {
			schedule, err := billing.LoadRateSchedule(*schedulePath)
			if err != nil {
				panic(fmt.Errorf("failed to load rate schedule: %w", err))
			}
			srv.schedule = schedule
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/classify", s.handleClassify)
	apiMux.HandleFunc("GET /api/season", s.handleSeason)
	apiMux.HandleFunc("GET /api/clients", s.handleListClients)
	apiMux.HandleFunc("POST /api/clients", s.handleImportClients)
	apiMux.HandleFunc("POST /api/clients/active", s.handleSetClientActive)
	apiMux.HandleFunc("POST /api/clients/bulk", s.handleBulkClients)
	apiMux.HandleFunc("DELETE /api/clients/{id}", s.handleDeleteClient)
	apiMux.HandleFunc("POST /api/ingest", s.handleIngest)
	apiMux.HandleFunc("GET /api/readings/columns", s.handleReadingColumns)
	apiMux.HandleFunc("GET /api/readings/stats", s.handleReadingStats)
	apiMux.HandleFunc("GET /api/readings/export", s.handleExportReadings)
	apiMux.HandleFunc("POST /api/invoices", s.handleCreateInvoice)
	apiMux.HandleFunc("GET /api/invoices/{id}", s.handleGetInvoice)
	apiMux.HandleFunc("GET /api/invoices/{id}/receipt", s.handleReceipt)
	apiMux.HandleFunc("GET /api/auth/status", s.handleAuthStatus)
	apiMux.HandleFunc("POST /api/auth/login", s.handleLogin)
	apiMux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONCode(w, http.StatusOK, v)
}

func writeJSONCode(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// writeFile sends an attachment of the given content type.
func writeFile(w http.ResponseWriter, contentType, filename string, b []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// storageErrorCode maps storage sentinels to HTTP status codes.
func storageErrorCode(err error) int {
	if errors.Is(err, storage.ErrClientNotFound) || errors.Is(err, storage.ErrInvoiceNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}

// dateRange parses the start and end query or body dates and returns the
// instants bounding them in the classifier's zone: midnight of start up to
// midnight after end.
func (s *Server) dateRange(start, end string) (types.Date, types.Date, time.Time, time.Time, error) {
	from, err := types.ParseDate(start)
	if err != nil {
		return types.Date{}, types.Date{}, time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
	}
	to, err := types.ParseDate(end)
	if err != nil {
		return types.Date{}, types.Date{}, time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
	}
	if to.Before(from) {
		return types.Date{}, types.Date{}, time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", to, from)
	}
	loc := s.classifier.Location()
	return from, to, from.In(loc), to.In(loc).AddDate(0, 0, 1), nil
}
