package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/solarpayback/pkg/common"
	"github.com/raterudder/solarpayback/pkg/config"
	"github.com/raterudder/solarpayback/pkg/log"
	"github.com/raterudder/solarpayback/pkg/sizing"
	"github.com/raterudder/solarpayback/pkg/storage"
	"github.com/raterudder/solarpayback/pkg/types"
)

const sessionCookie = "solar_session"

type contextKey string

const sessionIDContextKey contextKey = "sessionID"

// tokenVerifier is a function that validates a Google ID Token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server serves the sizing and payback calculators over HTTP and remembers
// each browser's last inputs in storage.
type Server struct {
	cfg     *config.Config
	calc    *sizing.Calculator
	storage storage.Database

	listenAddr string
	httpServer *http.Server

	verifier      tokenVerifier
	corsOrigins   []string
	release       string
	serverName    string
	sessionTTL    time.Duration
	purgeInterval time.Duration
	now           func() time.Time
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(cfg *config.Config, s storage.Database) *Server {
	srv := &Server{
		cfg:        cfg,
		storage:    s,
		serverName: "solarpayback",
		now:        time.Now,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcAudience := lflag.String("oidc-audience", "", "if set, API requests must carry a Google ID token for this audience")
	corsOrigins := lflag.String("cors-origins", "", "comma-delimited list of origins allowed to call the API from a browser")
	release := lflag.String("release", "production", "Release environment (production or staging)")
	sessionTTL := lflag.Duration("session-ttl", 24*time.Hour, "How long a session is kept after its last update")
	purgeInterval := lflag.Duration("session-purge-interval", time.Hour, "How often expired sessions are purged. 0 disables purging.")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.calc = sizing.NewCalculator(cfg.SizingRates())
		if *oidcAudience != "" {
			ctx := oidc.ClientContext(context.Background(), common.HTTPClient(10*time.Second))
			provider, err := oidc.NewProvider(ctx, "https://accounts.google.com")
			if err != nil {
				log.Ctx(ctx).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			srv.verifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
		if *corsOrigins != "" {
			for _, origin := range strings.Split(*corsOrigins, ",") {
				if origin = strings.TrimSpace(origin); origin != "" {
					srv.corsOrigins = append(srv.corsOrigins, origin)
				}
			}
		}
		srv.release = *release
		if *sessionTTL <= 0 {
			log.Ctx(context.Background()).Error("session-ttl must be positive")
			os.Exit(1)
		}
		srv.sessionTTL = *sessionTTL
		srv.purgeInterval = *purgeInterval
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/defaults", s.handleDefaults)
	apiMux.HandleFunc("POST /api/sizing", s.handleSizing)
	apiMux.HandleFunc("POST /api/payback", s.handlePayback)
	apiMux.HandleFunc("POST /api/plan", s.handlePlan)
	apiMux.HandleFunc("GET /api/session", s.handleGetSession)
	apiMux.HandleFunc("DELETE /api/session", s.handleDeleteSession)

	mux := http.NewServeMux()
	mux.Handle("/api/", gziphandler.GzipHandler(s.authMiddleware(s.sessionMiddleware(apiMux))))
	// the websocket upgrade needs to hijack the connection so it can't sit
	// behind the gzip writer
	mux.Handle("GET /api/live", s.authMiddleware(http.HandlerFunc(s.handleLive)))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s.revisionMiddleware(s.corsMiddleware(s.securityHeadersMiddleware(mux)))
}

func (s *Server) getSessionID(r *http.Request) string {
	if id, ok := r.Context().Value(sessionIDContextKey).(string); ok {
		return id
	}
	// we want to have a stack trace when this happens
	panic("no sessionID in context")
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go s.purgeExpiredSessions(janitorCtx)

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr), slog.String("release", s.release))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
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

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeCalcError maps an error from the calculators to a response. Invalid
// input is the caller's fault; anything else is ours.
func writeCalcError(ctx context.Context, w http.ResponseWriter, err error) {
	var inv *types.InvalidInputError
	if errors.As(err, &inv) {
		log.Ctx(ctx).WarnContext(ctx, "rejected input", slog.String("field", inv.Field), slog.Float64("value", inv.Value))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: inv.Error(), Field: inv.Field})
		return
	}
	log.Ctx(ctx).ErrorContext(ctx, "calculation failed", slog.Any("error", err))
	writeJSONError(w, "calculation failed", http.StatusInternalServerError)
}

// decodeBody decodes a JSON request body of at most 1MB into v. An empty body
// leaves v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1048576)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}
