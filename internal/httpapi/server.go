package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/session"
)

const shutdownTimeout = 5 * time.Second

// Engine is the scan engine surface exposed over HTTP
type Engine interface {
	OpenSession(ctx context.Context, pctx session.PresentationContext) (session.Snapshot, error)
	CloseSession(ctx context.Context) error
	ConfirmMatch(ctx context.Context) (*inventory.Asset, error)
	IgnoreMatch(ctx context.Context) (session.Snapshot, error)
	SetFacingMode(ctx context.Context, facing camera.Facing) (session.Snapshot, error)
	SetZoom(ctx context.Context, value float64) (session.Snapshot, error)
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Preview(ctx context.Context) (image.Image, error)
}

// Assets manages the inventory scanned against
type Assets interface {
	AddAsset(serialNumber, name, location string) (*inventory.Asset, error)
	GetAsset(id string) (*inventory.Asset, error)
	ListAssets() ([]*inventory.Asset, error)
	DeleteAsset(id string) error
}

// Server handles HTTP requests for scan sessions and assets
type Server struct {
	engine    Engine
	assets    Assets
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(engine Engine, assets Assets, basicAuth BasicAuth) *Server {
	return NewServerWithMux(engine, assets, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(engine Engine, assets Assets, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		engine:    engine,
		assets:    assets,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Asset Scanner"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/session/confirm", s.requireAuth(s.handleConfirm))
	s.mux.HandleFunc("POST /api/session/ignore", s.requireAuth(s.handleIgnore))
	s.mux.HandleFunc("PUT /api/session/facing", s.requireAuth(s.handleSetFacing))
	s.mux.HandleFunc("PUT /api/session/zoom", s.requireAuth(s.handleSetZoom))
	s.mux.HandleFunc("GET /api/session/preview.jpg", s.requireAuth(s.handlePreview))
	s.mux.HandleFunc("GET /api/session", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("POST /api/session", s.requireAuth(s.handleOpenSession))
	s.mux.HandleFunc("DELETE /api/session", s.requireAuth(s.handleCloseSession))

	s.mux.HandleFunc("GET /api/assets/{id}", s.requireAuth(s.handleGetAsset))
	s.mux.HandleFunc("DELETE /api/assets/{id}", s.requireAuth(s.handleDeleteAsset))
	s.mux.HandleFunc("GET /api/assets", s.requireAuth(s.handleListAssets))
	s.mux.HandleFunc("POST /api/assets", s.requireAuth(s.handleAddAsset))
}

// Handler returns the mux wrapped in the CORS middleware
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
