package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zombor/asset-scanner/internal/camera"
	"github.com/zombor/asset-scanner/internal/frame"
	"github.com/zombor/asset-scanner/internal/inventory"
	"github.com/zombor/asset-scanner/internal/scanner"
	"github.com/zombor/asset-scanner/internal/session"
)

const maxBodySize = 1 << 20

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes an error response as JSON with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// statusFor maps engine and inventory errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, camera.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, camera.ErrCameraUnavailable),
		errors.Is(err, scanner.ErrEngineStopped),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanner.ErrNoSession),
		errors.Is(err, scanner.ErrRowNotFound),
		errors.Is(err, inventory.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scanner.ErrNoPendingMatch),
		errors.Is(err, inventory.ErrDuplicateSerial):
		return http.StatusConflict
	case errors.Is(err, inventory.ErrInvalidAsset):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		jsonError(w, "Internal server error", code)
		return
	}
	jsonError(w, err.Error(), code)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleOpenSession opens a scan session, replacing any open one
func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context string `json:"context"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	pctx, err := session.ParseContext(req.Context)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.engine.OpenSession(r.Context(), pctx)
	if err != nil {
		slog.Warn("Error opening session", "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.CloseSession(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConfirm marks the pending match's asset verified
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	asset, err := s.engine.ConfirmMatch(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.IgnoreMatch(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetFacing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Facing string `json:"facing"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	facing, err := camera.ParseFacing(req.Facing)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := s.engine.SetFacingMode(r.Context(), facing)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSetZoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Zoom *float64 `json:"zoom"`
	}
	if err := decodeBody(r, &req); err != nil || req.Zoom == nil {
		jsonError(w, "zoom is required", http.StatusBadRequest)
		return
	}

	snap, err := s.engine.SetZoom(r.Context(), *req.Zoom)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handlePreview serves the current frame as a JPEG
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	img, err := s.engine.Preview(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := frame.EncodeJPEG(&buf, img); err != nil {
		slog.Error("Error encoding preview", "error", err)
		jsonError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.assets.ListAssets()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if assets == nil {
		assets = []*inventory.Asset{}
	}
	writeJSON(w, http.StatusOK, assets)
}

// handleAddAsset registers an asset for later scanning
func (s *Server) handleAddAsset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Serial   string `json:"serial"`
		Name     string `json:"name"`
		Location string `json:"location"`
	}
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	asset, err := s.assets.AddAsset(req.Serial, req.Name, req.Location)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.assets.GetAsset(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := s.assets.DeleteAsset(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
