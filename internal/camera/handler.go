package camera

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"camera-gateway/internal/probe"
	"camera-gateway/internal/streamerr"

	"github.com/go-chi/chi/v5"
)

// Version is reported by the root and health endpoints.
const Version = "1.0.0"

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"

	maxConnectBody = 64 << 10
)

// Handler exposes the camera HTTP endpoints using go-chi.
type Handler struct {
	svc          *Service
	log          *slog.Logger
	ffmpegBinary string

	// lookPath resolves the ffmpeg binary for the health check.
	lookPath func(string) (string, error)
}

// NewHandler returns a Handler that uses the given Service and Logger.
// ffmpegBinary is resolved on every health check.
func NewHandler(svc *Service, log *slog.Logger, ffmpegBinary string) *Handler {
	return &Handler{svc: svc, log: log, ffmpegBinary: ffmpegBinary, lookPath: exec.LookPath}
}

// Limits holds optional per-route middlewares for the mutating endpoints.
type Limits struct {
	Connect    func(http.Handler) http.Handler
	Disconnect func(http.Handler) http.Handler
}

// Register mounts all camera routes on r.
func (h *Handler) Register(r chi.Router, lim Limits) {
	r.Get("/", h.Root)
	r.Get("/api/health", h.Health)
	r.Route("/api/camera", func(r chi.Router) {
		r.With(middlewares(lim.Connect)...).Post("/connect", h.Connect)
		r.With(middlewares(lim.Disconnect)...).Post("/disconnect", h.Disconnect)
		r.Get("/stream/{session_id}/playlist.m3u8", h.Playlist)
		r.Get("/stream/{session_id}/{segment_file}", h.Segment)
		r.Get("/status/{session_id}", h.Status)
	})
}

func middlewares(mw func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if mw == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{mw}
}

type connectRequest struct {
	RTSPURL  string `json:"rtspUrl"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type connectResponse struct {
	Status         string         `json:"status"`
	SessionID      SessionID      `json:"sessionId"`
	HLSPlaylistURL string         `json:"hlsPlaylistUrl"`
	StreamMetadata probe.Metadata `json:"streamMetadata"`
}

type disconnectRequest struct {
	SessionID SessionID `json:"sessionId"`
}

type disconnectResponse struct {
	Status    string    `json:"status"`
	SessionID SessionID `json:"sessionId"`
}

type statusResponse struct {
	Status         string         `json:"status"`
	SessionID      SessionID      `json:"sessionId"`
	ConnectedAt    string         `json:"connectedAt"`
	LastActivity   string         `json:"lastActivity"`
	StreamMetadata probe.Metadata `json:"streamMetadata"`
	Health         Health         `json:"health"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Timestamp      string `json:"timestamp"`
	Version        string `json:"version"`
	FFmpegPath     string `json:"ffmpegPath,omitempty"`
	ActiveSessions int    `json:"activeSessions"`
	Error          string `json:"error,omitempty"`
}

// Connect handles POST /api/camera/connect.
// Body: { "rtspUrl": "rtsp://cam.local:554/live", "username": "...", "password": "..." }.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log.Debug("invalid connect body", slog.String("error", err.Error()))
		h.writeError(w, r, streamerr.Wrap(streamerr.KindInvalidRequest, "Request body must be a JSON object with rtspUrl.", err))
		return
	}

	sess, err := h.svc.Connect(r.Context(), req.RTSPURL, req.Username, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, connectResponse{
		Status:         "connected",
		SessionID:      sess.ID,
		HLSPlaylistURL: h.svc.PlaylistURL(sess.ID),
		StreamMetadata: sess.Metadata,
	})
}

// Disconnect handles POST /api/camera/disconnect. Body: { "sessionId": "..." }.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req disconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, streamerr.Wrap(streamerr.KindInvalidRequest, "Request body must be a JSON object with sessionId.", err))
		return
	}

	if err := h.svc.Disconnect(req.SessionID); err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, disconnectResponse{Status: "disconnected", SessionID: req.SessionID})
}

// Playlist handles GET /api/camera/stream/{session_id}/playlist.m3u8.
func (h *Handler) Playlist(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	path, err := h.svc.PlaylistPath(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	h.serveFile(w, r, path)
}

// Segment handles GET /api/camera/stream/{session_id}/{segment_file}.
func (h *Handler) Segment(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	name, err := url.PathUnescape(chi.URLParam(r, "segment_file"))
	if err != nil {
		h.writeError(w, r, streamerr.Wrap(streamerr.KindInvalidRequest, "Invalid segment filename.", err))
		return
	}

	path, err := h.svc.SegmentPath(id, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	h.serveFile(w, r, path)
}

// Status handles GET /api/camera/status/{session_id}.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))

	st, err := h.svc.Status(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:         "connected",
		SessionID:      st.SessionID,
		ConnectedAt:    st.ConnectedAt.UTC().Format(time.RFC3339),
		LastActivity:   st.LastActivity.UTC().Format(time.RFC3339),
		StreamMetadata: st.Metadata,
		Health:         st.Health,
	})
}

// Health handles GET /api/health. It reports unhealthy when the ffmpeg
// binary cannot be resolved.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:         "healthy",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Version:        Version,
		ActiveSessions: h.svc.ActiveSessions(),
	}

	path, err := h.lookPath(h.ffmpegBinary)
	if err != nil {
		h.log.Error("health check failed", slog.String("binary", h.ffmpegBinary), slog.String("error", err.Error()))
		resp.Status = "unhealthy"
		resp.Error = "ffmpeg not found"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.FFmpegPath = path
	writeJSON(w, http.StatusOK, resp)
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "RTSP to HLS camera gateway",
		"version": Version,
		"status":  "running",
	})
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		// ffmpeg rotates segments out underneath us.
		if errors.Is(err, os.ErrNotExist) {
			h.writeError(w, r, streamerr.New(streamerr.KindSegmentNotFound, "File not found: "+filepath.Base(path)))
			return
		}
		h.writeError(w, r, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	http.ServeContent(w, r, fi.Name(), fi.ModTime(), f)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	se := streamerr.As(err)
	status := streamerr.HTTPStatus(se.Kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(se.Kind)),
			slog.String("error", err.Error()))
	} else {
		h.log.Debug("request rejected",
			slog.String("path", r.URL.Path),
			slog.String("kind", string(se.Kind)))
	}
	w.Header().Del("Cache-Control")
	w.Header().Del("Pragma")
	w.Header().Del("Expires")
	streamerr.WriteJSON(w, se)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxConnectBody))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
