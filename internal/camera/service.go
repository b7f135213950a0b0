package camera

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"camera-gateway/internal/rtspurl"
	"camera-gateway/internal/streamerr"
	"camera-gateway/internal/transcoder"
)

// Service adapts Registry operations to the shapes the HTTP layer needs:
// typed errors, filesystem paths for playback and status projections.
type Service struct {
	reg *Registry
	log *slog.Logger
}

// NewService returns a Service over reg.
func NewService(reg *Registry, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{reg: reg, log: log.With(slog.String("component", "camera"))}
}

// Connect creates a session for rawURL. Username and password are optional
// and only used when both are set.
func (s *Service) Connect(ctx context.Context, rawURL, username, password string) (Session, error) {
	if strings.TrimSpace(rawURL) == "" {
		return Session{}, streamerr.New(streamerr.KindInvalidRequest, "rtspUrl is required.")
	}
	return s.reg.Create(ctx, rawURL, rtspurl.Credentials{Username: username, Password: password})
}

// Disconnect destroys the session.
func (s *Service) Disconnect(id SessionID) error {
	if id == "" {
		return streamerr.New(streamerr.KindInvalidRequest, "sessionId is required.")
	}
	if !s.reg.Destroy(id) {
		return errSessionNotFound(id)
	}
	return nil
}

// PlaylistURL is the path clients use to fetch the playlist of id.
func (s *Service) PlaylistURL(id SessionID) string {
	return "/api/camera/stream/" + string(id) + "/" + transcoder.PlaylistName
}

// PlaylistPath returns the on-disk playlist of id and records activity.
func (s *Service) PlaylistPath(id SessionID) (string, error) {
	sess, ok := s.reg.Get(id)
	if !ok {
		return "", errSessionNotFound(id)
	}
	path := filepath.Join(sess.Dir, transcoder.PlaylistName)
	if !isFile(path) {
		return "", streamerr.New(streamerr.KindSessionNotFound, "HLS playlist not found. Stream may not be ready yet.").
			WithDetail("session_id", string(id))
	}
	s.reg.Touch(id)
	return path, nil
}

// SegmentPath returns the on-disk segment name of id and records activity.
// Names that could escape the session directory are rejected before any
// lookup.
func (s *Service) SegmentPath(id SessionID, name string) (string, error) {
	if !ValidSegmentName(name) {
		s.log.Warn("rejected segment name", slog.String("session_id", string(id)), slog.String("segment", name))
		return "", streamerr.New(streamerr.KindInvalidRequest, "Invalid segment filename.")
	}
	sess, ok := s.reg.Get(id)
	if !ok {
		return "", errSessionNotFound(id)
	}
	path := filepath.Join(sess.Dir, name)
	if !isFile(path) {
		return "", streamerr.New(streamerr.KindSegmentNotFound, "Segment not found: "+name).
			WithDetail("session_id", string(id))
	}
	s.reg.Touch(id)
	return path, nil
}

// Status returns the status projection of id, including playlist health.
func (s *Service) Status(id SessionID) (Status, error) {
	sess, ok := s.reg.Get(id)
	if !ok {
		return Status{}, errSessionNotFound(id)
	}
	return Status{
		SessionID:    sess.ID,
		ConnectedAt:  sess.CreatedAt,
		LastActivity: sess.LastActivity,
		Metadata:     sess.Metadata,
		Health:       s.health(sess),
	}, nil
}

// ActiveSessions returns the number of active sessions.
func (s *Service) ActiveSessions() int {
	return s.reg.Count()
}

func (s *Service) health(sess Session) Health {
	data, err := os.ReadFile(filepath.Join(sess.Dir, transcoder.PlaylistName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.Warn("failed to read playlist", slog.String("session_id", string(sess.ID)), slog.String("error", err.Error()))
		}
		return Health{}
	}
	pl, err := ParsePlaylist(data)
	if err != nil {
		s.log.Debug("playlist not parseable", slog.String("session_id", string(sess.ID)), slog.String("error", err.Error()))
		return Health{}
	}
	return pl.Health()
}

// ValidSegmentName reports whether name is a plain file name.
func ValidSegmentName(name string) bool {
	return name != "" &&
		!strings.Contains(name, "..") &&
		!strings.ContainsAny(name, `/\`)
}

func errSessionNotFound(id SessionID) *streamerr.Error {
	return streamerr.New(streamerr.KindSessionNotFound, "Session not found: "+string(id)).
		WithDetail("session_id", string(id))
}

func isFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
