package camera

import (
	"time"

	"camera-gateway/internal/probe"
)

// SessionID uniquely identifies a camera session. IDs are never reused.
type SessionID string

// Session is the in-memory record of one RTSP to HLS conversion.
type Session struct {
	ID SessionID
	// SourceURL has credentials stripped. The credentialed form only ever
	// reaches the transcoder process.
	SourceURL    string
	Dir          string
	Metadata     probe.Metadata
	CreatedAt    time.Time
	LastActivity time.Time
}

// Health summarises the playlist ffmpeg is currently writing.
type Health struct {
	PlaylistReady  bool  `json:"playlistReady"`
	SegmentCount   int   `json:"segmentCount"`
	MediaSequence  int64 `json:"mediaSequence"`
	TargetDuration int   `json:"targetDuration"`
}

// Status is the externally visible projection of a session.
type Status struct {
	SessionID    SessionID
	ConnectedAt  time.Time
	LastActivity time.Time
	Metadata     probe.Metadata
	Health       Health
}
