// Package transcoder owns the ffmpeg processes that turn RTSP sources into
// HLS output, one process and one working directory per session.
package transcoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"camera-gateway/internal/rtspurl"
	"camera-gateway/internal/streamerr"
)

const (
	// PlaylistName is the playlist ffmpeg writes inside a session directory.
	PlaylistName = "playlist.m3u8"

	segmentPattern = "segment_%03d.ts"

	DefaultSegmentDuration = 2
	DefaultPlaylistSize    = 5
	DefaultGracePeriod     = 5 * time.Second
	DefaultKillTimeout     = 2 * time.Second

	stderrTailLines = 64
)

// Options configures a Supervisor.
type Options struct {
	Binary          string
	BaseDir         string
	SegmentDuration int
	PlaylistSize    int
	GracePeriod     time.Duration
	KillTimeout     time.Duration
	Logger          *slog.Logger
}

// Job describes one transcoding process to start.
type Job struct {
	SessionID   string
	SourceURL   string
	Credentials rtspurl.Credentials
	Dir         string
	HWAccel     bool
}

type process struct {
	cmd      *exec.Cmd
	dir      string
	done     chan struct{}
	exitErr  error // valid once done is closed
	stderr   *LineRing
	secrets  []rtspurl.Credentials
	stopping atomic.Bool
}

// stderrTail returns the last n stderr lines with credentials removed.
// ffmpeg echoes its input URL in diagnostics.
func (p *process) stderrTail(n int) []string {
	lines := p.stderr.LastN(n)
	for i, line := range lines {
		lines[i] = rtspurl.Scrub(line, p.secrets...)
	}
	return lines
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor starts, polls and stops ffmpeg processes keyed by session ID.
// Process handles never leave the Supervisor.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	mu    sync.Mutex
	procs map[string]*process
}

// New creates the base output directory and returns a Supervisor.
func New(opts Options) (*Supervisor, error) {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = DefaultSegmentDuration
	}
	if opts.PlaylistSize <= 0 {
		opts.PlaylistSize = DefaultPlaylistSize
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = DefaultKillTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BaseDir == "" {
		return nil, errors.New("transcoder: base directory is required")
	}
	if err := os.MkdirAll(opts.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	log := opts.Logger.With(slog.String("component", "transcoder"))
	log.Info("transcoder supervisor initialized", slog.String("base_dir", opts.BaseDir))

	return &Supervisor{
		opts:  opts,
		log:   log,
		procs: make(map[string]*process),
	}, nil
}

// AllocateDirectory creates the working directory for sessionID. Calling it
// again for the same session is not an error.
func (s *Supervisor) AllocateDirectory(sessionID string) (string, error) {
	if sessionID == "" || sessionID != filepath.Base(sessionID) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	dir := filepath.Join(s.opts.BaseDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return "", fmt.Errorf("session dir not writable: %w", err)
	}
	f.Close()
	os.Remove(f.Name())

	s.log.Info("created session directory", slog.String("session_id", sessionID), slog.String("dir", dir))
	return dir, nil
}

// Args returns the ffmpeg arguments for reading input and writing a sliding
// HLS playlist into dir.
func (s *Supervisor) Args(input, dir string, hwaccel bool) []string {
	args := make([]string, 0, 24)
	if hwaccel {
		args = append(args, "-hwaccel", "auto")
	}
	args = append(args,
		"-rtsp_transport", "tcp",
		"-i", input,
		"-c:v", "copy",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", strconv.Itoa(s.opts.SegmentDuration),
		"-hls_list_size", strconv.Itoa(s.opts.PlaylistSize),
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", filepath.Join(dir, segmentPattern),
		filepath.Join(dir, PlaylistName),
	)
	return args
}

// Start launches ffmpeg for job. If the process cannot be spawned, job.Dir is
// removed before the error is returned.
func (s *Supervisor) Start(job Job) error {
	s.mu.Lock()
	_, exists := s.procs[job.SessionID]
	s.mu.Unlock()
	if exists {
		return streamerr.New(streamerr.KindProcessFailure, "Transcoder already running for session.")
	}

	input, err := rtspurl.WithCredentials(job.SourceURL, job.Credentials)
	if err != nil {
		s.removeDir(job.SessionID, job.Dir)
		return streamerr.Wrap(streamerr.KindProcessFailure, "Failed to start transcoder.", err)
	}

	args := s.Args(input, job.Dir, job.HWAccel)

	// #nosec G204 - binary comes from configuration and args are fixed
	cmd := exec.Command(s.opts.Binary, args...)
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = s.opts.KillTimeout
	ring := NewLineRing(stderrTailLines)
	cmd.Stderr = ring

	s.log.Info("starting ffmpeg",
		slog.String("session_id", job.SessionID),
		slog.String("url", rtspurl.Redact(job.SourceURL)),
		slog.Bool("hwaccel", job.HWAccel))
	s.log.Debug("ffmpeg command",
		slog.String("session_id", job.SessionID),
		slog.Any("args", s.Args(rtspurl.Redact(job.SourceURL), job.Dir, job.HWAccel)))

	if err := cmd.Start(); err != nil {
		s.log.Error("failed to spawn ffmpeg",
			slog.String("session_id", job.SessionID),
			slog.String("error", err.Error()))
		s.removeDir(job.SessionID, job.Dir)
		return streamerr.Wrap(streamerr.KindProcessFailure, "Failed to start transcoder.", err)
	}

	proc := &process{
		cmd:     cmd,
		dir:     job.Dir,
		done:    make(chan struct{}),
		stderr:  ring,
		secrets: []rtspurl.Credentials{job.Credentials, rtspurl.Embedded(job.SourceURL)},
	}
	go s.wait(job.SessionID, proc)

	s.mu.Lock()
	s.procs[job.SessionID] = proc
	s.mu.Unlock()

	s.log.Info("ffmpeg spawned", slog.String("session_id", job.SessionID), slog.Int("pid", cmd.Process.Pid))
	return nil
}

func (s *Supervisor) wait(sessionID string, proc *process) {
	proc.exitErr = proc.cmd.Wait()
	close(proc.done)

	if proc.stopping.Load() {
		return
	}
	attrs := []any{
		slog.String("session_id", sessionID),
		slog.Any("stderr_tail", proc.stderrTail(10)),
	}
	if proc.exitErr != nil {
		attrs = append(attrs, slog.String("error", proc.exitErr.Error()))
	}
	s.log.Warn("ffmpeg exited unexpectedly", attrs...)
}

// IsAlive reports whether the process for sessionID is still running. It
// never blocks.
func (s *Supervisor) IsAlive(sessionID string) bool {
	s.mu.Lock()
	proc, ok := s.procs[sessionID]
	s.mu.Unlock()
	return ok && !proc.exited()
}

// Active returns the number of supervised processes, running or not yet
// stopped.
func (s *Supervisor) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

// Stop terminates the process for sessionID (SIGTERM, then SIGKILL after the
// grace period) and removes its working directory. Unknown sessions, exited
// processes and missing directories are not errors; failures are logged.
func (s *Supervisor) Stop(sessionID string) {
	s.mu.Lock()
	proc, ok := s.procs[sessionID]
	delete(s.procs, sessionID)
	s.mu.Unlock()

	if !ok {
		s.log.Debug("no transcoder for session", slog.String("session_id", sessionID))
		return
	}

	proc.stopping.Store(true)
	s.terminate(sessionID, proc)
	s.removeDir(sessionID, proc.dir)
	s.log.Info("cleaned up transcoder", slog.String("session_id", sessionID))
}

// StopAll stops every supervised process.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
}

func (s *Supervisor) terminate(sessionID string, proc *process) {
	if proc.exited() {
		return
	}
	pid := proc.cmd.Process.Pid

	if err := interruptGroup(proc.cmd.Process); err != nil {
		s.log.Warn("SIGTERM failed", slog.String("session_id", sessionID), slog.Int("pid", pid), slog.String("error", err.Error()))
	}
	select {
	case <-proc.done:
		s.log.Info("ffmpeg terminated", slog.String("session_id", sessionID))
		return
	case <-time.After(s.opts.GracePeriod):
	}

	s.log.Warn("ffmpeg did not terminate gracefully, killing",
		slog.String("session_id", sessionID),
		slog.Int("pid", pid),
		slog.Duration("grace", s.opts.GracePeriod))
	if err := killGroup(proc.cmd.Process); err != nil {
		s.log.Error("SIGKILL failed", slog.String("session_id", sessionID), slog.Int("pid", pid), slog.String("error", err.Error()))
	}
	select {
	case <-proc.done:
	case <-time.After(s.opts.KillTimeout):
		s.log.Error("ffmpeg still running after SIGKILL", slog.String("session_id", sessionID), slog.Int("pid", pid))
	}
}

func (s *Supervisor) removeDir(sessionID, dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.log.Error("failed to remove session directory",
			slog.String("session_id", sessionID),
			slog.String("dir", dir),
			slog.String("error", err.Error()))
		return
	}
	s.log.Debug("removed session directory", slog.String("session_id", sessionID), slog.String("dir", dir))
}
