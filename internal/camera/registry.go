package camera

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camera-gateway/internal/probe"
	"camera-gateway/internal/rtspurl"
	"camera-gateway/internal/streamerr"
	"camera-gateway/internal/transcoder"

	"github.com/google/uuid"
)

const (
	DefaultMaxSessions    = 1
	DefaultSessionTimeout = time.Hour
	DefaultSweepInterval  = time.Hour
)

// Reasons a session is destroyed, reported to the Recorder and in logs.
const (
	ReasonDisconnect = "disconnect"
	ReasonExpired    = "expired"
	ReasonCrashed    = "crashed"
	ReasonShutdown   = "shutdown"
)

// Prober tests an RTSP source before a session is admitted.
type Prober interface {
	TestConnection(ctx context.Context, rawURL string, creds rtspurl.Credentials) (probe.Codec, error)
	ProbeMetadata(ctx context.Context, rawURL string, creds rtspurl.Credentials) probe.Metadata
}

// Supervisor owns the transcoding process and working directory of each
// session. The Registry only refers to processes by session ID.
type Supervisor interface {
	AllocateDirectory(sessionID string) (string, error)
	Start(job transcoder.Job) error
	IsAlive(sessionID string) bool
	Stop(sessionID string)
}

// Recorder receives session lifecycle events. *metrics.Metrics implements it.
type Recorder interface {
	SessionCreated()
	SessionDestroyed(reason string)
	ConnectFailed(kind string)
	SweepCompleted(expired, crashed int)
}

type noopRecorder struct{}

func (noopRecorder) SessionCreated()         {}
func (noopRecorder) SessionDestroyed(string) {}
func (noopRecorder) ConnectFailed(string)    {}
func (noopRecorder) SweepCompleted(int, int) {}

// RegistryOptions configures a Registry. Zero values select the defaults.
type RegistryOptions struct {
	MaxSessions    int
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	HWAccel        bool
	Logger         *slog.Logger
	Recorder       Recorder

	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() SessionID
}

// Registry is the concurrency-safe owner of all session records. It admits
// new sessions against a concurrency cap, hands out copies of records, and
// tears sessions down through the Supervisor.
type Registry struct {
	prober Prober
	sup    Supervisor
	opts   RegistryOptions
	log    *slog.Logger
	rec    Recorder

	mu      sync.RWMutex
	store   Store
	pending int // admitted creates that have not finished yet
	closed  bool
}

// NewRegistry returns a Registry backed by an InMemoryStore.
func NewRegistry(prober Prober, sup Supervisor, opts RegistryOptions) *Registry {
	return NewRegistryWithStore(prober, sup, NewInMemoryStore(), opts)
}

// NewRegistryWithStore returns a Registry that keeps records in store.
func NewRegistryWithStore(prober Prober, sup Supervisor, store Store, opts RegistryOptions) *Registry {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() SessionID { return SessionID(uuid.NewString()) }
	}
	rec := opts.Recorder
	if rec == nil {
		rec = noopRecorder{}
	}
	return &Registry{
		prober: prober,
		sup:    sup,
		opts:   opts,
		log:    opts.Logger.With(slog.String("component", "registry")),
		rec:    rec,
		store:  store,
	}
}

// Create probes rawURL, starts its transcoder and records the session.
// The concurrency cap is checked and a slot reserved atomically before any
// probing, so concurrent calls can never exceed MaxSessions. On failure no
// record, process or directory is left behind.
func (r *Registry) Create(ctx context.Context, rawURL string, creds rtspurl.Credentials) (Session, error) {
	if err := r.reserve(); err != nil {
		r.rec.ConnectFailed(string(streamerr.KindOf(err)))
		return Session{}, err
	}

	sess, err := r.start(ctx, rawURL, creds)

	r.mu.Lock()
	r.pending--
	closed := r.closed
	if err == nil && !closed {
		r.store.SetSession(sess)
	}
	r.mu.Unlock()

	if err == nil && closed {
		r.sup.Stop(string(sess.ID))
		err = streamerr.New(streamerr.KindInternal, "Service is shutting down.")
	}
	if err != nil {
		r.rec.ConnectFailed(string(streamerr.KindOf(err)))
		return Session{}, err
	}

	r.rec.SessionCreated()
	r.log.Info("session created",
		slog.String("session_id", string(sess.ID)),
		slog.String("url", sess.SourceURL),
		slog.String("codec", string(sess.Metadata.Codec)),
		slog.String("resolution", sess.Metadata.Resolution))
	return *sess, nil
}

// reserve claims an admission slot. A pending create holds its slot until
// it finishes, even if it later fails, so admission is conservative: a
// concurrent create may see connection_limit while a doomed connection test runs.
func (r *Registry) reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return streamerr.New(streamerr.KindInternal, "Service is shutting down.")
	}
	if r.store.Len()+r.pending >= r.opts.MaxSessions {
		r.log.Warn("connection limit reached",
			slog.Int("active", r.store.Len()),
			slog.Int("pending", r.pending),
			slog.Int("max", r.opts.MaxSessions))
		return streamerr.New(streamerr.KindConnectionLimit,
			"Connection limit reached. Disconnect current camera before connecting to another.").
			WithDetail("max_sessions", r.opts.MaxSessions)
	}
	r.pending++
	return nil
}

// start runs the connecting phase of a session. Nothing it does is visible
// to other callers until Create inserts the result.
func (r *Registry) start(ctx context.Context, rawURL string, creds rtspurl.Credentials) (*Session, error) {
	redacted := rtspurl.Redact(rawURL)

	codec, err := r.prober.TestConnection(ctx, rawURL, creds)
	if err != nil {
		r.log.Warn("rtsp connection test failed",
			slog.String("url", redacted),
			slog.String("kind", string(streamerr.KindOf(err))))
		return nil, err
	}

	md := r.prober.ProbeMetadata(ctx, rawURL, creds)
	// The strict probe already confirmed the codec; metadata probing may
	// have fallen back to defaults.
	md.Codec = codec

	id := r.opts.NewID()
	dir, err := r.sup.AllocateDirectory(string(id))
	if err != nil {
		r.log.Error("failed to allocate session directory",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		return nil, streamerr.Wrap(streamerr.KindProcessFailure, "Failed to prepare stream output.", err)
	}

	err = r.sup.Start(transcoder.Job{
		SessionID:   string(id),
		SourceURL:   rawURL,
		Credentials: creds,
		Dir:         dir,
		HWAccel:     r.opts.HWAccel,
	})
	if err != nil {
		r.log.Error("failed to start transcoder",
			slog.String("session_id", string(id)),
			slog.String("error", err.Error()))
		if streamerr.KindOf(err) == streamerr.KindInternal {
			err = streamerr.Wrap(streamerr.KindProcessFailure, "Failed to start transcoder.", err)
		}
		return nil, err
	}

	now := r.opts.Now().UTC()
	return &Session{
		ID:           id,
		SourceURL:    redacted,
		Dir:          dir,
		Metadata:     md,
		CreatedAt:    now,
		LastActivity: now,
	}, nil
}

// Get returns a copy of the session record for id.
func (r *Registry) Get(id SessionID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.store.GetSession(id)
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Touch records activity on id. It reports whether the session exists.
func (r *Registry) Touch(id SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.store.GetSession(id)
	if !ok {
		return false
	}
	sess.LastActivity = r.opts.Now().UTC()
	return true
}

// Count returns the number of active sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.Len()
}

// Destroy removes id and tears down its transcoder. It reports whether the
// session existed; destroying an unknown or already destroyed session is a
// no-op.
func (r *Registry) Destroy(id SessionID) bool {
	return r.destroy(id, ReasonDisconnect)
}

// destroy unlinks the record first so concurrent lookups see the session as
// gone while the process is still being stopped.
func (r *Registry) destroy(id SessionID, reason string) bool {
	r.mu.Lock()
	_, ok := r.store.DeleteSession(id)
	r.mu.Unlock()

	if !ok {
		r.log.Debug("session not found", slog.String("session_id", string(id)))
		return false
	}

	r.log.Info("destroying session", slog.String("session_id", string(id)), slog.String("reason", reason))
	r.sup.Stop(string(id))
	r.rec.SessionDestroyed(reason)
	r.log.Info("session destroyed", slog.String("session_id", string(id)))
	return true
}

// Shutdown rejects further creates and destroys every session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.closed = true
	ids := r.store.ListSessionIDs()
	r.mu.Unlock()

	r.log.Info("cleaning up all sessions", slog.Int("count", len(ids)))
	for _, id := range ids {
		r.destroy(id, ReasonShutdown)
	}
}

func (r *Registry) sessionIDs() []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.store.ListSessionIDs()
}
