package camera

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"camera-gateway/internal/probe"
	"camera-gateway/internal/rtspurl"
	"camera-gateway/internal/streamerr"
	"camera-gateway/internal/transcoder"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProber struct {
	mu       sync.Mutex
	codec    probe.Codec
	metadata probe.Metadata
	err      error
	delay    time.Duration
	calls    int
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		codec:    probe.CodecH264,
		metadata: probe.Metadata{Resolution: "1920x1080", Codec: probe.CodecH264, FPS: 25},
	}
}

func (p *fakeProber) TestConnection(ctx context.Context, _ string, _ rtspurl.Credentials) (probe.Codec, error) {
	p.mu.Lock()
	p.calls++
	codec, err, delay := p.codec, p.err, p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", streamerr.Wrap(streamerr.KindInternal, "Connection attempt was cancelled.", ctx.Err())
		}
	}
	if err != nil {
		return "", err
	}
	return codec, nil
}

func (p *fakeProber) ProbeMetadata(context.Context, string, rtspurl.Credentials) probe.Metadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metadata
}

type fakeSupervisor struct {
	mu       sync.Mutex
	baseDir  string
	allocErr error
	startErr error
	jobs     []transcoder.Job
	alive    map[string]bool
	stopped  []string
	panicOn  string
}

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{
		baseDir: "/tmp/fake-hls",
		alive:   make(map[string]bool),
	}
}

func (s *fakeSupervisor) AllocateDirectory(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocErr != nil {
		return "", s.allocErr
	}
	return filepath.Join(s.baseDir, id), nil
}

func (s *fakeSupervisor) Start(job transcoder.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.jobs = append(s.jobs, job)
	s.alive[job.SessionID] = true
	return nil
}

func (s *fakeSupervisor) IsAlive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive[id]
}

func (s *fakeSupervisor) Stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.panicOn {
		panic("stop failed")
	}
	s.stopped = append(s.stopped, id)
	delete(s.alive, id)
}

// crash marks the process for id as exited without stopping it.
func (s *fakeSupervisor) crash(id SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive[string(id)] = false
}

func (s *fakeSupervisor) stopCount(id SessionID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.stopped {
		if v == string(id) {
			n++
		}
	}
	return n
}

func (s *fakeSupervisor) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fakeRecorder struct {
	mu        sync.Mutex
	created   int
	destroyed map[string]int
	failed    map[string]int
	sweeps    int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{destroyed: map[string]int{}, failed: map[string]int{}}
}

func (r *fakeRecorder) SessionCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *fakeRecorder) SessionDestroyed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed[reason]++
}

func (r *fakeRecorder) ConnectFailed(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[kind]++
}

func (r *fakeRecorder) SweepCompleted(int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestRegistry(p *fakeProber, s *fakeSupervisor, opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return NewRegistry(p, s, opts)
}
