// Package probe tests RTSP sources with ffprobe before a session is created.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"camera-gateway/internal/rtspurl"
	"camera-gateway/internal/streamerr"
)

// DefaultTimeout bounds each ffprobe invocation.
const DefaultTimeout = 10 * time.Second

// stderrContextLimit caps how much raw diagnostic text is attached to a
// generic connection failure.
const stderrContextLimit = 200

// Codec is a video codec the transcoder can pass through.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
)

// Metadata describes the primary video stream of a source.
type Metadata struct {
	Resolution string `json:"resolution"`
	Codec      Codec  `json:"codec"`
	FPS        int    `json:"fps"`
}

// DefaultMetadata is reported when detailed probing fails.
func DefaultMetadata() Metadata {
	return Metadata{Resolution: "unknown", Codec: CodecH264, FPS: 30}
}

// Options configures a Prober.
type Options struct {
	Binary  string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Prober runs ffprobe against RTSP sources.
type Prober struct {
	binary  string
	timeout time.Duration
	log     *slog.Logger
}

// New returns a Prober. Zero-valued options fall back to "ffprobe",
// DefaultTimeout and slog.Default().
func New(opts Options) *Prober {
	if opts.Binary == "" {
		opts.Binary = "ffprobe"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Prober{
		binary:  opts.Binary,
		timeout: opts.Timeout,
		log:     opts.Logger.With(slog.String("component", "probe")),
	}
}

// Validate reports whether rawURL is a structurally valid RTSP URL.
func (p *Prober) Validate(rawURL string) bool {
	return rtspurl.Valid(rawURL)
}

// TestConnection checks that the source is reachable and that its primary
// video stream uses a supported codec. Every failure is a *streamerr.Error.
func (p *Prober) TestConnection(ctx context.Context, rawURL string, creds rtspurl.Credentials) (Codec, error) {
	if !p.Validate(rawURL) {
		return "", streamerr.New(streamerr.KindInvalidURL, "Invalid RTSP URL format. Expected: rtsp://hostname:port/path")
	}
	target, err := rtspurl.WithCredentials(rawURL, creds)
	if err != nil {
		return "", streamerr.Wrap(streamerr.KindInvalidURL, "Invalid RTSP URL format. Expected: rtsp://hostname:port/path", err)
	}

	redacted := rtspurl.Redact(rawURL)
	p.log.Info("testing rtsp connection", slog.String("url", redacted))

	stdout, stderr, err := p.run(ctx, target,
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
	)
	stderr = scrub(stderr, rawURL, creds)
	if err != nil {
		if errors.Is(err, errProbeTimeout) {
			p.log.Error("rtsp connection timed out", slog.String("url", redacted), slog.Duration("timeout", p.timeout))
			return "", streamerr.Wrap(streamerr.KindTimeout, "Connection timeout. Camera not responding.", err).
				WithDetail("timeout_seconds", int(p.timeout.Seconds()))
		}
		if errors.Is(err, context.Canceled) {
			return "", streamerr.Wrap(streamerr.KindInternal, "Connection attempt was cancelled.", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.log.Error("ffprobe failed",
				slog.String("url", redacted),
				slog.Int("exit_code", exitErr.ExitCode()),
				slog.String("stderr", stderr))
			return "", classify(stderr)
		}
		p.log.Error("ffprobe could not run", slog.String("url", redacted), slog.String("error", err.Error()))
		return "", streamerr.Wrap(streamerr.KindUnreachable, "Failed to connect to camera. Please check the URL and try again.", err)
	}

	detected := strings.ToLower(strings.TrimSpace(firstLine(stdout)))
	p.log.Info("detected codec", slog.String("url", redacted), slog.String("codec", detected))

	codec, ok := NormalizeCodec(detected)
	if !ok {
		return "", streamerr.New(streamerr.KindUnsupportedCodec,
			"Unsupported video format. Camera must use H.264 or H.265 codec. Detected: "+detected).
			WithDetail("codec", detected)
	}
	return codec, nil
}

// ProbeMetadata reads resolution, codec and frame rate of the primary video
// stream. It never fails: any probe error yields DefaultMetadata.
func (p *Prober) ProbeMetadata(ctx context.Context, rawURL string, creds rtspurl.Credentials) Metadata {
	redacted := rtspurl.Redact(rawURL)

	target, err := rtspurl.WithCredentials(rawURL, creds)
	if err != nil {
		p.log.Warn("metadata probe skipped", slog.String("url", redacted), slog.String("error", err.Error()))
		return DefaultMetadata()
	}

	stdout, stderr, err := p.run(ctx, target,
		"-show_entries", "stream=codec_name,width,height,r_frame_rate",
		"-of", "json",
	)
	stderr = scrub(stderr, rawURL, creds)
	if err != nil {
		p.log.Warn("failed to probe stream metadata",
			slog.String("url", redacted),
			slog.String("error", err.Error()),
			slog.String("stderr", stderr))
		return DefaultMetadata()
	}

	md, err := ParseMetadata([]byte(stdout))
	if err != nil {
		p.log.Warn("unreadable stream metadata", slog.String("url", redacted), slog.String("error", err.Error()))
		return DefaultMetadata()
	}
	return md
}

var errProbeTimeout = errors.New("probe timed out")

// run invokes ffprobe for the first video stream of target with extra
// arguments appended. The process is killed once the probe timeout elapses.
func (p *Prober) run(ctx context.Context, target string, extra ...string) (stdout, stderr string, err error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-rtsp_transport", "tcp",
		"-timeout", strconv.FormatInt(p.timeout.Microseconds(), 10),
		"-v", "error",
		"-select_streams", "v:0",
	}
	args = append(args, extra...)
	args = append(args, target)

	// #nosec G204 - binary comes from configuration and args are fixed
	cmd := exec.CommandContext(ctx, p.binary, args...)
	cmd.WaitDelay = time.Second

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return outBuf.String(), errBuf.String(), fmt.Errorf("%w after %s", errProbeTimeout, p.timeout)
	case ctxErr != nil:
		return outBuf.String(), errBuf.String(), fmt.Errorf("probe cancelled: %w", ctxErr)
	}
	if runErr != nil {
		return outBuf.String(), errBuf.String(), runErr
	}
	return outBuf.String(), errBuf.String(), nil
}

// classify maps ffprobe diagnostic text to an error kind. Checks run in
// priority order.
func classify(stderr string) *streamerr.Error {
	switch {
	case strings.Contains(stderr, "401") || strings.Contains(stderr, "Unauthorized"):
		return streamerr.New(streamerr.KindAuthRequired, "Authentication required. Please provide username and password.")
	case strings.Contains(stderr, "Connection refused") || strings.Contains(stderr, "No route to host"):
		return streamerr.New(streamerr.KindUnreachable, "Cannot reach camera. Check IP address and network connection.")
	case strings.Contains(stderr, "Connection timed out"):
		return streamerr.New(streamerr.KindTimeout, "Connection timeout. Camera not responding.")
	}
	se := streamerr.New(streamerr.KindUnreachable, "Failed to connect to camera. Please check the URL and try again.")
	if s := strings.TrimSpace(stderr); s != "" {
		se.WithDetail("stderr", truncate(s, stderrContextLimit))
	}
	return se
}

// NormalizeCodec maps an ffprobe codec name to a supported Codec.
func NormalizeCodec(name string) (Codec, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h264":
		return CodecH264, true
	case "hevc", "h265":
		return CodecH265, true
	}
	return "", false
}

type probeOutput struct {
	Streams []struct {
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ParseMetadata decodes ffprobe JSON output for the first video stream.
func ParseMetadata(data []byte) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("decode ffprobe json: %w", err)
	}
	md := DefaultMetadata()
	if len(out.Streams) == 0 {
		return md, nil
	}
	s := out.Streams[0]

	if s.Width > 0 && s.Height > 0 {
		md.Resolution = fmt.Sprintf("%dx%d", s.Width, s.Height)
	}
	if s.CodecName != "" {
		if c, ok := NormalizeCodec(s.CodecName); ok {
			md.Codec = c
		} else {
			md.Codec = Codec(strings.ToLower(s.CodecName))
		}
	}
	if fps, ok := ParseFrameRate(s.RFrameRate); ok {
		md.FPS = fps
	}
	return md, nil
}

// ParseFrameRate converts an ffprobe rational such as "30000/1001" to the
// nearest integer.
func ParseFrameRate(s string) (int, bool) {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(num))
	if err != nil {
		return 0, false
	}
	d, err := strconv.Atoi(strings.TrimSpace(den))
	if err != nil || d == 0 {
		return 0, false
	}
	return int(math.Round(float64(n) / float64(d))), true
}

// scrub strips credentials from ffprobe diagnostics. ffprobe echoes its
// input URL, which carries the credentials composed for the probe.
func scrub(stderr, rawURL string, creds rtspurl.Credentials) string {
	return rtspurl.Scrub(stderr, creds, rtspurl.Embedded(rawURL))
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
