package camera

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Segment is one media segment listed in a live playlist.
type Segment struct {
	Sequence int64
	Duration float64
	Path     string
}

// Playlist is the parsed form of the sliding HLS playlist ffmpeg maintains.
type Playlist struct {
	TargetDuration int
	MediaSequence  int64
	Segments       []Segment
	Ended          bool
}

var errNotPlaylist = errors.New("missing #EXTM3U header")

// ParsePlaylist reads a media playlist. Segment sequence numbers start at
// #EXT-X-MEDIA-SEQUENCE. When #EXT-X-TARGETDURATION is absent it is derived
// from the longest segment.
func ParsePlaylist(data []byte) (Playlist, error) {
	var pl Playlist
	sc := bufio.NewScanner(bytes.NewReader(data))

	header := false
	hasTarget := false
	pending := -1.0
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !header {
			if line != "#EXTM3U" {
				return Playlist{}, errNotPlaylist
			}
			header = true
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return Playlist{}, fmt.Errorf("target duration: %w", err)
			}
			pl.TargetDuration = v
			hasTarget = true
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			v, err := strconv.ParseInt(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"), 10, 64)
			if err != nil {
				return Playlist{}, fmt.Errorf("media sequence: %w", err)
			}
			pl.MediaSequence = v
		case strings.HasPrefix(line, "#EXTINF:"):
			dur, _, _ := strings.Cut(strings.TrimPrefix(line, "#EXTINF:"), ",")
			v, err := strconv.ParseFloat(dur, 64)
			if err != nil {
				return Playlist{}, fmt.Errorf("segment duration: %w", err)
			}
			pending = v
		case line == "#EXT-X-ENDLIST":
			pl.Ended = true
		case strings.HasPrefix(line, "#"):
			// other tags are not needed
		default:
			if pending < 0 {
				return Playlist{}, fmt.Errorf("segment %q without #EXTINF", line)
			}
			pl.Segments = append(pl.Segments, Segment{
				Sequence: pl.MediaSequence + int64(len(pl.Segments)),
				Duration: pending,
				Path:     line,
			})
			pending = -1
		}
	}
	if err := sc.Err(); err != nil {
		return Playlist{}, err
	}
	if !header {
		return Playlist{}, errNotPlaylist
	}
	if !hasTarget {
		pl.TargetDuration = targetDurationFromSegments(pl.Segments)
	}
	return pl, nil
}

// Health projects the playlist onto the status response.
func (pl Playlist) Health() Health {
	return Health{
		PlaylistReady:  true,
		SegmentCount:   len(pl.Segments),
		MediaSequence:  pl.MediaSequence,
		TargetDuration: pl.TargetDuration,
	}
}

// targetDurationFromSegments returns the HLS #EXT-X-TARGETDURATION value:
// the ceiling of the maximum segment duration in seconds (integer).
func targetDurationFromSegments(segments []Segment) int {
	max := 0.0
	for _, seg := range segments {
		if seg.Duration > max {
			max = seg.Duration
		}
	}
	if max <= 0 {
		return 1
	}
	return int(math.Ceil(max))
}
