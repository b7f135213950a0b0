// Package rtspurl validates RTSP source URLs and manages the credentials
// embedded in them.
package rtspurl

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// pattern accepts rtsp://[user:pass@]host[:port][/path].
var pattern = regexp.MustCompile(`^rtsp://(?:([^:]+):([^@]+)@)?([^:/]+)(?::(\d{1,5}))?(/.*)?$`)

// Credentials are passed through to the camera and never persisted.
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether c lacks either a username or a password. Partial
// credentials are treated as absent.
func (c Credentials) IsZero() bool {
	return c.Username == "" || c.Password == ""
}

// Valid reports whether raw is structurally a usable RTSP URL. It performs
// no network I/O.
func Valid(raw string) bool {
	return pattern.MatchString(raw)
}

// WithCredentials returns raw with its userinfo replaced by creds. If creds
// is zero, raw is returned unchanged.
func WithCredentials(raw string, creds Credentials) (string, error) {
	if creds.IsZero() {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse rtsp url: %w", err)
	}
	u.User = url.UserPassword(creds.Username, creds.Password)
	return u.String(), nil
}

// Redact returns raw with any userinfo removed, for logs and stored records.
// A URL Valid accepts is rebuilt from its host, port and path, so characters
// in the password that net/url would read as a port or query cannot survive.
func Redact(raw string) string {
	if m := pattern.FindStringSubmatch(raw); m != nil {
		out := "rtsp://" + m[3]
		if m[4] != "" {
			out += ":" + m[4]
		}
		return out + m[5]
	}
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	return scheme + "://" + rest
}

// Embedded returns the credentials written into raw itself, if any.
func Embedded(raw string) Credentials {
	m := pattern.FindStringSubmatch(raw)
	if m == nil {
		return Credentials{}
	}
	return Credentials{Username: m[1], Password: m[2]}
}

const mask = "***"

// userinfoPattern matches the scheme and userinfo of an RTSP URL inside
// free-form text such as ffmpeg diagnostics.
var userinfoPattern = regexp.MustCompile(`(?i)(rtsps?://)[^\s/@]*@`)

// Scrub removes userinfo from every RTSP URL in text and masks each password
// in creds, raw or percent-encoded. Use it on anything an external tool
// printed after being handed a credentialed URL.
func Scrub(text string, creds ...Credentials) string {
	text = userinfoPattern.ReplaceAllString(text, "${1}")
	for _, c := range creds {
		if c.Password == "" {
			continue
		}
		for _, secret := range []string{c.Password, url.PathEscape(c.Password), url.QueryEscape(c.Password)} {
			text = strings.ReplaceAll(text, secret, mask)
		}
	}
	return text
}
