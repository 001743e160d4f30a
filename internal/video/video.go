package video

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidRef indicates that a video reference couldn't be resolved to a
// playable video.
var ErrInvalidRef = errors.New("invalid video reference")

// YouTube video IDs are always 11 characters from this alphabet.
var reVideoID = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Ref is a resolved reference to a playable video.
type Ref struct {
	URL string
	ID  string
}

// Resolve parses a YouTube URL (watch, youtu.be, embed, shorts, live) or a
// bare 11 character video ID into a Ref.
func Resolve(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, ErrInvalidRef
	}

	// A bare video ID.
	if reVideoID.MatchString(raw) {
		return Ref{URL: "https://www.youtube.com/watch?v=" + raw, ID: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, ErrInvalidRef
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Ref{}, ErrInvalidRef
	}

	id := extractID(u)
	if !reVideoID.MatchString(id) {
		return Ref{}, ErrInvalidRef
	}
	return Ref{URL: raw, ID: id}, nil
}

// extractID pulls the video ID out of the known YouTube URL shapes.
func extractID(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	switch host {
	case "youtu.be":
		return strings.Trim(u.Path, "/")

	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		for _, prefix := range []string{"/embed/", "/shorts/", "/live/"} {
			if strings.HasPrefix(u.Path, prefix) {
				return strings.Trim(strings.TrimPrefix(u.Path, prefix), "/")
			}
		}
	}
	return ""
}
