// Package desktop parses window:// resource identifiers and assembles the
// ordered desktop view a Computer serves to Agents.
package desktop

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// WindowURI is a parsed window:// identifier.
//
// The form is window://<host>[/<segment>...][?priority=N&fullscreen=B].
// The host names the MCP server that owns the window; path segments name the
// window within it. Priority must be an integer in [0,100]. Fullscreen
// accepts true/1/yes/on and false/0/no/off case-insensitively; any other
// value is treated as unset.
type WindowURI struct {
	Host       string
	Segments   []string
	Priority   *int
	Fullscreen *bool
}

// ParseWindowURI validates and decomposes a window:// URI.
func ParseWindowURI(raw string) (*WindowURI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid window URI %q: %w", raw, err)
	}
	if u.Scheme != "window" {
		return nil, fmt.Errorf("invalid scheme %q, expected window", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("window URI %q has no host", raw)
	}

	var segments []string
	for _, seg := range strings.Split(strings.TrimPrefix(u.EscapedPath(), "/"), "/") {
		if seg == "" {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, fmt.Errorf("invalid path segment %q: %w", seg, err)
		}
		segments = append(segments, decoded)
	}

	w := &WindowURI{Host: u.Host, Segments: segments}

	query := u.Query()
	if raw := query.Get("priority"); raw != "" {
		// Non-numeric priority is ignored, out-of-range is rejected.
		if p, err := strconv.Atoi(raw); err == nil {
			if p < 0 || p > 100 {
				return nil, fmt.Errorf("priority %d out of range [0,100]", p)
			}
			w.Priority = &p
		}
	}
	if raw := query.Get("fullscreen"); raw != "" {
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on":
			v := true
			w.Fullscreen = &v
		case "false", "0", "no", "off":
			v := false
			w.Fullscreen = &v
		}
	}

	return w, nil
}

// BuildWindowURI assembles a window:// URI with percent-encoded segments.
func BuildWindowURI(host string, segments []string, priority *int, fullscreen *bool) (string, error) {
	if host == "" {
		return "", fmt.Errorf("window URI host must not be empty")
	}

	var sb strings.Builder
	sb.WriteString("window://")
	sb.WriteString(host)
	for _, seg := range segments {
		sb.WriteByte('/')
		sb.WriteString(url.PathEscape(seg))
	}

	var query []string
	if priority != nil {
		if *priority < 0 || *priority > 100 {
			return "", fmt.Errorf("priority %d out of range [0,100]", *priority)
		}
		query = append(query, "priority="+strconv.Itoa(*priority))
	}
	if fullscreen != nil {
		query = append(query, "fullscreen="+strconv.FormatBool(*fullscreen))
	}
	if len(query) > 0 {
		sb.WriteByte('?')
		sb.WriteString(strings.Join(query, "&"))
	}

	return sb.String(), nil
}

// String rebuilds the canonical URI form.
func (w *WindowURI) String() string {
	s, _ := BuildWindowURI(w.Host, w.Segments, w.Priority, w.Fullscreen)
	return s
}

// IsWindowURI reports whether raw parses as a valid window:// URI.
func IsWindowURI(raw string) bool {
	_, err := ParseWindowURI(raw)
	return err == nil
}

// PriorityOf returns the parsed priority of a window URI, defaulting to 0
// for missing priority or unparseable URIs.
func PriorityOf(raw string) int {
	w, err := ParseWindowURI(raw)
	if err != nil || w.Priority == nil {
		return 0
	}
	return *w.Priority
}
