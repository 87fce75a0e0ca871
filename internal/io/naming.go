package ioutils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxSegmentLength is the byte limit applied to every path segment.
// Common filesystems cap a single name at 255 bytes.
const MaxSegmentLength = 255

var (
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots  = regexp.MustCompile(`[. ]+$`)
	runsOfSpaces  = regexp.MustCompile(`\s+`)
	placeholderRe = regexp.MustCompile(`\{([a-z0-9_]*)\}`)
)

// RenderError reports a template that cannot be turned into a path.
type RenderError struct {
	Template string
	Reason   string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %q: %s", e.Template, e.Reason)
}

// Render substitutes {placeholders} in template with values from fields and
// returns a filesystem-safe path.
//
// The template is split on "/". Each segment has its placeholders replaced by
// sanitized values, then the whole segment is sanitized and trimmed to
// MaxSegmentLength bytes. A leading "/" is kept, so absolute templates stay
// absolute. Unknown placeholders and unbalanced braces are errors.
//
// Render is pure: the same template and fields always give the same path.
//
// Example:
//
//	p, _ := Render("/music/{artist_name}/{track_num} - {track_name}", map[string]string{
//	    "artist_name": "AC/DC",
//	    "track_num":   "01",
//	    "track_name":  "Hells Bells?",
//	})
//	// p = "/music/AC_DC/01 - Hells Bells_"
func Render(template string, fields map[string]string) (string, error) {
	if strings.TrimSpace(template) == "" {
		return "", &RenderError{Template: template, Reason: "empty template"}
	}

	absolute := strings.HasPrefix(template, "/")
	raw := strings.Split(strings.Trim(template, "/"), "/")

	segments := make([]string, 0, len(raw))
	for _, seg := range raw {
		if seg == "" {
			continue
		}

		rendered, err := renderSegment(template, seg, fields)
		if err != nil {
			return "", err
		}
		segments = append(segments, rendered)
	}

	if len(segments) == 0 {
		return "", &RenderError{Template: template, Reason: "no path segments"}
	}

	path := strings.Join(segments, "/")
	if absolute {
		path = "/" + path
	}
	return path, nil
}

// RenderFile is Render followed by ".ext". The last segment is trimmed so the
// file name including the extension fits in MaxSegmentLength bytes. An empty
// ext gives the same result as Render.
func RenderFile(template string, fields map[string]string, ext string) (string, error) {
	path, err := Render(template, fields)
	if err != nil {
		return "", err
	}

	ext = SanitizeFileName(strings.TrimPrefix(strings.ToLower(ext), "."))
	if ext == "" {
		return path, nil
	}
	ext = truncateBytes(ext, MaxSegmentLength/2)

	dir, name := "", path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		dir, name = path[:i+1], path[i+1:]
	}
	name = truncateBytes(name, MaxSegmentLength-len(ext)-1)
	name = trailingDots.ReplaceAllString(name, "")
	if name == "" {
		name = "_"
	}
	return dir + name + "." + ext, nil
}

func renderSegment(template, seg string, fields map[string]string) (string, error) {
	if strings.ContainsAny(placeholderRe.ReplaceAllString(seg, ""), "{}") {
		return "", &RenderError{Template: template, Reason: "unbalanced brace in " + seg}
	}

	var missing string
	out := placeholderRe.ReplaceAllStringFunc(seg, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := fields[name]
		if !ok {
			if missing == "" {
				missing = m
			}
			return ""
		}
		return SanitizeFileName(v)
	})

	if missing != "" {
		return "", &RenderError{Template: template, Reason: "unknown placeholder " + missing}
	}

	return SanitizeSegment(out), nil
}

// SanitizeFileName removes or replaces characters that are invalid in
// file or folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars 0x00-0x1f) → underscore
//   - Trailing dots and spaces → removed (Windows limitation)
//   - Whitespace runs → single space
//
// Example:
//
//	SanitizeFileName("Song: Part 1/2")     // Returns "Song_ Part 1_2"
//	SanitizeFileName("Track...")           // Returns "Track"
//	SanitizeFileName("Name   with  spaces") // Returns "Name with spaces"
func SanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = runsOfSpaces.ReplaceAllString(name, " ")
	name = trailingDots.ReplaceAllString(name, "")
	return strings.TrimLeft(name, " ")
}

// SanitizeSegment sanitizes a full path segment and enforces
// MaxSegmentLength. Segments that would be empty, "." or ".." become "_".
func SanitizeSegment(seg string) string {
	seg = SanitizeFileName(seg)
	seg = truncateBytes(seg, MaxSegmentLength)
	seg = trailingDots.ReplaceAllString(seg, "")

	switch seg {
	case "", ".", "..":
		return "_"
	}
	return seg
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
