package model

import (
	"fmt"
	"strconv"
	"time"
)

// ContentKind identifies what a stream descriptor points at.
type ContentKind int

const (
	// KindAudio is an audio track. Audio files are tagged after download.
	KindAudio ContentKind = iota

	// KindCover is a cover image saved next to the audio files.
	KindCover
)

// String returns the lowercase name of the kind.
func (k ContentKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindCover:
		return "cover"
	default:
		return "unknown"
	}
}

// ParseContentKind parses the names produced by String.
func ParseContentKind(s string) (ContentKind, error) {
	switch s {
	case "", "audio", "track":
		return KindAudio, nil
	case "cover", "image":
		return KindCover, nil
	}
	return 0, fmt.Errorf("unknown content kind %q", s)
}

// Tags carries the catalog metadata needed for naming and tag embedding.
//
// Zero values mean "not provided". Naming placeholders bound to a zero value
// render as empty strings.
type Tags struct {
	TrackID       string
	Title         string
	TrackNumber   int
	VolumeNumber  int
	Duration      int // seconds
	ISRC          string
	TrackExplicit bool
	TrackQuality  string

	ArtistID   string
	ArtistName string

	AlbumID       string
	AlbumTitle    string
	AlbumArtist   string
	AlbumTracks   int
	AlbumDuration int // seconds
	AlbumExplicit bool
	AlbumQuality  string
	ReleaseDate   string // YYYY-MM-DD as reported by the catalog

	Copyright string

	// CoverURL references the album artwork embedded into audio files.
	CoverURL string
}

// StreamDescriptor identifies one downloadable unit resolved from the catalog.
//
// A descriptor is immutable once created by a resolver.
type StreamDescriptor struct {
	// URL is the stream location.
	URL string

	// ExpectedSize is the byte length reported by the catalog.
	// Zero or negative means unknown.
	ExpectedSize int64

	// Kind decides which post-processing the finalizer applies.
	Kind ContentKind

	// Format is the file extension without the dot, e.g. "flac" or "jpg".
	Format string

	Tags Tags
}

// KnownSize reports whether the descriptor declares an expected length.
func (d StreamDescriptor) KnownSize() bool {
	return d.ExpectedSize > 0
}

// String returns a short human readable label for logs and renderers.
func (d StreamDescriptor) String() string {
	switch {
	case d.Tags.ArtistName != "" && d.Tags.Title != "":
		return d.Tags.ArtistName + " - " + d.Tags.Title
	case d.Tags.Title != "":
		return d.Tags.Title
	case d.Kind == KindCover && d.Tags.AlbumTitle != "":
		return d.Tags.AlbumTitle + " (cover)"
	default:
		return d.URL
	}
}

// Fields returns the naming placeholders bound to the descriptor's tags.
//
// Values are raw. Sanitization is the renderer's job.
func (t Tags) Fields() map[string]string {
	albumArtist := t.AlbumArtist
	if albumArtist == "" {
		albumArtist = t.ArtistName
	}

	return map[string]string{
		"artist_name":        t.ArtistName,
		"artist_id":          t.ArtistID,
		"album_id":           t.AlbumID,
		"album_name":         t.AlbumTitle,
		"album_artist":       albumArtist,
		"album_duration":     itoaOrEmpty(t.AlbumDuration),
		"album_tracks":       itoaOrEmpty(t.AlbumTracks),
		"album_explicit":     explicitMark(t.AlbumExplicit),
		"album_quality":      t.AlbumQuality,
		"album_release":      t.ReleaseDate,
		"album_release_year": t.ReleaseYear(),
		"track_id":           t.TrackID,
		"track_name":         t.Title,
		"track_duration":     itoaOrEmpty(t.Duration),
		"track_num":          fmt.Sprintf("%02d", t.TrackNumber),
		"track_volume":       itoaOrEmpty(t.VolumeNumber),
		"track_isrc":         t.ISRC,
		"track_explicit":     explicitMark(t.TrackExplicit),
		"track_quality":      t.TrackQuality,
	}
}

// ReleaseYear returns the year component of ReleaseDate.
func (t Tags) ReleaseYear() string {
	if len(t.ReleaseDate) >= 4 {
		return t.ReleaseDate[:4]
	}
	return ""
}

// ReleaseTime parses ReleaseDate. The zero time is returned when the date
// is missing or malformed.
func (t Tags) ReleaseTime() time.Time {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if ts, err := time.Parse(layout, t.ReleaseDate); err == nil {
			return ts
		}
	}
	return time.Time{}
}

func itoaOrEmpty(n int) string {
	if n == 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func explicitMark(explicit bool) string {
	if explicit {
		return "E"
	}
	return ""
}
