// Package dto holds the JSON shapes of descriptor manifests.
package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ReleaseDate accepts the date spellings catalogs emit and normalizes them
// to YYYY-MM-DD.
type ReleaseDate struct {
	Value string
}

// UnmarshalJSON parses "2023-01-02", RFC 3339 timestamps or
// "01 Jan 2023 00:00:00 GMT". A bare year or year-month is kept as is.
func (d *ReleaseDate) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		d.Value = ""
		return nil
	}

	for _, layout := range []string{"2006", "2006-01"} {
		if _, err := time.Parse(layout, s); err == nil {
			d.Value = s
			return nil
		}
	}

	formats := []string{
		"2006-01-02",
		time.RFC3339,
		"02 Jan 2006 15:04:05 MST",
		"2 Jan 2006 15:04:05 MST",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			d.Value = t.Format("2006-01-02")
			return nil
		}
	}

	return fmt.Errorf("unable to parse date: %s", s)
}

// Seconds is a duration in seconds that may be written as a float.
type Seconds int

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*s = Seconds(math.Round(f))
	return nil
}

// JSONManifest is either {"items": [...]} or a bare array of items.
type JSONManifest struct {
	Items []JSONItem `json:"items"`
}

func (m *JSONManifest) UnmarshalJSON(data []byte) error {
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &m.Items)
	}
	type plain JSONManifest
	return json.Unmarshal(data, (*plain)(m))
}

// JSONItem is one downloadable unit.
type JSONItem struct {
	URL    string   `json:"url"`
	Size   int64    `json:"size"`
	Kind   string   `json:"kind"`
	Format string   `json:"format"`
	Tags   JSONTags `json:"tags"`
}

// JSONTags mirrors model.Tags.
type JSONTags struct {
	TrackID       string      `json:"track_id"`
	Title         string      `json:"title"`
	TrackNumber   int         `json:"track_number"`
	VolumeNumber  int         `json:"volume_number"`
	Duration      Seconds     `json:"duration"`
	ISRC          string      `json:"isrc"`
	TrackExplicit bool        `json:"explicit"`
	TrackQuality  string      `json:"quality"`
	ArtistID      string      `json:"artist_id"`
	ArtistName    string      `json:"artist_name"`
	AlbumID       string      `json:"album_id"`
	AlbumTitle    string      `json:"album_title"`
	AlbumArtist   string      `json:"album_artist"`
	AlbumTracks   int         `json:"album_tracks"`
	AlbumDuration Seconds     `json:"album_duration"`
	AlbumExplicit bool        `json:"album_explicit"`
	AlbumQuality  string      `json:"album_quality"`
	ReleaseDate   ReleaseDate `json:"release_date"`
	Copyright     string      `json:"copyright"`
	CoverURL      string      `json:"cover_url"`
}
