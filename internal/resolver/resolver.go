// Package resolver turns user input into stream descriptors.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/handiism/tdl/internal/model"
	"github.com/handiism/tdl/internal/resolver/dto"
)

// Resolver produces the descriptors a source refers to.
type Resolver interface {
	Resolve(ctx context.Context, source string) ([]model.StreamDescriptor, error)
}

// Getter downloads a remote manifest. *http.Client implements it.
type Getter interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// ErrEmptyManifest is returned for manifests with no items.
var ErrEmptyManifest = errors.New("manifest has no items")

// ItemError reports an invalid manifest item.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ManifestResolver reads JSON manifests from files, stdin ("-") or, when a
// Getter is set, http(s) URLs.
//
// Example:
//
//	r := resolver.NewManifestResolver(client)
//	descs, err := r.Resolve(ctx, "album.json")
type ManifestResolver struct {
	getter Getter
	stdin  io.Reader
}

// NewManifestResolver creates a resolver. getter may be nil, in which case
// remote manifests are rejected.
func NewManifestResolver(getter Getter) *ManifestResolver {
	return &ManifestResolver{getter: getter, stdin: os.Stdin}
}

// Resolve loads and parses the manifest at source.
func (r *ManifestResolver) Resolve(ctx context.Context, source string) ([]model.StreamDescriptor, error) {
	data, err := r.load(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("load manifest %s: %w", source, err)
	}
	descs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", source, err)
	}
	return descs, nil
}

func (r *ManifestResolver) load(ctx context.Context, source string) ([]byte, error) {
	switch {
	case source == "-":
		return io.ReadAll(r.stdin)
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		if r.getter == nil {
			return nil, errors.New("remote manifests are not enabled")
		}
		return r.getter.GetBytes(ctx, source)
	default:
		return os.ReadFile(source)
	}
}

// Parse decodes a manifest document into descriptors, in document order.
func Parse(data []byte) ([]model.StreamDescriptor, error) {
	var m dto.JSONManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}
	if len(m.Items) == 0 {
		return nil, ErrEmptyManifest
	}

	out := make([]model.StreamDescriptor, 0, len(m.Items))
	for i, item := range m.Items {
		d, err := toDescriptor(item)
		if err != nil {
			return nil, &ItemError{Index: i, Err: err}
		}
		out = append(out, d)
	}
	return out, nil
}

func toDescriptor(item dto.JSONItem) (model.StreamDescriptor, error) {
	kind, err := model.ParseContentKind(strings.ToLower(item.Kind))
	if err != nil {
		return model.StreamDescriptor{}, err
	}

	streamURL, err := absoluteURL(item.URL)
	if err != nil {
		return model.StreamDescriptor{}, fmt.Errorf("url: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(item.Format), ".")
	if format == "" {
		format = formatFromURL(streamURL)
	}
	if format == "" {
		return model.StreamDescriptor{}, errors.New("format is required when the url has no extension")
	}

	t := item.Tags
	tags := model.Tags{
		TrackID:       t.TrackID,
		Title:         t.Title,
		TrackNumber:   t.TrackNumber,
		VolumeNumber:  t.VolumeNumber,
		Duration:      int(t.Duration),
		ISRC:          t.ISRC,
		TrackExplicit: t.TrackExplicit,
		TrackQuality:  t.TrackQuality,
		ArtistID:      t.ArtistID,
		ArtistName:    t.ArtistName,
		AlbumID:       t.AlbumID,
		AlbumTitle:    t.AlbumTitle,
		AlbumArtist:   t.AlbumArtist,
		AlbumTracks:   t.AlbumTracks,
		AlbumDuration: int(t.AlbumDuration),
		AlbumExplicit: t.AlbumExplicit,
		AlbumQuality:  t.AlbumQuality,
		ReleaseDate:   t.ReleaseDate.Value,
		Copyright:     t.Copyright,
	}
	if t.CoverURL != "" {
		tags.CoverURL, err = absoluteURL(t.CoverURL)
		if err != nil {
			return model.StreamDescriptor{}, fmt.Errorf("cover_url: %w", err)
		}
	}

	return model.StreamDescriptor{
		URL:          streamURL,
		ExpectedSize: item.Size,
		Kind:         kind,
		Format:       format,
		Tags:         tags,
	}, nil
}

// absoluteURL accepts http(s) URLs. Protocol-relative "//host/..." URLs get
// https. Anything relative is rejected.
func absoluteURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("missing")
	}
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%q is not an absolute http(s) url", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	return u.String(), nil
}

func formatFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), "."))
}
