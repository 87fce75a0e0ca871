// Package finalize places fetched files at their destination and tags them.
package finalize

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/handiism/tdl/internal/audio"
	ioutils "github.com/handiism/tdl/internal/io"
	"github.com/handiism/tdl/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CoverSource downloads cover art. *http.Client implements it.
type CoverSource interface {
	GetBytes(ctx context.Context, url string) ([]byte, error)
}

// CoverOptions controls how artwork is prepared before embedding.
type CoverOptions struct {
	Embed   bool
	Resize  bool
	MaxSize int
	// ConvertJPEG re-encodes non-JPEG artwork.
	ConvertJPEG bool
}

// Options configures a Finalizer.
type Options struct {
	// Template is the destination path template without extension.
	Template string
	// CoverTemplate names standalone cover downloads. Empty means "cover"
	// next to the tracks.
	CoverTemplate string

	Replace bool
	Tagger  *audio.Tagger
	Covers  CoverSource
	Images  *ioutils.ImageService
	Cover   CoverOptions
	Logger  *zap.Logger
}

// Outcome is the result of Finalize.
type Outcome struct {
	Status model.Status
	Path   string
	// TagErr explains a SucceededUntagged outcome.
	TagErr error
}

// Finalizer renders destinations, moves temp files into place and embeds
// metadata.
type Finalizer struct {
	opts   Options
	log    *zap.Logger
	tagger *audio.Tagger
	images *ioutils.ImageService

	group  singleflight.Group
	mu     sync.Mutex
	covers map[string][]byte
}

// New creates a Finalizer.
func New(opts Options) *Finalizer {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	tagger := opts.Tagger
	if tagger == nil {
		tagger = audio.NewTagger(nil)
	}
	images := opts.Images
	if images == nil {
		images = ioutils.NewImageService()
	}
	if opts.CoverTemplate == "" {
		opts.CoverTemplate = path.Join(path.Dir(opts.Template), "cover")
	}
	return &Finalizer{
		opts:   opts,
		log:    log,
		tagger: tagger,
		images: images,
		covers: make(map[string][]byte),
	}
}

// Replace reports whether existing destinations are overwritten.
func (f *Finalizer) Replace() bool {
	return f.opts.Replace
}

// Destination renders the final path of d, extension included.
func (f *Finalizer) Destination(d model.StreamDescriptor) (string, error) {
	tmpl := f.opts.Template
	if d.Kind == model.KindCover {
		tmpl = f.opts.CoverTemplate
	}

	rendered, err := ioutils.RenderFile(tmpl, d.Tags.Fields(), d.Format)
	if err != nil {
		return "", &RenderError{Template: tmpl, Err: err}
	}
	return filepath.FromSlash(rendered), nil
}

// Finalize moves tempPath to the destination of d.
//
// Without replacement an existing destination yields AlreadyExists and the
// temp file is discarded. Audio is tagged before the move so the final path
// only ever holds complete files. A tagging failure downgrades the outcome
// to SucceededUntagged; it never deletes the file.
func (f *Finalizer) Finalize(ctx context.Context, tempPath string, d model.StreamDescriptor) (Outcome, error) {
	dst, err := f.Destination(d)
	if err != nil {
		os.Remove(tempPath)
		return Outcome{}, err
	}

	if err := ioutils.EnsureDir(filepath.Dir(dst)); err != nil {
		os.Remove(tempPath)
		return Outcome{}, &MoveError{Src: tempPath, Dst: dst, Err: err}
	}

	if !f.opts.Replace && ioutils.Exists(dst) {
		os.Remove(tempPath)
		return Outcome{Status: model.StatusAlreadyExists, Path: dst}, nil
	}

	status := model.StatusSucceeded
	var tagErr error
	if d.Kind == model.KindAudio {
		if tagErr = f.tag(ctx, tempPath, d); tagErr != nil {
			status = model.StatusSucceededUntagged
			f.log.Warn("file left untagged", zap.String("path", dst), zap.Error(tagErr))
		}
	}

	if f.opts.Replace {
		err = ioutils.MoveReplace(tempPath, dst)
	} else {
		err = ioutils.MoveNoReplace(tempPath, dst)
	}
	switch {
	case errors.Is(err, ioutils.ErrExists):
		os.Remove(tempPath)
		return Outcome{Status: model.StatusAlreadyExists, Path: dst}, nil
	case errors.Is(err, ioutils.ErrSourceLeft):
		f.log.Warn("stale temp file left behind", zap.String("temp", tempPath), zap.String("path", dst), zap.Error(err))
	case err != nil:
		os.Remove(tempPath)
		return Outcome{}, &MoveError{Src: tempPath, Dst: dst, Err: err}
	}

	return Outcome{Status: status, Path: dst, TagErr: tagErr}, nil
}

func (f *Finalizer) tag(ctx context.Context, tempPath string, d model.StreamDescriptor) error {
	if !f.tagger.Supports(d.Format) {
		return &TagError{Path: tempPath, Err: ErrUnsupportedFormat}
	}

	var cover []byte
	if f.opts.Cover.Embed && d.Tags.CoverURL != "" && f.opts.Covers != nil {
		cover = f.cover(ctx, d.Tags.CoverURL)
	}

	if err := f.tagger.Tag(tempPath, d.Format, d.Tags, cover); err != nil {
		return &TagError{Path: tempPath, Err: err}
	}
	return nil
}

// cover returns the prepared artwork for url, fetching it once per run.
// Failures are logged and yield nil so the track is tagged without art.
func (f *Finalizer) cover(ctx context.Context, url string) []byte {
	f.mu.Lock()
	data, ok := f.covers[url]
	f.mu.Unlock()
	if ok {
		return data
	}

	v, err, _ := f.group.Do(url, func() (any, error) {
		raw, err := f.opts.Covers.GetBytes(ctx, url)
		if err != nil {
			return nil, err
		}
		prepared := f.prepareCover(ctx, raw)

		f.mu.Lock()
		f.covers[url] = prepared
		f.mu.Unlock()
		return prepared, nil
	})
	if err != nil {
		f.log.Warn("cover download failed", zap.String("url", url), zap.Error(err))
		return nil
	}
	return v.([]byte)
}

func (f *Finalizer) prepareCover(ctx context.Context, raw []byte) []byte {
	out := raw
	if f.opts.Cover.Resize && f.opts.Cover.MaxSize > 0 {
		resized, err := f.images.ResizeImage(ctx, out, f.opts.Cover.MaxSize, f.opts.Cover.MaxSize)
		if err != nil {
			f.log.Debug("cover resize failed", zap.Error(err))
			return out
		}
		// ResizeImage already encodes JPEG.
		return resized
	}
	if f.opts.Cover.ConvertJPEG && ioutils.MimeType(out) != "image/jpeg" {
		converted, err := f.images.ConvertToJPEG(ctx, out)
		if err != nil {
			f.log.Debug("cover conversion failed", zap.Error(err))
			return out
		}
		out = converted
	}
	return out
}
