package audio

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bogem/id3v2"
	ioutils "github.com/handiism/tdl/internal/io"
	"github.com/handiism/tdl/internal/model"
)

// ErrUnsupportedFormat is returned for containers the tagger cannot write.
var ErrUnsupportedFormat = errors.New("tagging not supported for format")

// TagEditAction defines how to handle individual tags.
//
// Each tag field can be configured independently to determine whether
// it should be modified, cleared, or left unchanged.
type TagEditAction int

const (
	// TagEmpty clears the tag value.
	TagEmpty TagEditAction = iota

	// TagModify updates the tag with the value from the catalog.
	TagModify

	// TagDoNotModify leaves the existing tag value unchanged.
	TagDoNotModify
)

// TagConfig holds tagging configuration for each field.
//
// The same configuration drives ID3v2 frames in MP3 files and Vorbis
// comments in FLAC files.
//
// Example:
//
//	cfg := &TagConfig{
//	    ModifyTags:  true,
//	    Artist:      TagModify,      // Update artist from the catalog
//	    TrackTitle:  TagModify,      // Update title from the catalog
//	    Comments:    TagEmpty,       // Clear any existing comments
//	    AlbumArtist: TagDoNotModify, // Keep existing album artist
//	}
type TagConfig struct {
	// ModifyTags is a master switch. If false, no text tags are modified.
	ModifyTags bool

	// EmbedCover controls the front cover picture.
	EmbedCover bool

	Artist      TagEditAction // TPE1 / ARTIST
	AlbumArtist TagEditAction // TPE2 / ALBUMARTIST
	Album       TagEditAction // TALB / ALBUM
	Year        TagEditAction // TYER
	Date        TagEditAction // TDRC / DATE
	TrackNumber TagEditAction // TRCK / TRACKNUMBER, TRACKTOTAL
	DiscNumber  TagEditAction // TPOS / DISCNUMBER
	TrackTitle  TagEditAction // TIT2 / TITLE
	Copyright   TagEditAction // TCOP / COPYRIGHT
	ISRC        TagEditAction // TSRC / ISRC
	Comments    TagEditAction // COMM / COMMENT
}

// DefaultTagConfig returns the default tag configuration.
//
// By default every field is set to TagModify and comments are cleared.
func DefaultTagConfig() *TagConfig {
	return &TagConfig{
		ModifyTags:  true,
		EmbedCover:  true,
		Artist:      TagModify,
		AlbumArtist: TagModify,
		Album:       TagModify,
		Year:        TagModify,
		Date:        TagModify,
		TrackNumber: TagModify,
		DiscNumber:  TagModify,
		TrackTitle:  TagModify,
		Copyright:   TagModify,
		ISRC:        TagModify,
		Comments:    TagEmpty,
	}
}

// Tagger writes catalog metadata into downloaded audio files.
//
// MP3 files get ID3v2.4 frames through bogem/id3v2. FLAC files get Vorbis
// comments and a front cover PICTURE block through go-flac.
//
// Example:
//
//	tagger := NewTagger(DefaultTagConfig())
//	if err := tagger.Tag(path, "flac", desc.Tags, coverJPEG); err != nil {
//	    log.Printf("Failed to tag %s: %v", path, err)
//	}
type Tagger struct {
	config *TagConfig
}

// NewTagger creates a new Tagger with the given configuration.
//
// If config is nil, DefaultTagConfig() is used.
func NewTagger(config *TagConfig) *Tagger {
	if config == nil {
		config = DefaultTagConfig()
	}
	return &Tagger{config: config}
}

// Supports reports whether format (a file extension) can be tagged.
func (t *Tagger) Supports(format string) bool {
	switch strings.ToLower(format) {
	case "mp3", "flac":
		return true
	}
	return false
}

// Tag writes tags and, when cover is non-nil, the front cover into the file
// at path. The file is modified in place.
func (t *Tagger) Tag(path, format string, tags model.Tags, cover []byte) error {
	if !t.config.EmbedCover {
		cover = nil
	}

	switch strings.ToLower(format) {
	case "mp3":
		return t.tagMP3(path, tags, cover)
	case "flac":
		return t.tagFLAC(path, tags, cover)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func (t *Tagger) tagMP3(path string, tags model.Tags, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open id3 tag: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	if t.config.ModifyTags {
		t.updateID3Frames(tag, tags)
	}
	if cover != nil {
		updateID3Artwork(tag, cover)
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save id3 tag: %w", err)
	}
	return nil
}

// updateID3Frames updates text-based ID3 frames based on configuration.
func (t *Tagger) updateID3Frames(tag *id3v2.Tag, tags model.Tags) {
	text := func(action TagEditAction, id, value string) {
		switch action {
		case TagEmpty:
			tag.DeleteFrames(id)
		case TagModify:
			tag.DeleteFrames(id)
			if value != "" {
				tag.AddTextFrame(id, id3v2.EncodingUTF8, value)
			}
		}
	}

	text(t.config.Artist, "TPE1", tags.ArtistName)
	text(t.config.AlbumArtist, "TPE2", albumArtist(tags))
	text(t.config.Album, "TALB", tags.AlbumTitle)
	text(t.config.TrackTitle, "TIT2", tags.Title)
	text(t.config.Year, "TYER", tags.ReleaseYear())
	text(t.config.Date, "TDRC", tags.ReleaseDate)
	text(t.config.TrackNumber, "TRCK", trackNumber(tags))
	text(t.config.DiscNumber, "TPOS", positive(tags.VolumeNumber))
	text(t.config.Copyright, "TCOP", tags.Copyright)
	text(t.config.ISRC, "TSRC", tags.ISRC)

	if t.config.Comments == TagEmpty {
		tag.DeleteFrames(tag.CommonID("Comments"))
	}
}

// updateID3Artwork embeds cover art as an attached picture frame.
func updateID3Artwork(tag *id3v2.Tag, artwork []byte) {
	tag.DeleteFrames(tag.CommonID("Attached picture"))
	tag.AddAttachedPicture(id3v2.PictureFrame{
		Encoding:    id3v2.EncodingUTF8,
		MimeType:    ioutils.MimeType(artwork),
		PictureType: id3v2.PTFrontCover,
		Description: "Front cover",
		Picture:     artwork,
	})
}

func albumArtist(tags model.Tags) string {
	if tags.AlbumArtist != "" {
		return tags.AlbumArtist
	}
	return tags.ArtistName
}

func trackNumber(tags model.Tags) string {
	switch {
	case tags.TrackNumber <= 0:
		return ""
	case tags.AlbumTracks > 0:
		return fmt.Sprintf("%d/%d", tags.TrackNumber, tags.AlbumTracks)
	default:
		return strconv.Itoa(tags.TrackNumber)
	}
}

func positive(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}
