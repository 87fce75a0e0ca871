package audio

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	ioutils "github.com/handiism/tdl/internal/io"
	"github.com/handiism/tdl/internal/model"
)

func (t *Tagger) tagFLAC(path string, tags model.Tags, cover []byte) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse flac: %w", err)
	}

	if t.config.ModifyTags {
		if err := t.updateVorbisComments(f, tags); err != nil {
			return err
		}
	}
	if cover != nil {
		if err := updateFLACPicture(f, cover); err != nil {
			return err
		}
	}

	if err := f.Save(path); err != nil {
		return fmt.Errorf("save flac: %w", err)
	}
	return nil
}

func (t *Tagger) updateVorbisComments(f *flac.File, tags model.Tags) error {
	idx := -1
	var cmts *flacvorbis.MetaDataBlockVorbisComment
	for i, meta := range f.Meta {
		if meta.Type != flac.VorbisComment {
			continue
		}
		parsed, err := flacvorbis.ParseFromMetaDataBlock(*meta)
		if err != nil {
			return fmt.Errorf("parse vorbis comment: %w", err)
		}
		cmts, idx = parsed, i
		break
	}
	if cmts == nil {
		cmts = flacvorbis.New()
	}

	fields := []struct {
		action TagEditAction
		key    string
		value  string
	}{
		{t.config.TrackTitle, "TITLE", tags.Title},
		{t.config.Artist, "ARTIST", tags.ArtistName},
		{t.config.AlbumArtist, "ALBUMARTIST", albumArtist(tags)},
		{t.config.Album, "ALBUM", tags.AlbumTitle},
		{t.config.TrackNumber, "TRACKNUMBER", positive(tags.TrackNumber)},
		{t.config.TrackNumber, "TRACKTOTAL", positive(tags.AlbumTracks)},
		{t.config.DiscNumber, "DISCNUMBER", positive(tags.VolumeNumber)},
		{t.config.Date, "DATE", tags.ReleaseDate},
		{t.config.Copyright, "COPYRIGHT", tags.Copyright},
		{t.config.ISRC, "ISRC", tags.ISRC},
		{t.config.Comments, "COMMENT", ""},
	}

	for _, field := range fields {
		if field.action == TagDoNotModify {
			continue
		}
		cmts.Comments = removeComment(cmts.Comments, field.key)
		if field.action == TagModify && field.value != "" {
			if err := cmts.Add(field.key, field.value); err != nil {
				return fmt.Errorf("add %s: %w", field.key, err)
			}
		}
	}

	block := cmts.Marshal()
	if idx >= 0 {
		f.Meta[idx] = &block
	} else {
		f.Meta = append(f.Meta, &block)
	}
	return nil
}

func updateFLACPicture(f *flac.File, cover []byte) error {
	f.Meta = slices.DeleteFunc(f.Meta, func(meta *flac.MetaDataBlock) bool {
		if meta.Type != flac.Picture {
			return false
		}
		pic, err := flacpicture.ParseFromMetaDataBlock(*meta)
		return err == nil && pic.PictureType == flacpicture.PictureTypeFrontCover
	})

	pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front cover", cover, ioutils.MimeType(cover))
	if err != nil {
		return fmt.Errorf("build flac picture: %w", err)
	}
	block := pic.Marshal()
	f.Meta = append(f.Meta, &block)
	return nil
}

// removeComment drops every KEY=value entry for key, case-insensitively.
func removeComment(comments []string, key string) []string {
	prefix := strings.ToUpper(key) + "="
	return slices.DeleteFunc(comments, func(c string) bool {
		return strings.HasPrefix(strings.ToUpper(c), prefix)
	})
}
