package audio

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/handiism/tdl/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTags() model.Tags {
	return model.Tags{
		Title:       "Song",
		TrackNumber: 3,
		AlbumTracks: 12,
		ArtistName:  "Artist",
		AlbumTitle:  "Album",
		ReleaseDate: "2021-06-04",
		Copyright:   "(P) 2021 Label",
		ISRC:        "USRC12100001",
	}
}

func testCover(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// writeMinimalFLAC writes the "fLaC" marker, a STREAMINFO block flagged as
// last, and a few frame bytes.
func writeMinimalFLAC(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.Write([]byte{0x80, 0x00, 0x00, 0x22})
	buf.Write(make([]byte, 34))
	buf.Write([]byte{0xFF, 0xF8, 0x00, 0x00})
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestTagger_MP3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x00}, 64), 0644))

	cover := testCover(t)
	require.NoError(t, NewTagger(nil).Tag(path, "mp3", testTags(), cover))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()

	assert.Equal(t, "Song", tag.Title())
	assert.Equal(t, "Artist", tag.Artist())
	assert.Equal(t, "Album", tag.Album())
	assert.Equal(t, "3/12", tag.GetTextFrame("TRCK").Text)
	assert.Equal(t, "USRC12100001", tag.GetTextFrame("TSRC").Text)
	assert.Equal(t, "(P) 2021 Label", tag.GetTextFrame("TCOP").Text)

	pics := tag.GetFrames(tag.CommonID("Attached picture"))
	require.Len(t, pics, 1)
	pic, ok := pics[0].(id3v2.PictureFrame)
	require.True(t, ok)
	assert.Equal(t, "image/png", pic.MimeType)
	assert.Equal(t, cover, pic.Picture)
}

func TestTagger_MP3RetagReplacesFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xFF, 0xFB, 0x90, 0x00}, 64), 0644))

	tagger := NewTagger(nil)
	require.NoError(t, tagger.Tag(path, "mp3", testTags(), nil))

	tags := testTags()
	tags.Title = "Renamed"
	require.NoError(t, tagger.Tag(path, "MP3", tags, nil))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer tag.Close()
	assert.Len(t, tag.GetFrames("TIT2"), 1)
	assert.Equal(t, "Renamed", tag.Title())
}

func TestTagger_FLAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.flac")
	writeMinimalFLAC(t, path)

	require.NoError(t, NewTagger(nil).Tag(path, "flac", testTags(), testCover(t)))

	f, err := flac.ParseFile(path)
	require.NoError(t, err)

	var comments *flacvorbis.MetaDataBlockVorbisComment
	var pictures int
	for _, meta := range f.Meta {
		switch meta.Type {
		case flac.VorbisComment:
			comments, err = flacvorbis.ParseFromMetaDataBlock(*meta)
			require.NoError(t, err)
		case flac.Picture:
			pic, err := flacpicture.ParseFromMetaDataBlock(*meta)
			require.NoError(t, err)
			assert.Equal(t, flacpicture.PictureTypeFrontCover, pic.PictureType)
			pictures++
		}
	}
	require.NotNil(t, comments)
	assert.Equal(t, 1, pictures)

	get := func(key string) []string {
		v, err := comments.Get(key)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, []string{"Song"}, get("TITLE"))
	assert.Equal(t, []string{"3"}, get("TRACKNUMBER"))
	assert.Equal(t, []string{"Artist"}, get("ARTIST"))
	assert.Equal(t, []string{"Album"}, get("ALBUM"))
	assert.Equal(t, []string{"(P) 2021 Label"}, get("COPYRIGHT"))
	assert.Equal(t, []string{"USRC12100001"}, get("ISRC"))
}

func TestTagger_FLACRetagKeepsSingleValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.flac")
	writeMinimalFLAC(t, path)

	tagger := NewTagger(nil)
	cover := testCover(t)
	require.NoError(t, tagger.Tag(path, "flac", testTags(), cover))
	require.NoError(t, tagger.Tag(path, "flac", testTags(), cover))

	f, err := flac.ParseFile(path)
	require.NoError(t, err)

	var pictures int
	for _, meta := range f.Meta {
		if meta.Type == flac.VorbisComment {
			c, err := flacvorbis.ParseFromMetaDataBlock(*meta)
			require.NoError(t, err)
			titles, err := c.Get("TITLE")
			require.NoError(t, err)
			assert.Len(t, titles, 1)
		}
		if meta.Type == flac.Picture {
			pictures++
		}
	}
	assert.Equal(t, 1, pictures)
}

func TestTagger_Unsupported(t *testing.T) {
	tagger := NewTagger(nil)
	assert.False(t, tagger.Supports("m4a"))
	assert.True(t, tagger.Supports("FLAC"))

	err := tagger.Tag("/nonexistent.m4a", "m4a", testTags(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestTagger_CorruptFLAC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.flac")
	require.NoError(t, os.WriteFile(path, []byte("not a flac"), 0644))

	err := NewTagger(nil).Tag(path, "flac", testTags(), nil)
	assert.Error(t, err)
}
