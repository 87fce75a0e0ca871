package ioutils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"normal-file.mp3", "normal-file.mp3"},
		{"file:with:colons.mp3", "file_with_colons.mp3"},
		{"file<with>brackets.mp3", "file_with_brackets.mp3"},
		{"file/with\\slashes.mp3", "file_with_slashes.mp3"},
		{"file|with|pipes.mp3", "file_with_pipes.mp3"},
		{"file?with*wildcards.mp3", "file_with_wildcards.mp3"},
		{"file\"with\"quotes.mp3", "file_with_quotes.mp3"},
		{"trailing dots...", "trailing dots"},
		{"multiple   spaces", "multiple spaces"},
		{"trailing spaces   ", "trailing spaces"},
		{"tab\tand\nnewline", "tab_and_newline"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFileName(tt.input))
		})
	}
}

func TestSanitizeSegment(t *testing.T) {
	assert.Equal(t, "_", SanitizeSegment(""))
	assert.Equal(t, "_", SanitizeSegment(".."))
	assert.Equal(t, "_", SanitizeSegment("..."))

	long := strings.Repeat("é", 200) // 400 bytes
	got := SanitizeSegment(long)
	assert.LessOrEqual(t, len(got), MaxSegmentLength)
	assert.True(t, strings.HasPrefix(long, got), "truncation keeps whole runes")
}

func TestRender(t *testing.T) {
	fields := map[string]string{
		"artist_name": "AC/DC",
		"album_name":  "Back in Black",
		"album_id":    "42",
		"track_num":   "01",
		"track_name":  "Hells Bells?",
		"empty":       "",
	}

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{
			name:     "absolute template",
			template: "/music/{artist_name}/{album_name} [{album_id}]/{track_num} - {track_name}",
			want:     "/music/AC_DC/Back in Black [42]/01 - Hells Bells_",
		},
		{
			name:     "relative template",
			template: "{artist_name}/{track_name}",
			want:     "AC_DC/Hells Bells_",
		},
		{
			name:     "empty value collapses to placeholder segment",
			template: "music/{empty}/{track_name}",
			want:     "music/_/Hells Bells_",
		},
		{
			name:     "duplicate slashes dropped",
			template: "music//{track_name}",
			want:     "music/Hells Bells_",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_ValueWithBraces(t *testing.T) {
	got, err := Render("{track_name}", map[string]string{"track_name": "{live}"})
	require.NoError(t, err)
	assert.Equal(t, "{live}", got)
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{"empty", "   "},
		{"only slashes", "///"},
		{"unknown placeholder", "{nope}/{track_name}"},
		{"unbalanced", "{track_name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Render(tt.template, map[string]string{"track_name": "x"})
			var renderErr *RenderError
			assert.ErrorAs(t, err, &renderErr)
		})
	}
}

func TestRender_IsPure(t *testing.T) {
	fields := map[string]string{"a": "x:y", "b": "z"}
	first, err := Render("{a}/{b}", fields)
	require.NoError(t, err)

	for range 10 {
		again, err := Render("{a}/{b}", fields)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRender_TrimsLongSegments(t *testing.T) {
	got, err := Render("{t}", map[string]string{"t": strings.Repeat("a", 400)})
	require.NoError(t, err)
	assert.Len(t, got, MaxSegmentLength)
}

func TestRenderFile(t *testing.T) {
	long := strings.Repeat("a", 300)

	tests := []struct {
		name     string
		template string
		ext      string
		want     string
	}{
		{"appends lowercased extension", "/music/{t}", "FLAC", "/music/song.flac"},
		{"leading dot ignored", "{t}", ".mp3", "song.mp3"},
		{"no extension", "/music/{t}", "", "/music/song"},
		{"long name keeps room for extension", "/music/{t}", "m4a", "/music/" + long[:MaxSegmentLength-4] + ".m4a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value := "song"
			if strings.HasPrefix(tt.name, "long") {
				value = long
			}
			got, err := RenderFile(tt.template, map[string]string{"t": value}, tt.ext)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderFile_DirectoriesUntouched(t *testing.T) {
	dir := strings.Repeat("d", 300)
	got, err := RenderFile("{dir}/{t}", map[string]string{"dir": dir, "t": "x"}, "mp3")
	require.NoError(t, err)
	assert.Equal(t, dir[:MaxSegmentLength]+"/x.mp3", got)
}
