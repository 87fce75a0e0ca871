package ioutils

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoveNoReplace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.part")
	dst := filepath.Join(dir, "dst.flac")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))

	require.NoError(t, MoveNoReplace(src, dst))
	assert.False(t, Exists(src))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestMoveNoReplace_SourceNotRemovable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("directory permissions do not apply to root")
	}
	srcDir, dstDir := t.TempDir(), t.TempDir()
	src := filepath.Join(srcDir, "src.part")
	dst := filepath.Join(dstDir, "dst.flac")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.Chmod(srcDir, 0555))
	t.Cleanup(func() { os.Chmod(srcDir, 0755) })

	err := MoveNoReplace(src, dst)
	require.ErrorIs(t, err, ErrSourceLeft)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestMoveNoReplace_Existing(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.part")
	dst := filepath.Join(dir, "dst.flac")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	err := MoveNoReplace(src, dst)
	assert.ErrorIs(t, err, ErrExists)

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.True(t, Exists(src), "source is left for the caller to clean up")
}

func TestMoveReplace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.part")
	dst := filepath.Join(dir, "dst.flac")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	require.NoError(t, MoveReplace(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestExpandPath(t *testing.T) {
	t.Setenv("TDL_TEST_ROOT", "/srv/music")
	assert.Equal(t, "/srv/music/x", ExpandPath("$TDL_TEST_ROOT/x"))

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "Music"), ExpandPath("~/Music"))
}

func TestImageService_ResizeImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := range 400 {
		for y := range 200 {
			src.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))
	assert.Equal(t, "image/png", MimeType(buf.Bytes()))

	svc := NewImageService()
	out, err := svc.ResizeImage(context.Background(), buf.Bytes(), 100, 100)
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
	assert.Equal(t, "image/jpeg", MimeType(out))
}

func TestImageService_InvalidData(t *testing.T) {
	_, err := NewImageService().ConvertToJPEG(context.Background(), []byte("not an image"))
	assert.Error(t, err)
}
