// Package audio writes metadata into downloaded audio files and builds
// playlists from a run's results.
//
// # Tagging
//
// Use the Tagger to write tags and the front cover:
//
//	tagger := audio.NewTagger(audio.DefaultTagConfig())
//	err := tagger.Tag(path, "flac", desc.Tags, coverJPEG)
//
// MP3 files receive ID3v2.4 frames, FLAC files Vorbis comments and a
// PICTURE block. Other formats return ErrUnsupportedFormat.
//
// # Playlist Generation
//
//	creator := audio.NewPlaylistCreator(audio.FormatM3U, true) // extended M3U
//	for _, pl := range audio.PlaylistsFromResults(results) {
//	    creator.Write(pl)
//	}
//
// Supported formats:
//   - M3U (with optional extended info)
//   - PLS
//   - WPL (Windows Media Player)
//   - ZPL (Zune Media Player)
package audio
