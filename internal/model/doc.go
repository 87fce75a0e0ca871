// Package model defines the data passed between the pipeline stages.
//
// # Descriptors
//
// A StreamDescriptor is produced by a resolver and names one downloadable
// resource plus the catalog tags used for naming and tagging:
//
//	d := model.StreamDescriptor{
//	    URL:          streamURL,
//	    ExpectedSize: 31_457_280,
//	    Kind:         model.KindAudio,
//	    Format:       "flac",
//	    Tags:         model.Tags{Title: "Song", ArtistName: "Artist", TrackNumber: 1},
//	}
//
// # Jobs
//
// The scheduler wraps each descriptor in a Job whose Status only moves
// forward: Pending, InProgress, then one terminal status. Result is the
// caller-facing view of a finished job.
//
// Placeholders exposed by Tags.Fields: {artist_name}, {artist_id}, {album_id},
// {album_name}, {album_artist}, {album_duration}, {album_tracks},
// {album_explicit}, {album_quality}, {album_release}, {album_release_year},
// {track_id}, {track_name}, {track_duration}, {track_num}, {track_volume},
// {track_isrc}, {track_explicit}, {track_quality}
package model
