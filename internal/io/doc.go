// Package ioutils provides naming, file system and image helpers used when
// materializing downloads.
//
// # Naming
//
// Render turns a template such as
// "{artist_name}/{album_name}/{track_num} - {track_name}" and a field map into
// a sanitized, filesystem-safe path:
//
//	p, err := ioutils.Render(tmpl, descriptor.Tags.Fields())
//
// # Moving files into place
//
//	err := ioutils.MoveNoReplace(tmp, final) // ErrExists if final is taken
//	err := ioutils.MoveReplace(tmp, final)
//
// # Image Processing
//
// The ImageService handles cover art manipulation:
//
//	svc := ioutils.NewImageService()
//	resized, _ := svc.ResizeImage(ctx, imageData, 1280, 1280)
//	jpeg, _ := svc.ConvertToJPEG(ctx, pngData)
package ioutils
