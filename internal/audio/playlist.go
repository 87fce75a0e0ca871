package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ioutils "github.com/handiism/tdl/internal/io"
	"github.com/handiism/tdl/internal/model"
)

// PlaylistFormat represents supported playlist file formats.
//
// Each format has different features and compatibility:
//   - M3U: Simple text format, widely supported
//   - PLS: INI-style format, used by Winamp
//   - WPL: XML format, Windows Media Player
//   - ZPL: XML format, Zune/Groove Music
type PlaylistFormat int

const (
	// FormatM3U creates .m3u files (most compatible).
	// Can be extended with EXTINF lines for duration/title info.
	FormatM3U PlaylistFormat = iota

	// FormatPLS creates .pls files (Winamp/SHOUTcast format).
	FormatPLS

	// FormatWPL creates .wpl files (Windows Media Player).
	FormatWPL

	// FormatZPL creates .zpl files (Zune/Groove Music).
	FormatZPL
)

// ParsePlaylistFormat maps a config value to a format.
func ParsePlaylistFormat(s string) (PlaylistFormat, error) {
	switch strings.ToLower(s) {
	case "", "m3u":
		return FormatM3U, nil
	case "pls":
		return FormatPLS, nil
	case "wpl":
		return FormatWPL, nil
	case "zpl":
		return FormatZPL, nil
	}
	return FormatM3U, fmt.Errorf("unknown playlist format %q", s)
}

// Extension returns the file extension without the dot.
func (f PlaylistFormat) Extension() string {
	switch f {
	case FormatPLS:
		return "pls"
	case FormatWPL:
		return "wpl"
	case FormatZPL:
		return "zpl"
	default:
		return "m3u"
	}
}

// PlaylistEntry is one track in a playlist.
type PlaylistEntry struct {
	// Path is relative to the playlist's directory.
	Path     string
	Title    string
	Artist   string
	Duration int // seconds
}

// Playlist is the set of tracks that landed in one directory.
type Playlist struct {
	Dir     string
	Title   string
	Artist  string
	Entries []PlaylistEntry
}

// PlaylistsFromResults groups successful audio results by destination
// directory, one playlist per album folder. Entries are in track order.
func PlaylistsFromResults(results []model.Result) []Playlist {
	byDir := make(map[string]*Playlist)
	var order []string
	numbers := make(map[string]map[string]int)

	for _, r := range results {
		if !r.Status.OK() || r.Descriptor.Kind != model.KindAudio || r.Path == "" {
			continue
		}
		dir := filepath.Dir(r.Path)
		pl, ok := byDir[dir]
		if !ok {
			tags := r.Descriptor.Tags
			pl = &Playlist{Dir: dir, Title: tags.AlbumTitle, Artist: albumArtist(tags)}
			if pl.Title == "" {
				pl.Title = filepath.Base(dir)
			}
			byDir[dir] = pl
			numbers[dir] = make(map[string]int)
			order = append(order, dir)
		}

		name := filepath.Base(r.Path)
		pl.Entries = append(pl.Entries, PlaylistEntry{
			Path:     name,
			Title:    r.Descriptor.Tags.Title,
			Artist:   r.Descriptor.Tags.ArtistName,
			Duration: r.Descriptor.Tags.Duration,
		})
		numbers[dir][name] = r.Descriptor.Tags.VolumeNumber*1000 + r.Descriptor.Tags.TrackNumber
	}

	out := make([]Playlist, 0, len(order))
	for _, dir := range order {
		pl := byDir[dir]
		n := numbers[dir]
		sort.SliceStable(pl.Entries, func(i, j int) bool {
			return n[pl.Entries[i].Path] < n[pl.Entries[j].Path]
		})
		out = append(out, *pl)
	}
	return out
}

// PlaylistCreator generates playlist files in various formats.
//
// Example:
//
//	// Create M3U playlist with extended info
//	creator := NewPlaylistCreator(FormatM3U, true)
//	for _, pl := range PlaylistsFromResults(results) {
//	    path, err := creator.Write(pl)
//	}
//
//	// Result:
//	// #EXTM3U
//	// #EXTINF:180,Artist - Song Title
//	// 01 - Song Title.flac
type PlaylistCreator struct {
	format   PlaylistFormat
	extended bool // For M3U: include EXTINF lines with duration/title
}

// NewPlaylistCreator creates a new PlaylistCreator.
//
// Parameters:
//   - format: The playlist format to generate
//   - extended: For M3U format, whether to include #EXTINF lines
//     (ignored for other formats)
func NewPlaylistCreator(format PlaylistFormat, extended bool) *PlaylistCreator {
	return &PlaylistCreator{
		format:   format,
		extended: extended,
	}
}

// CreatePlaylist generates playlist content.
//
// Track paths in the output are taken from the entries as they are, so they
// stay relative to the playlist directory.
func (p *PlaylistCreator) CreatePlaylist(pl Playlist) string {
	switch p.format {
	case FormatPLS:
		return p.createPLS(pl)
	case FormatWPL:
		return p.createWPL(pl)
	case FormatZPL:
		return p.createZPL(pl)
	default:
		return p.createM3U(pl)
	}
}

// Write renders pl and saves it as "<title>.<ext>" inside pl.Dir.
func (p *PlaylistCreator) Write(pl Playlist) (string, error) {
	path := filepath.Join(pl.Dir, ioutils.SanitizeSegment(ioutils.SanitizeFileName(pl.Title))+"."+p.format.Extension())
	if err := os.WriteFile(path, []byte(p.CreatePlaylist(pl)), 0644); err != nil {
		return "", fmt.Errorf("write playlist: %w", err)
	}
	return path, nil
}

// createM3U generates an M3U playlist.
//
// Extended M3U format (when extended=true):
//
//	#EXTM3U
//	#EXTINF:180,Artist - Title
//	filename1.flac
func (p *PlaylistCreator) createM3U(pl Playlist) string {
	var sb strings.Builder

	if p.extended {
		sb.WriteString("#EXTM3U\n")
	}

	for _, e := range pl.Entries {
		if p.extended {
			sb.WriteString(fmt.Sprintf("#EXTINF:%d,%s - %s\n", e.Duration, e.Artist, e.Title))
		}
		sb.WriteString(e.Path + "\n")
	}

	return sb.String()
}

// createPLS generates a PLS playlist.
//
//	[playlist]
//	File1=filename1.flac
//	Title1=Song Title
//	Length1=180
//	NumberOfEntries=1
//	Version=2
func (p *PlaylistCreator) createPLS(pl Playlist) string {
	var sb strings.Builder

	sb.WriteString("[playlist]\n")

	for i, e := range pl.Entries {
		idx := i + 1
		sb.WriteString(fmt.Sprintf("File%d=%s\n", idx, e.Path))
		sb.WriteString(fmt.Sprintf("Title%d=%s\n", idx, e.Title))
		sb.WriteString(fmt.Sprintf("Length%d=%d\n", idx, e.Duration))
	}

	sb.WriteString(fmt.Sprintf("NumberOfEntries=%d\n", len(pl.Entries)))
	sb.WriteString("Version=2\n")

	return sb.String()
}

// createWPL generates a Windows Media Player playlist.
func (p *PlaylistCreator) createWPL(pl Playlist) string {
	var sb strings.Builder

	sb.WriteString("<?wpl version=\"1.0\"?>\n")
	sb.WriteString("<smil>\n")
	sb.WriteString("  <head>\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", escapeXML(pl.Title)))
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <seq>\n")

	for _, e := range pl.Entries {
		sb.WriteString(fmt.Sprintf("      <media src=\"%s\"/>\n", escapeXML(e.Path)))
	}

	sb.WriteString("    </seq>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</smil>\n")

	return sb.String()
}

// createZPL generates a Zune/Groove Music playlist with per-track metadata.
func (p *PlaylistCreator) createZPL(pl Playlist) string {
	var sb strings.Builder

	sb.WriteString("<?zpl version=\"2.0\"?>\n")
	sb.WriteString("<smil>\n")
	sb.WriteString("  <head>\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", escapeXML(pl.Title)))
	sb.WriteString("    <meta name=\"Generator\" content=\"tdl\"/>\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"ItemCount\" content=\"%d\"/>\n", len(pl.Entries)))
	sb.WriteString("  </head>\n")
	sb.WriteString("  <body>\n")
	sb.WriteString("    <seq>\n")

	for _, e := range pl.Entries {
		sb.WriteString(fmt.Sprintf("      <media src=\"%s\" albumTitle=\"%s\" albumArtist=\"%s\" trackTitle=\"%s\" trackArtist=\"%s\" duration=\"%d\"/>\n",
			escapeXML(e.Path),
			escapeXML(pl.Title),
			escapeXML(pl.Artist),
			escapeXML(e.Title),
			escapeXML(e.Artist),
			e.Duration*1000))
	}

	sb.WriteString("    </seq>\n")
	sb.WriteString("  </body>\n")
	sb.WriteString("</smil>\n")

	return sb.String()
}

// escapeXML escapes special XML characters in a string.
func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
