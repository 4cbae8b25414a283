package metadata

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dhowden/tag"
)

// TagSummary is the subset of embedded tags we verify after writing.
type TagSummary struct {
	Format      string `json:"format"`
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	TrackNumber string `json:"track_number,omitempty"`
	ISRC        string `json:"isrc,omitempty"`
	HasPicture  bool   `json:"has_picture"`
}

// ReadTags reads embedded tags from path.
func ReadTags(path string) (*TagSummary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags: %w", err)
	}

	summary := &TagSummary{
		Format:     string(m.Format()),
		Title:      m.Title(),
		Artist:     m.Artist(),
		Album:      m.Album(),
		HasPicture: m.Picture() != nil,
	}
	if track, _ := m.Track(); track > 0 {
		summary.TrackNumber = strconv.Itoa(track)
	}
	summary.ISRC = rawString(m.Raw(), "TSRC", "ISRC", "isrc")
	return summary, nil
}

func rawString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case *tag.Comm:
			return t.Text
		default:
			return fmt.Sprint(t)
		}
	}
	return ""
}
