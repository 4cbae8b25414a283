package metadata

import (
	"fmt"

	"github.com/bogem/id3v2/v2"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// writeID3 tags an MP3 in place. Text frames replace existing ones and
// APIC frames are cleared before the new cover is attached.
func writeID3(path string, tags types.TagOptions, art *Artwork) error {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("could not open MP3: %w", err)
	}
	defer t.Close()

	t.SetVersion(4)
	t.SetDefaultEncoding(id3v2.EncodingUTF8)

	if tags.Title != "" {
		t.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		t.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		t.SetAlbum(tags.Album)
	}
	if tags.TrackNumber != "" {
		t.AddTextFrame(t.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, tags.TrackNumber)
	}
	if tags.ISRC != "" {
		t.AddTextFrame("TSRC", id3v2.EncodingUTF8, tags.ISRC)
	}

	if art != nil {
		t.DeleteFrames("APIC")
		t.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    art.MIMEType,
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     art.Data,
		})
	}

	return t.Save()
}
