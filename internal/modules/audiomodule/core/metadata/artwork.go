package metadata

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
)

// Artwork is a cover image ready to embed.
type Artwork struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Depth    int
}

// Ext returns the file extension matching the MIME type.
func (a *Artwork) Ext() string {
	if a.MIMEType == "image/png" {
		return ".png"
	}
	return ".jpg"
}

// LoadArtwork reads a cover image. JPEG and PNG are embedded as-is; WebP is
// transcoded to PNG since few players decode WebP cover art.
func LoadArtwork(path string) (*Artwork, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cover art: %w", err)
	}

	art := &Artwork{Data: data}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		art.MIMEType = "image/jpeg"
		art.Depth = 24
	case ".png":
		art.MIMEType = "image/png"
		art.Depth = 32
	case ".webp":
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode webp cover art: %w", err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode cover art as png: %w", err)
		}
		art.Data = buf.Bytes()
		art.MIMEType = "image/png"
		art.Depth = 32
	default:
		return nil, fmt.Errorf("%w: cover art %s", aferrors.ErrUnsupportedFormat, filepath.Ext(path))
	}

	// Dimensions are informational; a header we cannot parse leaves them zero.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(art.Data)); err == nil {
		art.Width = cfg.Width
		art.Height = cfg.Height
	}
	return art, nil
}
