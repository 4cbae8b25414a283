// Package metadata embeds tags and cover art into exported audio files and
// reads them back for verification.
package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/core/ffmpeg"
	aferrors "github.com/mantonx/audioforge/internal/modules/audiomodule/errors"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

// Writer embeds tags into finished output files.
type Writer struct {
	runner *ffmpeg.Runner
	logger hclog.Logger
}

// NewWriter creates a metadata writer. The runner is used for containers
// without a native tag editor.
func NewWriter(runner *ffmpeg.Runner, logger hclog.Logger) *Writer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Writer{
		runner: runner,
		logger: logger.Named("metadata"),
	}
}

// Apply writes tags and cover art into path. Existing values for the same
// fields are replaced, so applying twice leaves a single copy of each. The
// cover art file is consumed: it is removed whatever the outcome.
func (w *Writer) Apply(ctx context.Context, path string, tags types.TagOptions, coverArtPath string) (err error) {
	if coverArtPath != "" {
		defer func() {
			if rmErr := os.Remove(coverArtPath); rmErr != nil && !os.IsNotExist(rmErr) {
				w.logger.Warn("failed to remove cover art", "path", coverArtPath, "error", rmErr)
			}
		}()
	}

	if tags.IsEmpty() && coverArtPath == "" {
		return nil
	}

	var art *Artwork
	if coverArtPath != "" {
		art, err = LoadArtwork(coverArtPath)
		if err != nil {
			return aferrors.MetadataError("load_artwork", err).WithDetail("path", coverArtPath)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".mp3":
		err = writeID3(path, tags, art)
	case ".flac":
		err = writeFLAC(path, tags, art)
	case ".m4a", ".ogg", ".wav", ".aiff":
		err = w.remux(ctx, path, ext, tags, art)
	default:
		err = fmt.Errorf("%w: no tag writer for %s", aferrors.ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return aferrors.MetadataError("apply", err).
			WithDetail("path", path).
			WithDetail("stderr", ffmpeg.StderrTail(err))
	}

	w.logger.Debug("wrote metadata", "path", path, "cover_art", art != nil)
	return nil
}

// remux rewrites the container with ffmpeg, copying the audio stream and
// replacing global metadata.
func (w *Writer) remux(ctx context.Context, path, ext string, tags types.TagOptions, art *Artwork) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	tmpPath := base + ".tagging" + ext
	defer os.Remove(tmpPath)

	args := []string{"-i", path}
	embedArt := art != nil && ext == ".m4a"
	switch {
	case embedArt:
		artPath := base + ".cover" + art.Ext()
		if err := os.WriteFile(artPath, art.Data, 0644); err != nil {
			return fmt.Errorf("failed to stage cover art: %w", err)
		}
		defer os.Remove(artPath)
		args = append(args, "-i", artPath, "-map", "0:a", "-map", "1:v")
	case ext == ".m4a":
		// Keep an attached picture from an earlier pass.
		args = append(args, "-map", "0:a", "-map", "0:v?")
	default:
		if art != nil {
			w.logger.Warn("cover art is not supported for container, skipping", "path", path, "format", ext)
		}
		args = append(args, "-map", "0:a")
	}

	args = append(args, "-c:a", "copy")
	if ext == ".m4a" {
		args = append(args, "-c:v", "copy")
		if embedArt {
			args = append(args, "-disposition:v", "attached_pic")
		}
	}
	args = append(args, "-map_metadata", "0")
	args = append(args, containerTagArgs(ext)...)
	args = append(args, metadataArgs(tags)...)
	args = append(args, tmpPath)

	if _, _, err := w.runner.FFmpeg(ctx, args...); err != nil {
		return err
	}

	info, err := os.Stat(tmpPath)
	if err != nil || info.Size() == 0 {
		return fmt.Errorf("%w: remux produced no output", aferrors.ErrEmptyInput)
	}
	return os.Rename(tmpPath, path)
}

// containerTagArgs returns the muxer flags needed for custom keys such as
// ISRC to survive in the container.
func containerTagArgs(ext string) []string {
	switch ext {
	case ".m4a":
		return []string{"-movflags", "use_metadata_tags"}
	case ".aiff":
		return []string{"-write_id3v2", "1"}
	default:
		return nil
	}
}

func metadataArgs(tags types.TagOptions) []string {
	var args []string
	for _, kv := range [][2]string{
		{"title", tags.Title},
		{"artist", tags.Artist},
		{"album", tags.Album},
		{"track", tags.TrackNumber},
		{"ISRC", tags.ISRC},
	} {
		if kv[1] != "" {
			args = append(args, "-metadata", kv[0]+"="+kv[1])
		}
	}
	return args
}
