package metadata

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"github.com/mantonx/audioforge/internal/modules/audiomodule/types"
)

const flacVendor = "audioforge"

// writeFLAC rewrites the metadata blocks of a FLAC file. Tag fields and the
// front cover picture are replaced, everything else is preserved. The
// result is written to a sibling temp file and renamed over path.
func writeFLAC(path string, tags types.TagOptions, art *Artwork) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	file, err := flac.ParseBytes(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("not a valid FLAC file: %w", err)
	}
	if len(file.Meta) == 0 || file.Meta[0].Type != flac.StreamInfo {
		return fmt.Errorf("FLAC stream has no STREAMINFO block")
	}

	if err := applyVorbisComments(file, tags); err != nil {
		return err
	}
	if art != nil {
		replaceFrontCover(file, art)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tagging-*.flac")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(file.Marshal()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// vorbisFields maps tag options to Vorbis comment field names.
func vorbisFields(tags types.TagOptions) [][2]string {
	var fields [][2]string
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, [2]string{key, value})
		}
	}
	add(flacvorbis.FIELD_TITLE, tags.Title)
	add(flacvorbis.FIELD_ARTIST, tags.Artist)
	add(flacvorbis.FIELD_ALBUM, tags.Album)
	add(flacvorbis.FIELD_TRACKNUMBER, tags.TrackNumber)
	add(flacvorbis.FIELD_ISRC, tags.ISRC)
	return fields
}

// applyVorbisComments replaces the requested fields in the first
// VORBIS_COMMENT block, creating one after STREAMINFO when absent. Field
// names match case-insensitively; other comments and the vendor string
// are kept.
func applyVorbisComments(file *flac.File, tags types.TagOptions) error {
	fields := vorbisFields(tags)
	if len(fields) == 0 {
		return nil
	}

	idx := -1
	for i, meta := range file.Meta {
		if meta.Type == flac.VorbisComment {
			idx = i
			break
		}
	}

	cmt := flacvorbis.New()
	cmt.Vendor = flacVendor
	if idx >= 0 {
		parsed, err := flacvorbis.ParseFromMetaDataBlock(*file.Meta[idx])
		if err != nil {
			return fmt.Errorf("invalid VORBIS_COMMENT block: %w", err)
		}
		cmt = parsed
	}

	replaced := make(map[string]bool, len(fields))
	for _, f := range fields {
		replaced[f[0]] = true
	}
	kept := cmt.Comments[:0]
	for _, c := range cmt.Comments {
		key, _, _ := strings.Cut(c, "=")
		if !replaced[strings.ToUpper(key)] {
			kept = append(kept, c)
		}
	}
	cmt.Comments = kept
	for _, f := range fields {
		if err := cmt.Add(f[0], f[1]); err != nil {
			return err
		}
	}

	block := cmt.Marshal()
	if idx >= 0 {
		file.Meta[idx] = &block
		return nil
	}
	meta := make([]*flac.MetaDataBlock, 0, len(file.Meta)+1)
	meta = append(meta, file.Meta[0], &block)
	file.Meta = append(meta, file.Meta[1:]...)
	return nil
}

// replaceFrontCover drops existing front-cover PICTURE blocks and inserts
// the new one after the Vorbis comment block.
func replaceFrontCover(file *flac.File, art *Artwork) {
	meta := make([]*flac.MetaDataBlock, 0, len(file.Meta)+1)
	insertAt := 1
	for _, m := range file.Meta {
		if m.Type == flac.Picture {
			if pic, err := flacpicture.ParseFromMetaDataBlock(*m); err == nil && pic.PictureType == flacpicture.PictureTypeFrontCover {
				continue
			}
		}
		meta = append(meta, m)
		if m.Type == flac.VorbisComment {
			insertAt = len(meta)
		}
	}

	pic := &flacpicture.MetadataBlockPicture{
		PictureType: flacpicture.PictureTypeFrontCover,
		MIME:        art.MIMEType,
		Description: "Cover",
		Width:       uint32(art.Width),
		Height:      uint32(art.Height),
		ColorDepth:  uint32(art.Depth),
		ImageData:   art.Data,
	}
	block := pic.Marshal()
	file.Meta = append(meta[:insertAt], append([]*flac.MetaDataBlock{&block}, meta[insertAt:]...)...)
}
