// chunk walking adapted from https://github.com/parsiya/Go-Security/blob/master/png-tests/png-chunk-extraction.go

package png_info_extractor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
)

// 89 50 4E 47 0D 0A 1A 0A
var pngHeader = "\x89\x50\x4E\x47\x0D\x0A\x1A\x0A"
var iHDRlength = 13

const parametersKeyword = "parameters"

// Each chunk starts with a uint32 length (big endian), then 4 byte name,
// then data and finally the CRC32 of type and data.
type chunk struct {
	Length int
	CType  string
	Data   []byte
	Crc32  uint32
}

func (c *chunk) populate(r *bytes.Reader) error {
	buf := make([]byte, 4)

	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	// checked before allocating so a corrupt length cannot ask for gigabytes
	length := binary.BigEndian.Uint32(buf)
	if int64(length) > int64(r.Len()) {
		return fmt.Errorf("chunk length %d exceeds remaining %d bytes: %w", length, r.Len(), io.ErrUnexpectedEOF)
	}

	c.Length = int(length)

	if _, err := io.ReadFull(r, buf); err != nil {
		return unexpected(err)
	}

	c.CType = string(buf)

	c.Data = make([]byte, c.Length)

	if _, err := io.ReadFull(r, c.Data); err != nil {
		return unexpected(err)
	}

	if _, err := io.ReadFull(r, buf); err != nil {
		return unexpected(err)
	}

	c.Crc32 = binary.BigEndian.Uint32(buf)

	crc := crc32.NewIEEE()
	crc.Write([]byte(c.CType))
	crc.Write(c.Data)

	if crc.Sum32() != c.Crc32 {
		return fmt.Errorf("CRC mismatch in %s chunk", c.CType)
	}

	return nil
}

// a chunk cut short means the image is truncated, not finished
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}

type png struct {
	Width             int
	Height            int
	BitDepth          int
	ColorType         int
	CompressionMethod int
	FilterMethod      int
	InterlaceMethod   int
	chunks            []*chunk
}

// IHDR: http://www.libpng.org/pub/png/spec/1.2/PNG-Chunks.html#C.IHDR
func (png *png) parseIHDR(iHDR *chunk) error {
	if iHDR.CType != "IHDR" {
		return fmt.Errorf("first chunk is %q, expected IHDR", iHDR.CType)
	}

	if iHDR.Length != iHDRlength {
		return fmt.Errorf("invalid IHDR length: got %d - expected %d", iHDR.Length, iHDRlength)
	}

	tmp := iHDR.Data

	png.Width = int(binary.BigEndian.Uint32(tmp[0:4]))
	if png.Width <= 0 {
		return fmt.Errorf("invalid width in IHDR - got %x", tmp[0:4])
	}

	png.Height = int(binary.BigEndian.Uint32(tmp[4:8]))
	if png.Height <= 0 {
		return fmt.Errorf("invalid height in IHDR - got %x", tmp[4:8])
	}

	png.BitDepth = int(tmp[8])
	png.ColorType = int(tmp[9])

	png.CompressionMethod = int(tmp[10])
	if png.CompressionMethod != 0 {
		return fmt.Errorf("invalid compression method - expected 0 - got %x", tmp[10])
	}

	png.FilterMethod = int(tmp[11])
	if png.FilterMethod != 0 {
		return fmt.Errorf("invalid filter method - expected 0 - got %x", tmp[11])
	}

	png.InterlaceMethod = int(tmp[12])
	if png.InterlaceMethod != 0 && png.InterlaceMethod != 1 {
		return fmt.Errorf("invalid interlace method - expected 0 or 1 - got %x", tmp[12])
	}

	return nil
}

type extractorImpl struct {
	png *png
}

type Config struct {
	PngData []byte
}

// New parses a complete PNG: signature, IHDR first, every chunk CRC and a
// final IEND. Anything less is rejected, so a successful New means the buffer
// holds a whole image.
func New(cfg Config) (Extractor, error) {
	if cfg.PngData == nil {
		return nil, errors.New("png data is nil")
	}

	imgFile := bytes.NewReader(cfg.PngData)

	header := make([]byte, 8)

	if _, err := io.ReadFull(imgFile, header); err != nil {
		return nil, fmt.Errorf("reading PNG header: %w", err)
	}

	if string(header) != pngHeader {
		return nil, errors.New("wrong PNG header")
	}

	var pngImage png

	for {
		var c chunk

		err := c.populate(imgFile)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		pngImage.chunks = append(pngImage.chunks, &c)

		if c.CType == "IEND" {
			break
		}
	}

	if len(pngImage.chunks) == 0 {
		return nil, errors.New("PNG has no chunks")
	}

	if err := pngImage.parseIHDR(pngImage.chunks[0]); err != nil {
		return nil, err
	}

	if pngImage.chunks[len(pngImage.chunks)-1].CType != "IEND" {
		return nil, errors.New("PNG is truncated: no IEND chunk")
	}

	return &extractorImpl{
		png: &pngImage,
	}, nil
}

type PNGInfo struct {
	Width  int
	Height int
	// Parameters is the generation text some backends embed in a tEXt chunk.
	Parameters string
	// Prompt is the first line of Parameters.
	Prompt string
}

func (e *extractorImpl) ExtractDiffusionInfo() (*PNGInfo, error) {
	info := &PNGInfo{
		Width:  e.png.Width,
		Height: e.png.Height,
	}

	for _, c := range e.png.chunks {
		if c.CType != "tEXt" {
			continue
		}

		keyword, text, found := strings.Cut(string(c.Data), "\x00")
		if !found || keyword != parametersKeyword {
			continue
		}

		info.Parameters = text
		info.Prompt, _, _ = strings.Cut(text, "\n")

		break
	}

	return info, nil
}
