package composite_renderer

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"

	"golang.org/x/image/draw"
)

const defaultTileSize = 256

type rendererImpl struct {
	tileSize int
	columns  int
	padding  int
}

type Config struct {
	// TileSize is the edge of the square cell each image is scaled into.
	TileSize int
	// Columns defaults to the smallest square grid that fits every image.
	Columns int
	Padding int
}

func New(cfg Config) (Renderer, error) {
	if cfg.TileSize <= 0 {
		cfg.TileSize = defaultTileSize
	}

	if cfg.Columns < 0 {
		return nil, errors.New("columns must not be negative")
	}

	if cfg.Padding < 0 {
		return nil, errors.New("padding must not be negative")
	}

	return &rendererImpl{
		tileSize: cfg.TileSize,
		columns:  cfg.Columns,
		padding:  cfg.Padding,
	}, nil
}

// TileImages lays the images out left to right, top to bottom, each scaled
// down to fit its cell with its aspect ratio kept, and encodes the sheet as PNG.
func (r *rendererImpl) TileImages(imageBufs []*bytes.Buffer) (*bytes.Buffer, error) {
	if len(imageBufs) == 0 {
		return nil, errors.New("no images to tile")
	}

	images := make([]image.Image, len(imageBufs))

	for i, buf := range imageBufs {
		img, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}

		images[i] = img
	}

	columns := r.columns
	if columns == 0 {
		columns = int(math.Ceil(math.Sqrt(float64(len(images)))))
	}

	if columns > len(images) {
		columns = len(images)
	}

	rows := (len(images) + columns - 1) / columns
	cell := r.tileSize + r.padding

	retImage := image.NewRGBA(image.Rect(0, 0, columns*cell+r.padding, rows*cell+r.padding))
	draw.Draw(retImage, retImage.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	for i, img := range images {
		x := r.padding + (i%columns)*cell
		y := r.padding + (i/columns)*cell

		target := fitInside(img.Bounds(), r.tileSize).Add(image.Pt(x, y))

		draw.ApproxBiLinear.Scale(retImage, target, img, img.Bounds(), draw.Over, nil)
	}

	imageBuf := new(bytes.Buffer)

	err := png.Encode(imageBuf, retImage)
	if err != nil {
		return nil, err
	}

	return imageBuf, nil
}

// fitInside returns a rectangle at the origin with src's aspect ratio whose
// longer edge is size, centered in a size x size cell.
func fitInside(src image.Rectangle, size int) image.Rectangle {
	w, h := src.Dx(), src.Dy()

	if w >= h {
		h = int(math.Max(1, math.Round(float64(h)*float64(size)/float64(w))))
		w = size
	} else {
		w = int(math.Max(1, math.Round(float64(w)*float64(size)/float64(h))))
		h = size
	}

	offset := image.Pt((size-w)/2, (size-h)/2)

	return image.Rect(0, 0, w, h).Add(offset)
}
