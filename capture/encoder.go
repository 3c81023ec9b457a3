package capture

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Encoder turns a captured frame into bytes for the detection oracle.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// JPEGEncoder downsizes frames wider than MaxWidth (keeping aspect ratio) and encodes them as JPEG.
// Boxes are normalized, so downsizing does not affect detections geometry.
type JPEGEncoder struct {
	MaxWidth int
	Quality  int
}

func NewJPEGEncoder(maxWidth, quality int) *JPEGEncoder {
	return &JPEGEncoder{
		MaxWidth: maxWidth,
		Quality:  quality,
	}
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("nil frame")
	}
	if e.MaxWidth > 0 && img.Bounds().Dx() > e.MaxWidth {
		img = resize.Resize(uint(e.MaxWidth), 0, img, resize.Lanczos3)
	}
	quality := e.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "Can't encode frame")
	}
	return buf.Bytes(), nil
}
