package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// Encoder turns raw captured frames into transmit-ready JPEG payloads.
// Encoding is deterministic for a fixed input and configuration.
type Encoder struct {
	width   int
	height  int
	quality int
}

// NewEncoder creates an encoder targeting the given viewport and JPEG quality
func NewEncoder(width, height, quality int) *Encoder {
	return &Encoder{
		width:   width,
		height:  height,
		quality: quality,
	}
}

// Encode decodes a PNG capture, scales it to the target viewport if it
// differs, and re-encodes it as JPEG at the configured quality.
func (e *Encoder) Encode(rawPNG []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(rawPNG))
	if err != nil {
		return nil, fmt.Errorf("failed to decode capture: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != e.width || bounds.Dy() != e.height {
		scaled := image.NewRGBA(image.Rect(0, 0, e.width, e.height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
		img = scaled
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
