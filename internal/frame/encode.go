package frame

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// DefaultQuality is the JPEG quality the analyzer was tuned against.
const DefaultQuality = 80

// Encoder turns sensor frames into JPEG payloads.
type Encoder struct {
	// Quality is the JPEG quality (1-100). Zero means DefaultQuality.
	Quality int

	// MaxDimension bounds the longer edge of the output (0 = native size).
	MaxDimension int
}

// NewEncoder returns an Encoder with the given quality and no downscale.
func NewEncoder(quality int) *Encoder {
	return &Encoder{Quality: quality}
}

// Encode compresses f into a JPEG. Chroma planes with any pixel or row
// stride are copied into a tightly packed 4:2:0 image first. An error means
// the frame should be skipped.
func (e *Encoder) Encode(f *SensorFrame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	var img image.Image = toYCbCr(f)

	if w, h, ok := e.targetSize(f.Width, f.Height); ok {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
		img = dst
	}

	quality := e.Quality
	if quality <= 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// targetSize scales width x height so the longer edge fits MaxDimension.
func (e *Encoder) targetSize(width, height int) (int, int, bool) {
	if e.MaxDimension <= 0 || (width <= e.MaxDimension && height <= e.MaxDimension) {
		return width, height, false
	}
	if width >= height {
		h := height * e.MaxDimension / width
		return e.MaxDimension, max(h, 1), true
	}
	w := width * e.MaxDimension / height
	return max(w, 1), e.MaxDimension, true
}

func toYCbCr(f *SensorFrame) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, f.Width, f.Height), image.YCbCrSubsampleRatio420)

	for y := 0; y < f.Height; y++ {
		row := img.Y[y*img.YStride : y*img.YStride+f.Width]
		if f.Y.PixelStride == 1 {
			copy(row, f.Y.Data[y*f.Y.RowStride:])
			continue
		}
		for x := range row {
			row[x] = f.Y.at(x, y)
		}
	}

	cw, ch := f.ChromaSize()
	for y := 0; y < ch; y++ {
		cb := img.Cb[y*img.CStride : y*img.CStride+cw]
		cr := img.Cr[y*img.CStride : y*img.CStride+cw]
		for x := 0; x < cw; x++ {
			cb[x] = f.U.at(x, y)
			cr[x] = f.V.at(x, y)
		}
	}

	return img
}
