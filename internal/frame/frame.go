// Package frame holds the planar sensor frame model and the two pure
// transforms applied to it: per-channel averaging for the local signal and
// JPEG encoding for the remote analyzer.
package frame

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrEmptyFrame is returned for nil frames, zero dimensions or a missing luma plane.
	ErrEmptyFrame = errors.New("empty frame")
	// ErrShortPlane is returned when a plane is too small for the frame dimensions.
	ErrShortPlane = errors.New("plane shorter than frame dimensions")
)

// Plane is one image plane. RowStride is the byte distance between rows and
// PixelStride the byte distance between neighbouring samples in a row.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// at returns the sample at column x, row y.
func (p Plane) at(x, y int) byte {
	return p.Data[y*p.RowStride+x*p.PixelStride]
}

// need returns the minimum length of Data for a cols x rows plane.
func (p Plane) need(cols, rows int) int {
	if cols <= 0 || rows <= 0 {
		return 0
	}
	return (rows-1)*p.RowStride + (cols-1)*p.PixelStride + 1
}

// SensorFrame is a 4:2:0 planar luma/chroma frame on loan from a capture
// source. Whoever holds it last must call Release.
type SensorFrame struct {
	Y, U, V    Plane
	Width      int
	Height     int
	Seq        uint64
	CapturedAt time.Time

	release func()
	once    sync.Once
}

// NewSensorFrame builds a frame from three planes.
func NewSensorFrame(y, u, v Plane, width, height int) *SensorFrame {
	return &SensorFrame{Y: y, U: u, V: v, Width: width, Height: height}
}

// WithRelease sets the function that returns the frame's buffers to its owner.
func (f *SensorFrame) WithRelease(fn func()) *SensorFrame {
	f.release = fn
	return f
}

// Release hands the buffers back to the owning source. Safe to call more than
// once and on a nil frame.
func (f *SensorFrame) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if f.release != nil {
			f.release()
		}
	})
}

// ChromaSize returns the dimensions of the subsampled chroma planes.
func (f *SensorFrame) ChromaSize() (int, int) {
	return (f.Width + 1) / 2, (f.Height + 1) / 2
}

// Validate checks that every plane covers the frame dimensions.
func (f *SensorFrame) Validate() error {
	if f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Y.Data) == 0 {
		return ErrEmptyFrame
	}
	if len(f.Y.Data) < f.Y.need(f.Width, f.Height) {
		return fmt.Errorf("luma: %w", ErrShortPlane)
	}
	cw, ch := f.ChromaSize()
	if len(f.U.Data) < f.U.need(cw, ch) {
		return fmt.Errorf("chroma u: %w", ErrShortPlane)
	}
	if len(f.V.Data) < f.V.need(cw, ch) {
		return fmt.Errorf("chroma v: %w", ErrShortPlane)
	}
	return nil
}

// FromNV21 wraps a YUV420SP buffer: a full luma plane followed by
// interleaved V/U pairs. The planes alias buf.
func FromNV21(buf []byte, width, height int) (*SensorFrame, error) {
	size := width * height
	if width <= 0 || height <= 0 || len(buf) == 0 {
		return nil, ErrEmptyFrame
	}
	cw, ch := (width+1)/2, (height+1)/2
	if len(buf) < size+2*cw*ch {
		return nil, fmt.Errorf("nv21 buffer of %d bytes for %dx%d: %w", len(buf), width, height, ErrShortPlane)
	}
	return NewSensorFrame(
		Plane{Data: buf[:size], RowStride: width, PixelStride: 1},
		Plane{Data: buf[size+1:], RowStride: 2 * cw, PixelStride: 2},
		Plane{Data: buf[size:], RowStride: 2 * cw, PixelStride: 2},
		width, height,
	), nil
}

// FromI420 wraps a fully planar Y, U, V buffer. The planes alias buf.
func FromI420(buf []byte, width, height int) (*SensorFrame, error) {
	size := width * height
	if width <= 0 || height <= 0 || len(buf) == 0 {
		return nil, ErrEmptyFrame
	}
	cw, ch := (width+1)/2, (height+1)/2
	csize := cw * ch
	if len(buf) < size+2*csize {
		return nil, fmt.Errorf("i420 buffer of %d bytes for %dx%d: %w", len(buf), width, height, ErrShortPlane)
	}
	return NewSensorFrame(
		Plane{Data: buf[:size], RowStride: width, PixelStride: 1},
		Plane{Data: buf[size : size+csize], RowStride: cw, PixelStride: 1},
		Plane{Data: buf[size+csize : size+2*csize], RowStride: cw, PixelStride: 1},
		width, height,
	), nil
}

// BufferSize returns the byte length of a packed 4:2:0 frame (I420 or NV21).
func BufferSize(width, height int) int {
	cw, ch := (width+1)/2, (height+1)/2
	return width*height + 2*cw*ch
}
