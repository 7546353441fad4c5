package frame

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestEncoderEncode(t *testing.T) {
	t.Parallel()

	t.Run("produces a jpeg at native size", func(t *testing.T) {
		t.Parallel()

		f, err := FromI420(uniformI420(64, 48, 150, 100, 180), 64, 48)
		require.NoError(t, err)

		data, err := NewEncoder(80).Encode(f)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xff, 0xd8}, data[:2])

		img := decodeJPEG(t, data)
		assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	})

	t.Run("de-interleaves nv21 chroma", func(t *testing.T) {
		t.Parallel()

		i420, nv21 := gradientPlanes(32, 16)
		fi, err := FromI420(i420, 32, 16)
		require.NoError(t, err)
		fn, err := FromNV21(nv21, 32, 16)
		require.NoError(t, err)

		enc := &Encoder{Quality: 90}
		a, err := enc.Encode(fi)
		require.NoError(t, err)
		b, err := enc.Encode(fn)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("preserves colour of a uniform frame", func(t *testing.T) {
		t.Parallel()

		f, err := FromI420(uniformI420(16, 16, 150, 100, 180), 16, 16)
		require.NoError(t, err)

		data, err := (&Encoder{Quality: 100}).Encode(f)
		require.NoError(t, err)

		ycc, ok := decodeJPEG(t, data).(*image.YCbCr)
		require.True(t, ok)
		c := ycc.YCbCrAt(8, 8)
		assert.InDelta(t, 150, int(c.Y), 2)
		assert.InDelta(t, 100, int(c.Cb), 2)
		assert.InDelta(t, 180, int(c.Cr), 2)
	})

	t.Run("downscales to max dimension", func(t *testing.T) {
		t.Parallel()

		f, err := FromI420(uniformI420(320, 240, 120, 128, 128), 320, 240)
		require.NoError(t, err)

		data, err := (&Encoder{MaxDimension: 160}).Encode(f)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 160, 120), decodeJPEG(t, data).Bounds())
	})

	t.Run("malformed frame is an error", func(t *testing.T) {
		t.Parallel()

		f := NewSensorFrame(Plane{Data: make([]byte, 4), RowStride: 8, PixelStride: 1}, Plane{}, Plane{}, 8, 8)
		data, err := NewEncoder(80).Encode(f)
		assert.ErrorIs(t, err, ErrShortPlane)
		assert.Nil(t, data)

		data, err = NewEncoder(80).Encode(nil)
		assert.ErrorIs(t, err, ErrEmptyFrame)
		assert.Nil(t, data)
	})
}

func TestEncoderTargetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		max          int
		w, h         int
		wantW, wantH int
		wantScaled   bool
	}{
		{"disabled", 0, 640, 480, 640, 480, false},
		{"already small", 800, 640, 480, 640, 480, false},
		{"landscape", 320, 640, 480, 320, 240, true},
		{"portrait", 320, 480, 640, 240, 320, true},
		{"extreme aspect", 10, 1000, 2, 10, 1, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w, h, scaled := (&Encoder{MaxDimension: tt.max}).targetSize(tt.w, tt.h)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
			assert.Equal(t, tt.wantScaled, scaled)
		})
	}
}
