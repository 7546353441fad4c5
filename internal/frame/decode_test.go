package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmpty(t *testing.T) {
	t.Parallel()

	for _, ch := range []Channel{Red, Green, Blue} {
		assert.Zero(t, Decode(nil, ch))
		assert.Zero(t, Decode(NewSensorFrame(Plane{}, Plane{}, Plane{}, 0, 0), ch))
		assert.Zero(t, Decode(NewSensorFrame(Plane{Data: []byte{1}}, Plane{}, Plane{}, 8, 8), ch))
	}
}

func TestDecodeBlackFrame(t *testing.T) {
	t.Parallel()

	for _, size := range [][2]int{{2, 2}, {16, 8}, {320, 240}} {
		f, err := FromI420(uniformI420(size[0], size[1], 0, 128, 128), size[0], size[1])
		require.NoError(t, err)

		got := Averages(f)
		assert.Equal(t, RGB{}, got, "size %v", size)
	}
}

func TestDecodeZeroBuffer(t *testing.T) {
	t.Parallel()

	// Raw zero chroma is strongly negative U and V, which the fixed-point
	// transform maps to pure green.
	f, err := FromNV21(make([]byte, BufferSize(8, 8)), 8, 8)
	require.NoError(t, err)

	got := Averages(f)
	assert.Equal(t, 0.0, got.Red)
	assert.Equal(t, 154.0, got.Green)
	assert.Equal(t, 0.0, got.Blue)
}

func TestDecodeUniform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		y, u, v byte
		want    RGB
	}{
		{"grey", 100, 128, 128, RGB{Red: 97, Green: 97, Blue: 97}},
		{"finger over flash", 150, 100, 180, RGB{Red: 238, Green: 124, Blue: 99}},
		{"saturated", 255, 255, 255, RGB{Red: 255, Green: 125, Blue: 255}},
		{"below luma bias", 10, 128, 128, RGB{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			single, err := FromI420(uniformI420(2, 2, tt.y, tt.u, tt.v), 2, 2)
			require.NoError(t, err)
			large, err := FromI420(uniformI420(64, 48, tt.y, tt.u, tt.v), 64, 48)
			require.NoError(t, err)

			assert.Equal(t, tt.want, Averages(single))
			assert.Equal(t, Averages(single), Averages(large))
			assert.Equal(t, tt.want.Green, Decode(large, Green))
		})
	}
}

func TestDecodeLayoutsAgree(t *testing.T) {
	t.Parallel()

	i420, nv21 := gradientPlanes(10, 6)

	fi, err := FromI420(i420, 10, 6)
	require.NoError(t, err)
	fn, err := FromNV21(nv21, 10, 6)
	require.NoError(t, err)

	assert.Equal(t, Averages(fi), Averages(fn))
}

func TestChannelString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "red", Red.String())
	assert.Equal(t, "green", Green.String())
	assert.Equal(t, "blue", Blue.String())
	assert.Equal(t, "unknown", Channel(9).String())
}
