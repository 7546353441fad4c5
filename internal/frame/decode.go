package frame

// Channel selects a colour channel for Decode.
type Channel int

const (
	Red Channel = iota
	Green
	Blue
)

// String returns the lower-case channel name.
func (c Channel) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	default:
		return "unknown"
	}
}

// RGB holds per-channel mean intensities in the 0..255 range.
type RGB struct {
	Red   float64 `json:"red"`
	Green float64 `json:"green"`
	Blue  float64 `json:"blue"`
}

// Get returns the value for one channel.
func (c RGB) Get(ch Channel) float64 {
	switch ch {
	case Red:
		return c.Red
	case Green:
		return c.Green
	case Blue:
		return c.Blue
	default:
		return 0
	}
}

// Fixed-point YUV→RGB coefficients, scaled by 1024, and the 18-bit clamp.
const (
	coefY    = 1192
	coefRV   = 1634
	coefGV   = 833
	coefGU   = 400
	coefBU   = 2066
	clampMax = 262143
)

// Decode returns the mean intensity of one channel over every pixel of f.
// A nil, empty or malformed frame yields 0.
func Decode(f *SensorFrame, ch Channel) float64 {
	return Averages(f).Get(ch)
}

// Averages converts every pixel to RGB with integer arithmetic and returns the
// per-channel means. The computation is bit-for-bit the packed-pixel
// conversion used by Android PPG readers: luma is biased by 16 and floored at
// zero, chroma is biased by 128, each component is clamped to 18 bits and
// then narrowed to 8 bits through an ARGB word.
func Averages(f *SensorFrame) RGB {
	if f.Validate() != nil {
		return RGB{}
	}

	var sumR, sumG, sumB int64
	for j := 0; j < f.Height; j++ {
		cy := j >> 1
		var u, v int
		for i := 0; i < f.Width; i++ {
			y := int(f.Y.at(i, j)) - 16
			if y < 0 {
				y = 0
			}
			if i&1 == 0 {
				v = int(f.V.at(i>>1, cy)) - 128
				u = int(f.U.at(i>>1, cy)) - 128
			}

			y1192 := coefY * y
			r := clamp18(y1192 + coefRV*v)
			g := clamp18(y1192 - coefGV*v - coefGU*u)
			b := clamp18(y1192 + coefBU*u)

			pixel := 0xff000000 | uint32((r<<6)&0xff0000) | uint32((g>>2)&0xff00) | uint32((b>>10)&0xff)
			sumR += int64((pixel >> 16) & 0xff)
			sumG += int64((pixel >> 8) & 0xff)
			sumB += int64(pixel & 0xff)
		}
	}

	n := float64(f.Width * f.Height)
	return RGB{
		Red:   float64(sumR) / n,
		Green: float64(sumG) / n,
		Blue:  float64(sumB) / n,
	}
}

func clamp18(v int) int {
	if v < 0 {
		return 0
	}
	if v > clampMax {
		return clampMax
	}
	return v
}
