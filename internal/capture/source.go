package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thruflo/ppgcam/internal/frame"
)

// Source produces sensor frames. Run delivers frames to sink in sequence
// order, starting at 0, until ctx is done or the source is exhausted. The
// sink takes ownership of each frame and must release it.
type Source interface {
	Run(ctx context.Context, sink func(*frame.SensorFrame)) error
}

// Raw buffer layouts accepted by RawFileSource.
const (
	FormatI420 = "i420"
	FormatNV21 = "nv21"
)

// bufferPool recycles frame buffers of one fixed size.
type bufferPool struct {
	pool sync.Pool
}

func newBufferPool(size int) *bufferPool {
	p := &bufferPool{}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *bufferPool) get() *[]byte {
	return p.pool.Get().(*[]byte)
}

func (p *bufferPool) put(b *[]byte) {
	p.pool.Put(b)
}

func newLimiter(fps float64) *rate.Limiter {
	if fps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(fps), 1)
}

// frameClock stamps frames at a fixed cadence from the start of a run.
type frameClock struct {
	start    time.Time
	interval time.Duration
}

func newFrameClock(fps float64) frameClock {
	c := frameClock{start: time.Now()}
	if fps > 0 {
		c.interval = time.Duration(float64(time.Second) / fps)
	}
	return c
}

func (c frameClock) at(seq uint64) time.Time {
	if c.interval == 0 {
		return time.Now()
	}
	return c.start.Add(time.Duration(seq) * c.interval)
}

// SyntheticSource generates a fingertip-over-flash signal: a red-dominant
// frame whose brightness pulses at HeartRate beats per minute.
type SyntheticSource struct {
	Width     int
	Height    int
	FPS       float64
	HeartRate float64
	// Frames limits the run; 0 means until ctx is done.
	Frames uint64
	// Unpaced delivers frames as fast as the sink accepts them while still
	// stamping them at FPS.
	Unpaced bool
}

// Run implements Source.
func (s *SyntheticSource) Run(ctx context.Context, sink func(*frame.SensorFrame)) error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid synthetic frame size %dx%d", s.Width, s.Height)
	}
	limiter := newLimiter(s.FPS)
	if s.Unpaced {
		limiter = newLimiter(0)
	}
	clock := newFrameClock(s.FPS)
	pool := newBufferPool(frame.BufferSize(s.Width, s.Height))

	for seq := uint64(0); s.Frames == 0 || seq < s.Frames; seq++ {
		if err := limiter.Wait(ctx); err != nil {
			// Wait fails only once ctx is done or its deadline would pass.
			return nil
		}

		buf := pool.get()
		captured := clock.at(seq)
		s.fill(*buf, captured.Sub(clock.start))

		f, err := frame.FromI420(*buf, s.Width, s.Height)
		if err != nil {
			pool.put(buf)
			return err
		}
		f.Seq = seq
		f.CapturedAt = captured
		f.WithRelease(func() { pool.put(buf) })
		sink(f)
	}
	return nil
}

// fill writes one I420 frame at offset t into the signal.
func (s *SyntheticSource) fill(buf []byte, t time.Duration) {
	hr := s.HeartRate
	if hr <= 0 {
		hr = 72
	}
	phase := 2 * math.Pi * hr / 60 * t.Seconds()
	// Blood volume peaks absorb light, so the pulse darkens the frame.
	luma := byte(150 - 6*math.Sin(phase))

	size := s.Width * s.Height
	csize := (len(buf) - size) / 2
	for i := 0; i < size; i++ {
		buf[i] = luma
	}
	for i := 0; i < csize; i++ {
		buf[size+i] = 100
		buf[size+csize+i] = 180
	}
}

// RawFileSource replays fixed-size raw 4:2:0 frames from a file.
type RawFileSource struct {
	Path   string
	Format string
	Width  int
	Height int
	FPS    float64
	Loop   bool
}

// Run implements Source.
func (s *RawFileSource) Run(ctx context.Context, sink func(*frame.SensorFrame)) error {
	wrap, err := wrapperFor(s.Format)
	if err != nil {
		return err
	}

	file, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("failed to open raw frames: %w", err)
	}
	defer file.Close()

	limiter := newLimiter(s.FPS)
	clock := newFrameClock(s.FPS)
	pool := newBufferPool(frame.BufferSize(s.Width, s.Height))

	for seq := uint64(0); ; {
		if err := limiter.Wait(ctx); err != nil {
			// Wait fails only once ctx is done or its deadline would pass.
			return nil
		}

		buf := pool.get()
		if _, err := io.ReadFull(file, *buf); err != nil {
			pool.put(buf)
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("failed to read frame %d: %w", seq, err)
			}
			if !s.Loop || seq == 0 {
				return nil
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("failed to rewind raw frames: %w", err)
			}
			continue
		}

		f, err := wrap(*buf, s.Width, s.Height)
		if err != nil {
			pool.put(buf)
			return err
		}
		f.Seq = seq
		f.CapturedAt = clock.at(seq)
		f.WithRelease(func() { pool.put(buf) })
		sink(f)
		seq++
	}
}

func wrapperFor(format string) (func([]byte, int, int) (*frame.SensorFrame, error), error) {
	switch strings.ToLower(format) {
	case FormatI420, "":
		return frame.FromI420, nil
	case FormatNV21:
		return frame.FromNV21, nil
	default:
		return nil, fmt.Errorf("unsupported raw format %q", format)
	}
}
