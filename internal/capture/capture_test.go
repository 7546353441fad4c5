package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/ppgcam/internal/frame"
)

func TestThrottle(t *testing.T) {
	t.Parallel()

	t.Run("keeps even sequence numbers", func(t *testing.T) {
		t.Parallel()

		th := NewThrottle(2)
		for seq := uint64(0); seq < 200; seq++ {
			assert.Equal(t, seq%2 == 0, th.ShouldProcess(seq), "seq %d", seq)
		}
	})

	t.Run("keeps exactly half of any even run", func(t *testing.T) {
		t.Parallel()

		th := NewThrottle(2)
		for _, start := range []uint64{0, 1, 7, 1000} {
			kept := 0
			for seq := start; seq < start+50; seq++ {
				if th.ShouldProcess(seq) {
					kept++
				}
			}
			assert.Equal(t, 25, kept, "start %d", start)
		}
	})

	t.Run("non-positive uses default", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, uint64(DefaultEvery), NewThrottle(0).Every)
		assert.True(t, Throttle{Every: 1}.ShouldProcess(3))
	})
}

// testFrame returns a tiny frame whose release is counted.
func testFrame(t *testing.T, seq uint64, released *atomic.Int32) *frame.SensorFrame {
	t.Helper()
	f, err := frame.FromI420(make([]byte, frame.BufferSize(2, 2)), 2, 2)
	require.NoError(t, err)
	f.Seq = seq
	f.WithRelease(func() { released.Add(1) })
	return f
}

func TestWorkerProcessesAndReleases(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	seen := make(chan uint64, 10)
	w := NewWorker(func(f *frame.SensorFrame) { seen <- f.Seq })
	w.Start()
	defer w.Stop()

	require.True(t, w.Offer(testFrame(t, 4, &released)))

	select {
	case seq := <-seen:
		assert.Equal(t, uint64(4), seq)
	case <-time.After(2 * time.Second):
		t.Fatal("frame was not processed")
	}

	require.Eventually(t, func() bool { return released.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestWorkerLatestOnly(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	block := make(chan struct{})
	var mu sync.Mutex
	var processed []uint64

	w := NewWorker(func(f *frame.SensorFrame) {
		if f.Seq == 0 {
			<-block
		}
		mu.Lock()
		processed = append(processed, f.Seq)
		mu.Unlock()
	})
	w.Start()

	require.True(t, w.Offer(testFrame(t, 0, &released)))
	// Wait for frame 0 to be taken so the mailbox is empty.
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pending == nil
	}, 2*time.Second, time.Millisecond)

	for seq := uint64(1); seq <= 5; seq++ {
		require.True(t, w.Offer(testFrame(t, seq, &released)))
	}
	// Frames 1-4 were displaced while 0 was in flight.
	assert.Equal(t, int32(4), released.Load())
	assert.Equal(t, uint64(4), w.Stats().Dropped)

	close(block)
	require.Eventually(t, func() bool { return w.Stats().Processed == 2 }, 2*time.Second, time.Millisecond)
	w.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{0, 5}, processed)
	assert.Equal(t, int32(6), released.Load())
}

func TestWorkerGate(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	var count atomic.Int32
	th := NewThrottle(2)
	w := NewWorker(
		func(*frame.SensorFrame) { count.Add(1) },
		WithGate(func(f *frame.SensorFrame) bool { return th.ShouldProcess(f.Seq) }),
	)

	assert.False(t, w.Offer(testFrame(t, 1, &released)))
	assert.Equal(t, int32(1), released.Load())
	assert.Equal(t, uint64(1), w.Stats().Rejected)
	assert.Zero(t, count.Load())
	w.Stop()
}

func TestWorkerRecoversPanics(t *testing.T) {
	t.Parallel()

	var released atomic.Int32
	errs := make(chan error, 1)
	done := make(chan struct{})
	w := NewWorker(
		func(f *frame.SensorFrame) {
			if f.Seq == 0 {
				panic("bad frame")
			}
			close(done)
		},
		WithPanicHandler(func(err error) { errs <- err }),
	)
	w.Start()
	defer w.Stop()

	w.Offer(testFrame(t, 0, &released))
	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "bad frame")
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not reported")
	}

	w.Offer(testFrame(t, 2, &released))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after panic")
	}
	assert.Equal(t, uint64(1), w.Stats().Panics)
}

func TestWorkerStop(t *testing.T) {
	t.Parallel()

	t.Run("releases pending and rejects later offers", func(t *testing.T) {
		t.Parallel()

		var released atomic.Int32
		w := NewWorker(func(*frame.SensorFrame) {})
		// Not started: the frame stays pending until Stop.
		require.True(t, w.Offer(testFrame(t, 0, &released)))
		assert.Zero(t, released.Load())

		w.Stop()
		assert.Equal(t, int32(1), released.Load())

		assert.False(t, w.Offer(testFrame(t, 2, &released)))
		assert.Equal(t, int32(2), released.Load())

		assert.NotPanics(t, w.Stop)
	})

	t.Run("waits for in-flight frame", func(t *testing.T) {
		t.Parallel()

		var released atomic.Int32
		started := make(chan struct{})
		var finished atomic.Bool
		w := NewWorker(func(*frame.SensorFrame) {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
		})
		w.Start()
		w.Offer(testFrame(t, 0, &released))
		<-started

		w.Stop()
		assert.True(t, finished.Load())
		assert.Equal(t, int32(1), released.Load())
	})
}

func TestSyntheticSource(t *testing.T) {
	t.Parallel()

	src := &SyntheticSource{Width: 16, Height: 8, FPS: 30, HeartRate: 60, Frames: 31, Unpaced: true}

	var seqs []uint64
	var stamps []time.Time
	var colours []frame.RGB
	err := src.Run(context.Background(), func(f *frame.SensorFrame) {
		seqs = append(seqs, f.Seq)
		stamps = append(stamps, f.CapturedAt)
		colours = append(colours, frame.Averages(f))
		f.Release()
	})
	require.NoError(t, err)
	require.Len(t, seqs, 31)

	for i, seq := range seqs {
		assert.Equal(t, uint64(i), seq)
	}
	// Frames are stamped on the sensor clock, not delivery time.
	assert.InDelta(t, 1.0, stamps[30].Sub(stamps[0]).Seconds(), 1e-6)

	assert.Greater(t, colours[0].Red, colours[0].Green)
	assert.Greater(t, colours[0].Red, colours[0].Blue)

	greens := make([]float64, len(colours))
	for i, c := range colours {
		greens[i] = c.Green
	}

	lo, hi := greens[0], greens[0]
	for _, g := range greens {
		lo = min(lo, g)
		hi = max(hi, g)
	}
	assert.Greater(t, hi, lo, "signal should pulse")
}

func TestSyntheticSourceStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &SyntheticSource{Width: 4, Height: 4, FPS: 200}

	var n atomic.Int32
	err := src.Run(ctx, func(f *frame.SensorFrame) {
		if n.Add(1) == 5 {
			cancel()
		}
		f.Release()
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n.Load(), int32(5))
}

func TestSyntheticSourceRejectsBadSize(t *testing.T) {
	t.Parallel()

	err := (&SyntheticSource{}).Run(context.Background(), func(*frame.SensorFrame) {})
	assert.Error(t, err)
}

func writeRawFrames(t *testing.T, width, height, count int) string {
	t.Helper()
	size := frame.BufferSize(width, height)
	data := make([]byte, 0, size*count)
	for i := 0; i < count; i++ {
		buf := make([]byte, size)
		for j := 0; j < width*height; j++ {
			buf[j] = byte(100 + i)
		}
		for j := width * height; j < size; j++ {
			buf[j] = 128
		}
		data = append(data, buf...)
	}
	path := filepath.Join(t.TempDir(), "frames.yuv")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRawFileSource(t *testing.T) {
	t.Parallel()

	t.Run("replays every frame once", func(t *testing.T) {
		t.Parallel()

		path := writeRawFrames(t, 4, 4, 3)
		src := &RawFileSource{Path: path, Format: FormatI420, Width: 4, Height: 4}

		var lumas []byte
		var seqs []uint64
		err := src.Run(context.Background(), func(f *frame.SensorFrame) {
			lumas = append(lumas, f.Y.Data[0])
			seqs = append(seqs, f.Seq)
			f.Release()
		})
		require.NoError(t, err)
		assert.Equal(t, []byte{100, 101, 102}, lumas)
		assert.Equal(t, []uint64{0, 1, 2}, seqs)
	})

	t.Run("loops until cancelled", func(t *testing.T) {
		t.Parallel()

		path := writeRawFrames(t, 4, 4, 2)
		src := &RawFileSource{Path: path, Format: FormatNV21, Width: 4, Height: 4, Loop: true}

		ctx, cancel := context.WithCancel(context.Background())
		var lumas []byte
		err := src.Run(ctx, func(f *frame.SensorFrame) {
			lumas = append(lumas, f.Y.Data[0])
			if len(lumas) == 5 {
				cancel()
			}
			f.Release()
		})
		require.NoError(t, err)
		assert.Equal(t, []byte{100, 101, 100, 101, 100}, lumas)
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		src := &RawFileSource{Path: filepath.Join(t.TempDir(), "nope"), Width: 4, Height: 4}
		err := src.Run(context.Background(), func(*frame.SensorFrame) {})
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		src := &RawFileSource{Path: "x", Format: "rgb", Width: 4, Height: 4}
		assert.Error(t, src.Run(context.Background(), func(*frame.SensorFrame) {}))
	})
}
