package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/thruflo/ppgcam/internal/capture"
	"github.com/thruflo/ppgcam/internal/config"
	"github.com/thruflo/ppgcam/internal/frame"
	"github.com/thruflo/ppgcam/internal/logging"
	"github.com/thruflo/ppgcam/internal/server"
	"github.com/thruflo/ppgcam/internal/session"
)

// Capture sources for measure.
const (
	SourceSynthetic = "synthetic"
	SourceFile      = "file"
)

var (
	measureSource      string
	measureFile        string
	measureFormat      string
	measureLoop        bool
	measureHeartRate   float64
	measureAnalyzerURL string
	measureDuration    time.Duration
	measureStatusPort  int
	measureJSON        bool
)

var measureCmd = &cobra.Command{
	Use:   "measure",
	Short: "Run one measurement against the analyzer",
	Long: `Captures frames, streams them to the analyzer and waits until the
measurement completes: the window elapses, the countdown runs out or a
blood-pressure result arrives. If the window closes first, measure waits
session.result_grace for a late blood-pressure result, then prints the
consolidated reading.

The default source is a synthetic fingertip signal. Use --source file to
replay raw I420 or NV21 frames captured at capture.width x capture.height.

Example:
  ppgcam measure
  ppgcam measure --heart-rate 90 --duration 20s
  ppgcam measure --source file --file frames.yuv --format nv21 --loop
  ppgcam measure --analyzer-url ws://localhost:8765/ws --status-port 9464
  ppgcam measure --json`,
	Args: cobra.NoArgs,
	RunE: runMeasure,
}

func init() {
	measureCmd.Flags().StringVar(&measureSource, "source", SourceSynthetic, "frame source: synthetic or file")
	measureCmd.Flags().StringVar(&measureFile, "file", "", "raw frame file (requires --source file)")
	measureCmd.Flags().StringVar(&measureFormat, "format", capture.FormatI420, "raw frame format: i420 or nv21")
	measureCmd.Flags().BoolVar(&measureLoop, "loop", false, "replay the raw file until the measurement completes")
	measureCmd.Flags().Float64Var(&measureHeartRate, "heart-rate", 72, "synthetic pulse in beats per minute")
	measureCmd.Flags().StringVar(&measureAnalyzerURL, "analyzer-url", "", "analyzer websocket URL (overrides server.url)")
	measureCmd.Flags().DurationVar(&measureDuration, "duration", 0, "measurement window (overrides session.duration)")
	measureCmd.Flags().IntVar(&measureStatusPort, "status-port", 0, "serve /state and /metrics on this port (overrides status.port)")
	measureCmd.Flags().BoolVar(&measureJSON, "json", false, "print the final state as JSON and skip live status")

	rootCmd.AddCommand(measureCmd)
}

func runMeasure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyMeasureFlags(cmd, cfg); err != nil {
		return err
	}
	src, err := newSource(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.Component("measure")
	sess := session.New(cfg, session.WithErrorHandler(func(err error) {
		logger.Warn("measurement error", "error", err)
	}))
	defer sess.Close()
	sess.Start()

	if err := sess.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to analyzer: %w", err)
	}
	logger.Info("measurement started", "session", sess.Snapshot().SessionID, "window", cfg.Session.Duration)

	out := cmd.OutOrStdout()
	rep := newReporter(out, measureJSON)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		err := src.Run(gctx, func(f *frame.SensorFrame) {
			sess.Offer(f)
		})
		if err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		return nil
	})

	if cfg.Status.Port > 0 {
		srv, err := server.NewServerFromConfig(&cfg.Status, sess)
		if err != nil {
			return fmt.Errorf("failed to create status server: %w", err)
		}
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	var final session.State
	g.Go(func() error {
		// The source and status server run until the result is in.
		defer cancelRun()
		s, err := awaitResult(gctx, sess, cfg.Session.ResultGrace, rep.Update)
		final = s
		rep.Done()
		return err
	})

	err = g.Wait()
	interrupted := errors.Is(err, context.Canceled) && ctx.Err() != nil
	if err != nil && !interrupted {
		return err
	}
	if interrupted {
		fmt.Fprintln(out, "Interrupted.")
	}

	if measureJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(final)
	}
	printResult(out, final)
	return nil
}

// applyMeasureFlags layers explicitly set flags over cfg and revalidates.
func applyMeasureFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("analyzer-url") {
		cfg.Server.URL = measureAnalyzerURL
	}
	if flags.Changed("duration") {
		cfg.Session.Duration = measureDuration
	}
	if flags.Changed("status-port") {
		cfg.Status.Port = measureStatusPort
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// newSource builds the capture source selected by --source.
func newSource(cfg *config.Config) (capture.Source, error) {
	switch strings.ToLower(measureSource) {
	case SourceSynthetic, "":
		return &capture.SyntheticSource{
			Width:     cfg.Capture.Width,
			Height:    cfg.Capture.Height,
			FPS:       cfg.Capture.FPS,
			HeartRate: measureHeartRate,
		}, nil
	case SourceFile:
		if measureFile == "" {
			return nil, errors.New("--file is required with --source file")
		}
		return &capture.RawFileSource{
			Path:   measureFile,
			Format: measureFormat,
			Width:  cfg.Capture.Width,
			Height: cfg.Capture.Height,
			FPS:    cfg.Capture.FPS,
			Loop:   measureLoop,
		}, nil
	default:
		return nil, fmt.Errorf("unknown source %q (want %s or %s)", measureSource, SourceSynthetic, SourceFile)
	}
}

// measurement is the part of a Session measure waits on.
type measurement interface {
	Updates() <-chan session.State
	Snapshot() session.State
	Done() <-chan struct{}
}

// awaitResult reports updates until m completes. If no BP result has arrived
// by then, it keeps waiting up to grace for one. It returns the last state
// seen, with ctx's error if ctx ended first.
func awaitResult(ctx context.Context, m measurement, grace time.Duration, report func(session.State)) (session.State, error) {
	updates := m.Updates()

	for done := m.Done(); done != nil; {
		select {
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		case s := <-updates:
			report(s)
		case <-done:
			done = nil
		}
	}

	s := m.Snapshot()
	report(s)
	if s.BP != nil || grace <= 0 {
		return s, nil
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		case <-timer.C:
			return m.Snapshot(), nil
		case s := <-updates:
			report(s)
			if s.BP != nil {
				return s, nil
			}
		}
	}
}
