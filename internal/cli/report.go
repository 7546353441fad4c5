package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/thruflo/ppgcam/internal/session"
)

// reporter renders progress while a measurement runs.
type reporter interface {
	Update(s session.State)
	Done()
}

// newReporter picks a single rewritten status line for terminals and
// occasional plain lines otherwise.
func newReporter(w io.Writer, quiet bool) reporter {
	if quiet {
		return nopReporter{}
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return &liveReporter{w: w}
	}
	return &lineReporter{w: w, phase: -1, logged: -1}
}

type nopReporter struct{}

func (nopReporter) Update(session.State) {}
func (nopReporter) Done()                {}

// liveReporter redraws one line in place.
type liveReporter struct {
	w    io.Writer
	last string
}

func (r *liveReporter) Update(s session.State) {
	line := statusLine(s)
	if line == r.last {
		return
	}
	r.last = line
	fmt.Fprintf(r.w, "\r\033[2K%s", line)
}

func (r *liveReporter) Done() {
	if r.last != "" {
		fmt.Fprintln(r.w)
	}
}

// lineReporter prints on phase changes and every logEvery seconds of
// measurement.
type lineReporter struct {
	w      io.Writer
	phase  session.Phase
	logged int
}

const logEvery = 5

func (r *lineReporter) Update(s session.State) {
	bucket := int(s.ElapsedSeconds) / logEvery
	if s.Phase == r.phase && bucket == r.logged {
		return
	}
	r.phase = s.Phase
	r.logged = bucket
	fmt.Fprintln(r.w, statusLine(s))
}

func (r *lineReporter) Done() {}

// statusLine is a one-line summary of a running measurement.
func statusLine(s session.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s", s.Phase)
	if s.Phase == session.PhaseStreaming {
		fmt.Fprintf(&b, " %2ds left", s.CountdownRemaining)
	}
	fmt.Fprintf(&b, " elapsed %4.1fs sent %d", s.ElapsedSeconds, s.FramesSent)
	if hr := s.LatestHeartRate; hr != nil {
		fmt.Fprintf(&b, " HR %.0f bpm", hr.Value)
	}
	if smp := s.LatestSample; smp != nil {
		fmt.Fprintf(&b, " R %.0f G %.0f B %.0f", smp.Red, smp.Green, smp.Blue)
	}
	return b.String()
}

func describeTrigger(t session.Trigger) string {
	switch t {
	case session.TriggerElapsed:
		return "measurement window elapsed"
	case session.TriggerCountdown:
		return "countdown finished"
	case session.TriggerBP:
		return "blood pressure received"
	default:
		return string(t)
	}
}

// printResult writes the consolidated reading.
func printResult(w io.Writer, s session.State) {
	if s.Completed {
		fmt.Fprintf(w, "Measurement complete (%s)\n", describeTrigger(s.CompletedBy))
	} else {
		fmt.Fprintln(w, "Measurement incomplete")
	}
	fmt.Fprintf(w, "  Session:        %s\n", s.SessionID)
	fmt.Fprintf(w, "  Duration:       %.1fs, %d frames analyzed, %d sent\n", s.ElapsedSeconds, s.FramesAnalyzed, s.FramesSent)

	if hr := s.LatestHeartRate; hr != nil {
		fmt.Fprintf(w, "  Heart rate:     %.0f bpm (confidence %.0f%%", hr.Value, hr.Confidence)
		if hr.Quality != "" {
			fmt.Fprintf(w, ", %s signal", hr.Quality)
		}
		fmt.Fprintln(w, ")")
	} else {
		fmt.Fprintln(w, "  Heart rate:     -")
	}
	if r := s.Respiration; r != nil {
		fmt.Fprintf(w, "  Respiration:    %.0f breaths/min\n", r.Rate)
	}
	if o := s.SpO2; o != nil {
		fmt.Fprintf(w, "  SpO2:           %.0f%%\n", o.Value)
	}

	if bp := s.BP; bp != nil {
		fmt.Fprintf(w, "  Blood pressure: %.0f/%.0f mmHg (%s, confidence %.0f%%)\n", bp.Systolic, bp.Diastolic, bp.Category, bp.Confidence)
		fmt.Fprintf(w, "  Risk level:     %s\n", bp.RiskLevel)
		fmt.Fprintf(w, "  Recommendation: %s\n", bp.Recommendation)
		if bp.Description != "" {
			fmt.Fprintf(w, "  %s\n", bp.Description)
		}
	} else {
		fmt.Fprintln(w, "  Blood pressure: no result")
	}

	fmt.Fprintln(w, "\nReadings are estimates and not medical advice.")
}
