// Package testutil provides shared test utilities for ppgcam.
//
// # Fixtures
//
//   - UniformI420, UniformNV21 - packed 4:2:0 buffers with constant planes
//   - SampleFrame(t, seq, offset) - an 8x8 red-dominant frame stamped after Epoch
//   - SampleJPEG(t) - SampleFrame encoded as a frame payload
//   - SampleBP(systolic) - a complete analyzer BP payload
//
// # Analyzer
//
//   - NewAnalyzer(t, opts...) - a simulated analyzer on an httptest server
//   - WebsocketURL(url) - http(s) to ws(s)
//   - SetupTestDir(t, yaml), WriteEnvFile(t, base, env) - a .ppgcam directory
//
// # Timeouts
//
//   - ContextWithTestDeadline(t, fallback) - a context bounded by the test deadline
//   - MeasurementContext(t), ShortOperationContext(t) - common bounds
//
// Usage:
//
//	func TestMeasure(t *testing.T) {
//	    analyzer := testutil.NewAnalyzer(t, simulator.WithBPAfterFrames(5))
//	    ctx, cancel := testutil.MeasurementContext(t)
//	    defer cancel()
//	    // ... connect a session to analyzer.URL ...
//	}
package testutil
