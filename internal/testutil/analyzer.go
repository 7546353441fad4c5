package testutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thruflo/ppgcam/internal/config"
	"github.com/thruflo/ppgcam/internal/simulator"
)

// Analyzer is a simulated analyzer running on a local test server.
type Analyzer struct {
	// URL is the websocket endpoint, ws://host/ws.
	URL     string
	Handler *simulator.Handler
	Server  *httptest.Server
}

// NewAnalyzer starts a simulated analyzer on /ws. It is closed when the test
// completes.
func NewAnalyzer(t *testing.T, opts ...simulator.Option) *Analyzer {
	t.Helper()

	h := simulator.NewHandler(opts...)
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &Analyzer{
		URL:     WebsocketURL(ts.URL) + "/ws",
		Handler: h,
		Server:  ts,
	}
}

// WebsocketURL rewrites an http(s) URL to ws(s).
func WebsocketURL(httpURL string) string {
	if rest, ok := strings.CutPrefix(httpURL, "https://"); ok {
		return "wss://" + rest
	}
	return "ws://" + strings.TrimPrefix(httpURL, "http://")
}

// SetupTestDir creates a temporary directory holding .ppgcam/config.yaml with
// the given contents. An empty config writes no file. Returns the base path.
func SetupTestDir(t *testing.T, configYAML string) string {
	t.Helper()

	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, config.Dir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if configYAML != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0644))
	}
	return tmpDir
}

// WriteEnvFile writes .ppgcam/.env under basePath.
func WriteEnvFile(t *testing.T, basePath, content string) {
	t.Helper()
	dir := filepath.Join(basePath, config.Dir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0600))
}
