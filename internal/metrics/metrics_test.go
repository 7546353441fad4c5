package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFrameDropped(t *testing.T) {
	framesDropped.Reset()

	RecordFrameDropped(DropThrottled)
	RecordFrameDropped(DropThrottled)
	RecordFrameDropped(DropBusy)

	assert.Equal(t, 2.0, testutil.ToFloat64(framesDropped.WithLabelValues(DropThrottled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(framesDropped.WithLabelValues(DropBusy)))
	assert.Equal(t, 2, testutil.CollectAndCount(framesDropped))
}

func TestRecordFrameCounters(t *testing.T) {
	before := testutil.ToFloat64(framesCaptured)
	sentBefore := testutil.ToFloat64(framesSent)

	RecordFrameCaptured()
	RecordFrameCaptured()
	RecordFrameSent()

	assert.Equal(t, before+2, testutil.ToFloat64(framesCaptured))
	assert.Equal(t, sentBefore+1, testutil.ToFloat64(framesSent))
}

func TestRecordFrameErrorAndDuration(t *testing.T) {
	frameErrors.Reset()

	RecordFrameError(StageEncode)
	RecordFrameError(StagePanic)
	RecordFrameDuration(0.004)

	assert.Equal(t, 1.0, testutil.ToFloat64(frameErrors.WithLabelValues(StageEncode)))
	assert.Equal(t, 1.0, testutil.ToFloat64(frameErrors.WithLabelValues(StagePanic)))
	assert.Equal(t, 1, testutil.CollectAndCount(frameDuration))
}

func TestInboundAndSessionMetrics(t *testing.T) {
	inboundMessages.Reset()
	sessionsCompleted.Reset()

	RecordInbound("result")
	RecordInbound("result")
	RecordInbound("reset_ack")
	RecordSessionCompleted("bp_result")
	SetConnectionState(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(inboundMessages.WithLabelValues("result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(inboundMessages.WithLabelValues("reset_ack")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionsCompleted.WithLabelValues("bp_result")))
	assert.Equal(t, 2.0, testutil.ToFloat64(connectionState))
}

func TestNewRegistryServesMetrics(t *testing.T) {
	RecordFrameSent()

	reg := NewRegistry()
	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, "ppgcam_frames_sent_total"))
	assert.True(t, strings.Contains(text, "go_goroutines"))
}
