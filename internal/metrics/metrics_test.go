package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/go-mcp-device"
	"github.com/MegaGrindStone/go-mcp-device/internal/metrics"
)

var _ mcp.Metrics = (*metrics.Collector)(nil)

type lineTransport struct {
	mu      sync.Mutex
	input   []byte
	written []string
}

func (l *lineTransport) ReadAvailable() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	in := l.input
	l.input = nil
	return in, nil
}

func (l *lineTransport) Write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, string(p))
	return nil
}

func TestCollectorCountsServerTraffic(t *testing.T) {
	collector := metrics.NewCollector("mcp_device")
	transport := &lineTransport{}
	srv := mcp.NewServer(mcp.Info{Name: "board", Version: "1"}, transport,
		mcp.WithServerMetrics(collector),
		mcp.WithBufferSize(128),
		mcp.WithParseErrorPolicy(mcp.ReplyParseError),
	)
	require.NoError(t, srv.UpsertTool(mcp.Tool{
		Name: "fail",
		Handler: func(context.Context, mcp.Arguments) (mcp.Value, error) {
			return mcp.Value{}, io.ErrUnexpectedEOF
		},
	}))
	srv.Start()

	transport.input = []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"fail"}}` + "\n" +
		`not json` + "\n" +
		strings.Repeat("x", 200) + "\n")
	require.NoError(t, srv.PollOnce(context.Background()))

	assert.Equal(t, 3.0, gathered(t, collector, "mcp_device_frames_received_total"))
	assert.Equal(t, 1.0, gathered(t, collector, "mcp_device_frames_overflowed_total"))
	assert.Equal(t, 1.0, gathered(t, collector, `mcp_device_requests_total{method="ping",outcome="ok"}`))
	assert.Equal(t, 1.0, gathered(t, collector, `mcp_device_requests_total{method="tools/call",outcome="tool_error"}`))
	assert.Equal(t, 1.0, gathered(t, collector, `mcp_device_protocol_errors_total{code="-32700"}`))
	assert.Equal(t, 3.0, gathered(t, collector, `mcp_device_messages_sent_total{kind="response"}`))
	assert.Equal(t, 0.0, gathered(t, collector, "mcp_device_write_failures_total"))
}

func TestCollectorWriteFailed(t *testing.T) {
	collector := metrics.NewCollector("test")
	collector.WriteFailed()
	collector.WriteFailed()
	collector.FrameOverflow(10)
	collector.RequestHandled("ping", mcp.OutcomeOK, time.Millisecond)

	assert.Equal(t, 2.0, gathered(t, collector, "test_write_failures_total"))
	assert.Equal(t, 10.0, gathered(t, collector, "test_overflow_bytes_discarded_total"))
	assert.Equal(t, 1.0, gathered(t, collector, `test_request_duration_seconds_count{method="ping"}`))

	count, err := testutil.GatherAndCount(collector.Registry(), "test_requests_total", "test_write_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// gathered scrapes the collector and returns the value of one series.
func gathered(t *testing.T, c *metrics.Collector, series string) float64 {
	t.Helper()
	rec := httptest.NewRecorder()
	srv := metrics.NewServer("", c, nil, slog.Default())
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, line := range strings.Split(rec.Body.String(), "\n") {
		value, ok := strings.CutPrefix(line, series+" ")
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(value, 64)
		require.NoError(t, err)
		return f
	}
	return 0
}

func TestServerEndpoints(t *testing.T) {
	collector := metrics.NewCollector("test")
	collector.FrameReceived(12)

	ready := false
	srv := metrics.NewServer("127.0.0.1:0", collector, func() bool { return ready }, slog.Default())

	tests := []struct {
		name     string
		path     string
		ready    bool
		wantCode int
		wantBody string
	}{
		{name: "liveness", path: "/healthz", wantCode: http.StatusOK, wantBody: "ok"},
		{name: "not ready", path: "/readyz", wantCode: http.StatusServiceUnavailable, wantBody: "not ready"},
		{name: "ready", path: "/readyz", ready: true, wantCode: http.StatusOK, wantBody: "ready"},
		{name: "metrics", path: "/metrics", wantCode: http.StatusOK, wantBody: "test_frames_received_total 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ready = tt.ready
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestServerHandleMountsExtraRoutes(t *testing.T) {
	srv := metrics.NewServer("127.0.0.1:0", metrics.NewCollector("test"), nil, slog.Default())
	srv.Handle("/tap", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("tapped"))
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tap", nil))
	assert.Equal(t, "tapped", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerServeStopsOnCancel(t *testing.T) {
	srv := metrics.NewServer("127.0.0.1:0", metrics.NewCollector("test"), nil, slog.Default())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx, ln)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
