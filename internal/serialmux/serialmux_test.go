package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func newBlockingPort() *TestableSerialPort {
	p := NewTestableSerialPort()
	p.BlockReads = true
	return p
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(newBlockingPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	assert.NotEqual(t, id1, id2)

	mux.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribed channel is closed")

	mux.Unsubscribe("missing") // no panic

	mux.subscriberMu.Lock()
	assert.Len(t, mux.subscribers, 1)
	mux.subscriberMu.Unlock()
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := newBlockingPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("{\"beacons\":[]}\n\n  \n{\"magnetic_heading\":10}\n"))

	for _, ch := range []chan string{a, b} {
		for _, want := range []string{`{"beacons":[]}`, `{"magnetic_heading":10}`} {
			select {
			case got := <-ch:
				assert.Equal(t, want, got)
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
}

func TestSerialMux_MonitorReturnsReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("device unplugged")
	mux := NewSerialMux(port)

	err := mux.Monitor(context.Background())
	assert.EqualError(t, err, "device unplugged")
}

func TestSerialMux_MonitorEOF(t *testing.T) {
	port := NewTestableSerialPort()
	port.AddReadData([]byte("{\"beacons\":[]}\n"))
	mux := NewSerialMux(port)

	assert.NoError(t, mux.Monitor(context.Background()))
}

func TestSerialMux_SendCommandAppendsNewline(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("OJ"))
	require.NoError(t, mux.SendCommand("S1\n"))
	assert.Equal(t, "OJ\nS1\n", string(port.GetWrittenData()))

	port.WriteError = errors.New("io")
	assert.Error(t, mux.SendCommand("S0"))
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	mux.SetScanOptions(ScanOptions{
		Interval: 500 * time.Millisecond,
		Regions:  []string{"F7826DA6-4FA2-4E98-8024-BC5B71E0893E"},
	})

	require.NoError(t, mux.Initialize())
	lines := strings.Split(strings.TrimSpace(string(port.GetWrittenData())), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "C="))
	assert.Equal(t, []string{"OJ", "RX", "RI=500", "R+f7826da6-4fa2-4e98-8024-bc5b71e0893e", "oH", "S1"}, lines[1:])
}

func TestSerialMux_CloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Close())
	_, ok := <-ch
	assert.False(t, ok)
	assert.True(t, port.Closed)
}

func TestAttachAdminRoutes_ScannerCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name   string
		method string
		form   url.Values
		status int
	}{
		{"valid", http.MethodPost, url.Values{"command": {"S0"}}, http.StatusOK},
		{"empty", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"get", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.form != nil {
				body = strings.NewReader(tt.form.Encode())
			}
			req := localHostRequest(tt.method, "/debug/scanner-command", body)
			if tt.form != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, "S0\n", string(port.GetWrittenData()))
}

func TestAttachAdminRoutes_ScannerTail(t *testing.T) {
	mux := NewSerialMux(newBlockingPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	req := localHostRequest(http.MethodGet, "/debug/scanner-tail", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	served := make(chan struct{})
	go func() {
		httpMux.ServeHTTP(w, req)
		close(served)
	}()

	// Wait for the handler to subscribe, then publish one line.
	require.Eventually(t, func() bool {
		mux.subscriberMu.Lock()
		defer mux.subscriberMu.Unlock()
		return len(mux.subscribers) == 1
	}, time.Second, 5*time.Millisecond)
	mux.subscriberMu.Lock()
	for _, ch := range mux.subscribers {
		ch <- `{"status":"ok"}`
	}
	mux.subscriberMu.Unlock()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-served

	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `data: {"status":"ok"}`)
}

func TestClassifyPayload(t *testing.T) {
	assert.Equal(t, EventTypeRanging, ClassifyPayload(`{"beacons":[{"uuid":"x"}]}`))
	assert.Equal(t, EventTypeHeading, ClassifyPayload(`{"magnetic_heading":1,"true_heading":2}`))
	assert.Equal(t, EventTypeStatus, ClassifyPayload(`{"fw":"1.2"}`))
	assert.Equal(t, EventTypeUnknown, ClassifyPayload("OK"))
}

func TestPortOptions_Normalize(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)

	opts, err = PortOptions{Parity: "even", StopBits: 2}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "E", opts.Parity)

	_, err = PortOptions{DataBits: 9}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{StopBits: 3}.Normalize()
	assert.Error(t, err)
	_, err = PortOptions{Parity: "mark"}.Normalize()
	assert.Error(t, err)

	mode, err := PortOptions{Parity: "O", StopBits: 2}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, DefaultBaudRate, mode.BaudRate)
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	_, ch := d.Subscribe()
	require.NoError(t, d.Initialize())
	require.NoError(t, d.SendCommand("S1"))
	require.NoError(t, d.Close())
	_, ok := <-ch
	assert.False(t, ok)

	_, late := d.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)
}

func TestMockSerialMux_ReplaysLines(t *testing.T) {
	mux := NewMockSerialMux([]string{`{"beacons":[]}`}, 5*time.Millisecond)
	_, ch := mux.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	select {
	case line := <-ch:
		assert.Equal(t, `{"beacons":[]}`, line)
	case <-time.After(time.Second):
		t.Fatal("no line replayed")
	}
	require.NoError(t, mux.SendCommand("S1"))
	assert.Equal(t, "S1\n", mux.port.Written())
	cancel()
	mux.Close()
}

var _ SerialMuxInterface = (*DisabledSerialMux)(nil)
var _ SerialMuxInterface = (*SerialMux[*TestableSerialPort])(nil)
