package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/livevox/internal/health"
	"github.com/MrWong99/livevox/internal/live"
	"github.com/MrWong99/livevox/internal/observe"
	"github.com/MrWong99/livevox/internal/transcript"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// fakeController records calls and serves a settable snapshot.
type fakeController struct {
	mu            sync.Mutex
	snap          live.Snapshot
	connectErr    error
	connectCalls  int
	connectCtxErr error
	disconnects   int
}

func (f *fakeController) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	f.connectCtxErr = ctx.Err()
	if f.connectErr != nil {
		f.snap.State = live.StateError
		f.snap.Error = f.connectErr.Error()
		return f.connectErr
	}
	f.snap.State = live.StateConnected
	return nil
}

func (f *fakeController) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.snap = live.Snapshot{State: live.StateDisconnected}
	return nil
}

func (f *fakeController) Snapshot() live.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) counts() (connects, disconnects int, ctxErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls, f.disconnects, f.connectCtxErr
}

func (f *fakeController) set(s live.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = s
}

// wireSnapshot mirrors the JSON produced by the server.
type wireSnapshot struct {
	State       string             `json:"state"`
	Error       string             `json:"error"`
	Volume      float64            `json:"volume"`
	Transcripts []transcript.Entry `json:"transcripts"`
	Frequency   []int              `json:"frequency"`
}

func newTestServer(t *testing.T, ctrl Controller, opts ...Option) *httptest.Server {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	opts = append([]Option{WithMetrics(m)}, opts...)
	ts := httptest.NewServer(New(ctrl, opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func decode(t *testing.T, resp *http.Response) wireSnapshot {
	t.Helper()
	defer resp.Body.Close()
	var s wireSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return s
}

func TestConnect_ReturnsSnapshot(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if s := decode(t, resp); s.State != "CONNECTED" {
		t.Errorf("state = %q, want CONNECTED", s.State)
	}
	connects, _, ctxErr := ctrl.counts()
	if connects != 1 {
		t.Errorf("Connect calls = %d, want 1", connects)
	}
	if ctxErr != nil {
		t.Errorf("connect ctx already done: %v", ctxErr)
	}
}

func TestConnect_FailureIsBadGateway(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{connectErr: errors.New("live: missing API key")}
	ts := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/connect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	s := decode(t, resp)
	if s.State != "ERROR" || !strings.Contains(s.Error, "missing API key") {
		t.Errorf("snapshot = %+v", s)
	}
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{snap: live.Snapshot{State: live.StateConnected}}
	ts := newTestServer(t, ctrl)

	resp, err := http.Post(ts.URL+"/api/disconnect", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	if s := decode(t, resp); s.State != "DISCONNECTED" {
		t.Errorf("state = %q, want DISCONNECTED", s.State)
	}
	if _, n, _ := ctrl.counts(); n != 1 {
		t.Errorf("Disconnect calls = %d, want 1", n)
	}
}

func TestState_EncodesFrequencyAsNumbers(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{snap: live.Snapshot{
		State:     live.StateConnected,
		Volume:    0.25,
		Frequency: []byte{0, 128, 255},
		Transcripts: []transcript.Entry{
			{Text: "hi", Sender: transcript.SenderUser},
		},
	}}
	ts := newTestServer(t, ctrl)

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	s := decode(t, resp)
	if len(s.Frequency) != 3 || s.Frequency[1] != 128 || s.Frequency[2] != 255 {
		t.Errorf("frequency = %v, want [0 128 255]", s.Frequency)
	}
	if s.Volume != 0.25 {
		t.Errorf("volume = %v", s.Volume)
	}
	if len(s.Transcripts) != 1 || s.Transcripts[0].Sender != transcript.SenderUser {
		t.Errorf("transcripts = %+v", s.Transcripts)
	}
}

func TestRoutes_MethodsAndProbes(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	ts := newTestServer(t, ctrl,
		WithHealth(health.New()),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		})),
	)

	tests := []struct {
		method, path string
		want         int
	}{
		{"GET", "/api/connect", http.StatusMethodNotAllowed},
		{"GET", "/healthz", http.StatusOK},
		{"GET", "/readyz", http.StatusOK},
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		req, _ := http.NewRequest(tc.method, ts.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
	if n, _, _ := ctrl.counts(); n != 0 {
		t.Error("GET must not connect")
	}
}

func TestEvents_StreamsSnapshots(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{snap: live.Snapshot{State: live.StateConnecting}}
	ts := newTestServer(t, ctrl, WithEventInterval(10*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	var first wireSnapshot
	if err := wsjson.Read(ctx, conn, &first); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if first.State != "CONNECTING" {
		t.Errorf("first state = %q, want CONNECTING", first.State)
	}

	ctrl.set(live.Snapshot{State: live.StateConnected, Frequency: make([]byte, 128)})
	for {
		var s wireSnapshot
		if err := wsjson.Read(ctx, conn, &s); err != nil {
			t.Fatalf("Read: %v", err)
		}
		if s.State == "CONNECTED" {
			if len(s.Frequency) != 128 {
				t.Errorf("frequency bins = %d, want 128", len(s.Frequency))
			}
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&fakeController{}).Serve(ctx, ln, "", "") }()

	url := "http://" + ln.Addr().String() + "/api/state"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
