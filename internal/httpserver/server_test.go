package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pitched26/pitched/internal/coach"
	"github.com/pitched26/pitched/internal/config"
	"github.com/pitched26/pitched/internal/rtc"
)

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, audio []byte, prior string) (*coach.AnalysisResult, error) {
	return &coach.AnalysisResult{Transcript: "stub words"}, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Config{
		CyclePeriod: time.Hour, // keep the real cycle out of the way
		MinSegment:  time.Millisecond,
		MaxInflight: 3,
		PaceTick:    10 * time.Millisecond,
	}
	srv := New(cfg, stubAnalyzer{})
	srv.offer = func(id string, offer rtc.SessionDescription, sink rtc.AudioSink, onClosed func()) (rtc.SessionDescription, error) {
		return rtc.SessionDescription{Type: "answer", SDP: "v=0 fake"}, nil
	}
	return srv
}

func createTestSession(t *testing.T, srv *Server) string {
	t.Helper()
	body := `{"type":"offer","sdp":"v=0 client"}`
	r := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("create session: expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	var resp createSessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" || resp.Answer.Type != "answer" {
		t.Fatalf("unexpected response %+v", resp)
	}
	return resp.ID
}

func TestServer_Healthz(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestServer_CreateSessionAndState(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)
	defer func() {
		sess, _ := srv.lookup(id)
		sess.Stop()
	}()

	r := httptest.NewRequest(http.MethodGet, "/session/"+id+"/state", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d", w.Code)
	}
	var snap coach.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.CycleCount != 0 || snap.IsAnalyzing {
		t.Fatalf("fresh session should be idle: %+v", snap)
	}
}

func TestServer_StateUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/session/nope/state", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestServer_CreateSessionBadJSON(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestServer_OfferFailureStopsSession(t *testing.T) {
	srv := newTestServer(t)
	srv.offer = func(id string, offer rtc.SessionDescription, sink rtc.AudioSink, onClosed func()) (rtc.SessionDescription, error) {
		return rtc.SessionDescription{}, context.DeadlineExceeded
	}
	body := `{"type":"offer","sdp":"v=0 client"}`
	r := httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	srv.mu.Lock()
	n := len(srv.sessions)
	srv.mu.Unlock()
	if n != 0 {
		t.Fatalf("failed negotiation left %d sessions registered", n)
	}
}

func TestServer_StopAndDelete(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)

	r := httptest.NewRequest(http.MethodPost, "/session/"+id+"/stop", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodDelete, "/session/"+id, nil)
	w = httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "/session/"+id+"/state", nil)
	w = httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("state after delete: expected 404, got %d", w.Code)
	}
}

func TestServer_LiveFeedPushesSnapshots(t *testing.T) {
	srv := newTestServer(t)
	id := createTestSession(t, srv)
	defer func() {
		sess, _ := srv.lookup(id)
		sess.Stop()
	}()

	ts := httptest.NewServer(srv.Echo)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/session/" + id + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	for i := 0; i < 3; i++ {
		var snap coach.Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("read snapshot %d: %v", i, err)
		}
		if snap.PaceScore < -1 || snap.PaceScore > 1 {
			t.Fatalf("pace score out of bounds: %v", snap.PaceScore)
		}
	}
}

func TestServer_LiveFeedClosesWhenClientLeaves(t *testing.T) {
	srv := newTestServer(t)
	// A tick this slow means the handler can only notice the departed
	// client through its read side, never through a failed write.
	srv.cfg.PaceTick = time.Hour
	id := createTestSession(t, srv)
	defer func() {
		sess, _ := srv.lookup(id)
		sess.Stop()
	}()

	ts := httptest.NewServer(srv.Echo)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/session/" + id + "/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		t.Fatalf("send close: %v", err)
	}

	// The handler should tear down the connection promptly; the read
	// errors once it does instead of waiting out the deadline.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection teardown after close frame")
	} else if e, ok := err.(interface{ Timeout() bool }); ok && e.Timeout() {
		t.Fatalf("handler never noticed the departed client: %v", err)
	}
}
