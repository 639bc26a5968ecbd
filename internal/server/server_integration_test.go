package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/present"
	"github.com/ayusman/janken/internal/store"
)

func TestAPI_HistoryWorkflow(t *testing.T) {
	tmpDir := t.TempDir()
	s, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	sess, err := s.Sessions().Start("templates")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for i, label := range []string{"rock", "paper", "paper"} {
		if err := s.Predictions().Create(&store.Prediction{
			SessionID: sess.ID, Seq: uint64(i + 1), State: "reported", Label: label, Confidence: 75,
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	srv := New(Config{Store: s})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := ts.Client()

	// 1. List history
	resp, err := client.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatalf("GET /api/history error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var listed struct {
		Predictions []struct {
			Label string `json:"label"`
		} `json:"predictions"`
		Counts []struct {
			Label string `json:"label"`
			Count int    `json:"count"`
		} `json:"counts"`
	}
	json.NewDecoder(resp.Body).Decode(&listed)
	resp.Body.Close()

	if len(listed.Predictions) != 3 {
		t.Fatalf("len(predictions) = %d, want 3", len(listed.Predictions))
	}
	if len(listed.Counts) == 0 || listed.Counts[0].Label != "paper" || listed.Counts[0].Count != 2 {
		t.Errorf("counts = %+v", listed.Counts)
	}

	// 2. End the session and read it back
	if err := s.Sessions().End(sess.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	resp, _ = client.Get(ts.URL + "/api/history/sessions/" + sess.ID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET session status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	resp.Body.Close()

	// 3. Unknown session
	resp, _ = client.Get(ts.URL + "/api/history/sessions/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown session status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	resp.Body.Close()
}

func TestAPI_HealthCheck(t *testing.T) {
	srv := New(Config{})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
	}
	json.NewDecoder(resp.Body).Decode(&health)

	if health.Status != "ok" {
		t.Errorf("status = %s, want ok", health.Status)
	}
}

func dialResults(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/results"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readResult(t *testing.T, conn *websocket.Conn) resultMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var raw map[string]interface{}
	if err := conn.ReadJSON(&raw); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	msg := resultMessage{Text: raw["text"].(string)}
	msg.Label, _ = raw["label"].(string)
	return msg
}

func TestAPI_ResultsWebSocket(t *testing.T) {
	hub := NewResultsHub()
	ts := httptest.NewServer(New(Config{Hub: hub}))
	defer ts.Close()

	t.Run("broadcasts updates", func(t *testing.T) {
		conn := dialResults(t, ts)
		deadline := time.Now().Add(2 * time.Second)
		for hub.Clients() == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		hub.Present(present.NewResult("rock", 91))

		msg := readResult(t, conn)
		if msg.Text != "Result: rock (91%)" || msg.Label != "rock" {
			t.Errorf("message = %+v", msg)
		}
	})

	t.Run("new client receives latest update", func(t *testing.T) {
		hub.Present(present.NewUnavailable("classifying", "model unavailable"))

		conn := dialResults(t, ts)
		msg := readResult(t, conn)
		if msg.Text != "Result: unavailable (classifying)" {
			t.Errorf("text = %q", msg.Text)
		}
	})

	t.Run("closed hub rejects clients", func(t *testing.T) {
		hub.Close()
		if hub.Clients() != 0 {
			t.Errorf("Clients() = %d after Close", hub.Clients())
		}
	})
}

func TestAPI_Stream(t *testing.T) {
	preview := capture.NewPreview()
	ts := httptest.NewServer(New(Config{Preview: preview}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	frame := []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}
	go func() {
		time.Sleep(50 * time.Millisecond)
		preview.Set(frame)
	}()

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Fatalf("Content-Type = %s", ct)
	}

	r := textproto.NewReader(bufio.NewReader(resp.Body))
	boundary, err := r.ReadLine()
	if err != nil || boundary != "--frame" {
		t.Fatalf("boundary = %q, err = %v", boundary, err)
	}
	header, err := r.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("ReadMIMEHeader() error = %v", err)
	}
	if header.Get("Content-Type") != "image/jpeg" || header.Get("Content-Length") != "6" {
		t.Errorf("part header = %v", header)
	}
}

func TestServer_RunShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(Config{Hub: NewResultsHub()}).Serve(ctx, ln)
	}()

	url := "http://" + ln.Addr().String() + "/api/health"
	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
