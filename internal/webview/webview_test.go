package webview_test

import (
	"errors"
	"fitsedit/internal/bridge"
	"fitsedit/internal/webview"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func setupServer(t *testing.T) *webview.Server {
	t.Helper()
	s := webview.NewServer()
	ts := httptest.NewServer(s.Handler())
	s.SetBaseURL(ts.URL)
	t.Cleanup(ts.Close)
	return s
}

func connect(t *testing.T, s *webview.Server, p *webview.SocketPanel) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.SocketURL(p), nil)
	if err != nil {
		t.Fatalf("Failed to dial panel socket: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !p.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("Panel never saw the connection")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func TestSocketPanel(t *testing.T) {
	t.Run("NotConnected", func(t *testing.T) {
		s := setupServer(t)
		p := s.NewPanel()
		err := p.PostMessage(bridge.Message{Type: bridge.TypeInit})
		if !errors.Is(err, webview.ErrNotConnected) {
			t.Errorf("Expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("HostToPanel", func(t *testing.T) {
		s := setupServer(t)
		p := s.NewPanel()
		conn := connect(t, s, p)
		defer conn.Close()

		body := []byte(`{"value":"AAE="}`)
		if err := p.PostMessage(bridge.Message{Type: bridge.TypeInit, Body: body}); err != nil {
			t.Fatalf("PostMessage failed: %v", err)
		}

		var got bridge.Message
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("ReadJSON failed: %v", err)
		}
		if got.Type != bridge.TypeInit || string(got.Body) != string(body) {
			t.Errorf("Unexpected message %+v", got)
		}
	})

	t.Run("PanelToHost", func(t *testing.T) {
		s := setupServer(t)
		p := s.NewPanel()
		received := make(chan bridge.Message, 1)
		p.OnDidReceiveMessage(func(msg bridge.Message) { received <- msg })

		conn := connect(t, s, p)
		defer conn.Close()
		if err := conn.WriteJSON(bridge.Message{Type: bridge.TypeReady}); err != nil {
			t.Fatalf("WriteJSON failed: %v", err)
		}

		select {
		case msg := <-received:
			if msg.Type != bridge.TypeReady {
				t.Errorf("Expected ready, got %s", msg.Type)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for message")
		}
	})

	t.Run("CloseDisposes", func(t *testing.T) {
		s := setupServer(t)
		p := s.NewPanel()
		disposed := make(chan struct{})
		p.OnDidDispose(func() { close(disposed) })

		conn := connect(t, s, p)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()

		select {
		case <-disposed:
		case <-time.After(2 * time.Second):
			t.Fatal("Panel was not disposed after socket closed")
		}
		if err := p.PostMessage(bridge.Message{Type: bridge.TypeInit}); !errors.Is(err, webview.ErrDisposed) {
			t.Errorf("Expected ErrDisposed, got %v", err)
		}

		resp, err := http.Get(s.PanelURL(p))
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Disposed panel page should be gone, got %d", resp.StatusCode)
		}
	})

	t.Run("SecondConnectionRejected", func(t *testing.T) {
		s := setupServer(t)
		p := s.NewPanel()
		first := connect(t, s, p)
		defer first.Close()

		second, _, err := websocket.DefaultDialer.Dial(s.SocketURL(p), nil)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		defer second.Close()
		second.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := second.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Errorf("Expected policy violation close, got %v", err)
		}
		if !p.Connected() {
			t.Error("First connection should stay attached")
		}
	})
}

func TestPage(t *testing.T) {
	s := setupServer(t)
	p := s.NewPanel()

	html, err := webview.Render(webview.Page{
		Title:        "m31.fits",
		ViewerScript: "https://example.org/viewer.js",
		Socket:       s.SocketURL(p),
		Nonce:        "abc123",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"nonce-abc123", `nonce="abc123"`, "m31.fits", "/ws/" + p.ID(), "viewer.js"} {
		if !strings.Contains(html, want) {
			t.Errorf("Rendered page missing %q", want)
		}
	}
	p.SetHTML(html)

	resp, err := http.Get(s.PanelURL(p))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != html {
		t.Error("Served page differs from rendered page")
	}

	resp, err = http.Get(s.BaseURL() + "/static/panel.js")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	script, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected panel script, got %d", resp.StatusCode)
	}
	// The viewer may hand back an ArrayBuffer, which has no indexable bytes.
	if !strings.Contains(string(script), "encode(new Uint8Array(serialize()") {
		t.Error("Panel script must encode the saved payload as a byte view")
	}

	resp, err = http.Get(s.BaseURL() + "/panel/unknown")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown panel, got %d", resp.StatusCode)
	}
}

func TestNonce(t *testing.T) {
	a, err := webview.Nonce()
	if err != nil {
		t.Fatalf("Nonce failed: %v", err)
	}
	b, _ := webview.Nonce()
	if a == b || len(a) < 32 {
		t.Errorf("Expected distinct long nonces, got %q and %q", a, b)
	}
}
