package server_test

import (
	"encoding/json"
	"errors"
	"fitsedit/internal/bridge"
	"fitsedit/internal/config"
	"fitsedit/internal/server"
	"fitsedit/internal/storage"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

type notification struct {
	method string
	params any
}

type host struct {
	t       *testing.T
	s       *server.Server
	notices chan notification
}

func newHost(t *testing.T) *host {
	t.Helper()
	base := config.Default()
	base.PanelAddr = "127.0.0.1:0"
	base.BackupDB = filepath.Join(t.TempDir(), "state", "backups.db")
	base.WatchFiles = false

	h := &host{t: t, s: server.New(base, "test"), notices: make(chan notification, 32)}
	t.Cleanup(func() { h.s.Close() })
	return h
}

func (h *host) call(method string, params any) (any, error) {
	h.t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		h.t.Fatal(err)
	}
	ctx := &glsp.Context{
		Method: method,
		Params: raw,
		Notify: func(method string, params any) {
			h.notices <- notification{method: method, params: params}
		},
	}
	r, validMethod, validParams, err := h.s.Handle(ctx)
	if !validMethod || !validParams {
		h.t.Fatalf("%s rejected: method %v params %v", method, validMethod, validParams)
	}
	return r, err
}

func (h *host) expect(method string) notification {
	h.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n := <-h.notices:
			if n.method == method {
				return n
			}
		case <-timeout:
			h.t.Fatalf("No %s notification", method)
			return notification{}
		}
	}
}

func (h *host) initialize(options map[string]any) {
	h.t.Helper()
	if _, err := h.call("initialize", protocol.InitializeParams{InitializationOptions: options}); err != nil {
		h.t.Fatalf("initialize failed: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) bridge.Message {
	t.Helper()
	var msg bridge.Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	return msg
}

func TestNotInitialized(t *testing.T) {
	h := newHost(t)
	_, err := h.call(server.MethodOpenCustomDocument, server.OpenCustomDocumentParams{URI: "untitled:Untitled-1"})
	if !errors.Is(err, server.ErrNotInitialized) {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
}

func TestRejectsOtherFiles(t *testing.T) {
	h := newHost(t)
	h.initialize(nil)

	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("hi"), 0644)
	_, err := h.call(server.MethodOpenCustomDocument, server.OpenCustomDocumentParams{URI: string(storage.FileLocation(path))})
	if err == nil {
		t.Error("Expected error for a non-FITS file")
	}
}

func TestEditorSession(t *testing.T) {
	h := newHost(t)
	h.initialize(map[string]any{"editable": false})

	dir := t.TempDir()
	path := filepath.Join(dir, "m31.fits")
	original := []byte{0x00, 0xff, 0x10, 0x80, 0x7f}
	os.WriteFile(path, original, 0644)
	uri := string(storage.FileLocation(path))

	r, err := h.call(server.MethodOpenCustomDocument, server.OpenCustomDocumentParams{URI: uri})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if opened := r.(server.OpenCustomDocumentResult); opened.Untitled || opened.URI != uri {
		t.Errorf("Unexpected open result %+v", opened)
	}

	r, err = h.call(server.MethodResolveCustomEditor, server.DocumentParams{URI: uri})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	resolved := r.(server.ResolveCustomEditorResult)
	show := h.expect("window/showDocument").params.(protocol.ShowDocumentParams)
	if string(show.URI) != resolved.URL {
		t.Errorf("showDocument URI %s, want %s", show.URI, resolved.URL)
	}

	socket := strings.Replace(resolved.URL, "http://", "ws://", 1)
	socket = strings.Replace(socket, "/panel/", "/ws/", 1)
	conn, _, err := websocket.DefaultDialer.Dial(socket, nil)
	if err != nil {
		t.Fatalf("Failed to dial panel: %v", err)
	}
	defer conn.Close()

	t.Run("Init", func(t *testing.T) {
		conn.WriteJSON(bridge.Message{Type: bridge.TypeReady})
		msg := read(t, conn)
		if msg.Type != bridge.TypeInit {
			t.Fatalf("Expected init, got %s", msg.Type)
		}
		var body bridge.InitBody
		json.Unmarshal(msg.Body, &body)
		data, err := bridge.DecodeBytes(body.Value)
		if err != nil || string(data) != string(original) {
			t.Errorf("init carried %v, want %v", data, original)
		}
	})

	var editID string
	t.Run("Stroke", func(t *testing.T) {
		conn.WriteJSON(bridge.Message{Type: bridge.TypeStroke, Body: json.RawMessage(`{"label":"Draw"}`)})
		n := h.expect(server.MethodDidChangeCustomDocument)
		change := n.params.(server.DidChangeCustomDocumentParams)
		if change.URI != uri || change.Label != "Draw" || change.Index != 0 || change.EditID == "" {
			t.Errorf("Unexpected change %+v", change)
		}
		editID = change.EditID
	})

	t.Run("SaveAs", func(t *testing.T) {
		target := filepath.Join(dir, "copy.fits")
		edited := []byte{0x01, 0x02, 0x00, 0xfe}

		done := make(chan error, 1)
		go func() {
			_, err := h.call(server.MethodSaveCustomDocumentAs, server.SaveAsParams{
				URI:         uri,
				Destination: string(storage.FileLocation(target)),
			})
			done <- err
		}()

		req := read(t, conn)
		if req.Type != bridge.TypeGetFileData || req.RequestID == nil {
			t.Fatalf("Expected getFileData request, got %+v", req)
		}
		value, _ := json.Marshal(bridge.EncodeBytes(edited))
		conn.WriteJSON(bridge.Message{Type: bridge.TypeResponse, RequestID: req.RequestID, Body: value})

		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("saveAs failed: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("saveAs never returned")
		}
		got, _ := os.ReadFile(target)
		if string(got) != string(edited) {
			t.Errorf("Saved %v, want %v", got, edited)
		}
	})

	t.Run("UndoRedo", func(t *testing.T) {
		if _, err := h.call(server.MethodUndo, server.DocumentParams{URI: uri}); err != nil {
			t.Fatalf("undo failed: %v", err)
		}
		msg := read(t, conn)
		var body struct {
			Edits []json.RawMessage `json:"edits"`
		}
		json.Unmarshal(msg.Body, &body)
		if msg.Type != bridge.TypeUpdate || len(body.Edits) != 0 {
			t.Errorf("Expected empty update after undo, got %s %s", msg.Type, msg.Body)
		}

		if _, err := h.call(server.MethodUndo, server.DocumentParams{URI: uri}); err == nil {
			t.Error("Expected error undoing an empty log")
		}

		if _, err := h.call(server.MethodRedo, server.DocumentParams{URI: uri}); err != nil {
			t.Fatalf("redo failed: %v", err)
		}
		msg = read(t, conn)
		json.Unmarshal(msg.Body, &body)
		if len(body.Edits) != 1 || !strings.Contains(string(body.Edits[0]), editID) {
			t.Errorf("Expected the edit back after redo, got %s", msg.Body)
		}
	})

	t.Run("Backup", func(t *testing.T) {
		done := make(chan any, 1)
		go func() {
			r, err := h.call(server.MethodBackupCustomDocument, server.SaveAsParams{URI: uri})
			if err != nil {
				done <- err
				return
			}
			done <- r
		}()

		req := read(t, conn)
		value, _ := json.Marshal(bridge.EncodeBytes([]byte("backup")))
		conn.WriteJSON(bridge.Message{Type: bridge.TypeResponse, RequestID: req.RequestID, Body: value})

		var id string
		select {
		case v := <-done:
			result, ok := v.(server.BackupResult)
			if !ok {
				t.Fatalf("backup failed: %v", v)
			}
			id = result.ID
		case <-time.After(5 * time.Second):
			t.Fatal("backup never returned")
		}
		if !strings.HasPrefix(id, storage.SchemeBackup+":") {
			t.Errorf("Unexpected backup id %q", id)
		}

		if _, err := h.call(server.MethodDeleteBackup, server.DeleteBackupParams{ID: id}); err != nil {
			t.Errorf("deleteBackup failed: %v", err)
		}
		if _, err := h.call(server.MethodDeleteBackup, server.DeleteBackupParams{ID: uri}); err == nil {
			t.Error("Expected error deleting a non-backup location")
		}
	})

	t.Run("UnknownDocument", func(t *testing.T) {
		_, err := h.call(server.MethodSaveCustomDocument, server.DocumentParams{URI: "file:///nowhere.fits"})
		if err == nil {
			t.Error("Expected error for a document that is not open")
		}
	})
}
