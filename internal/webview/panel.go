package webview

import (
	"fmt"
	"sync"

	"fitsedit/internal/bridge"
	"fitsedit/internal/event"

	"github.com/gorilla/websocket"
	"github.com/segmentio/ksuid"
)

// ErrNotConnected is returned when posting to a panel whose page has not
// opened its socket yet.
var ErrNotConnected = fmt.Errorf("panel not connected")

// ErrDisposed is returned when posting to a closed panel.
var ErrDisposed = fmt.Errorf("panel disposed")

// Panel is an isolated UI surface that only talks through messages.
type Panel interface {
	bridge.Poster
	ID() string
	SetHTML(html string)
	OnDidReceiveMessage(fn func(bridge.Message)) func()
	OnDidDispose(fn func()) func()
	Dispose()
}

// SocketPanel is a Panel rendered in a browser page and connected over a
// WebSocket.
type SocketPanel struct {
	id     string
	server *Server

	mu       sync.Mutex
	html     string
	conn     *websocket.Conn
	disposed bool

	writeMu sync.Mutex

	onMessage   event.Emitter[bridge.Message]
	onDispose   event.Emitter[struct{}]
	disposeOnce sync.Once
}

func newSocketPanel(server *Server) *SocketPanel {
	return &SocketPanel{id: ksuid.New().String(), server: server}
}

func (p *SocketPanel) ID() string { return p.id }

func (p *SocketPanel) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

func (p *SocketPanel) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html
}

func (p *SocketPanel) OnDidReceiveMessage(fn func(bridge.Message)) func() {
	return p.onMessage.Subscribe(fn)
}

func (p *SocketPanel) OnDidDispose(fn func()) func() {
	return p.onDispose.Subscribe(func(struct{}) { fn() })
}

// Connected reports whether a page currently holds the socket.
func (p *SocketPanel) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

func (p *SocketPanel) PostMessage(msg bridge.Message) error {
	p.mu.Lock()
	conn, disposed := p.conn, p.disposed
	p.mu.Unlock()

	if disposed {
		return ErrDisposed
	}
	if conn == nil {
		return ErrNotConnected
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to post %s to panel %s: %w", msg.Type, p.id, err)
	}
	return nil
}

// attach binds conn to the panel and pumps incoming messages until the
// socket closes, then disposes the panel.
func (p *SocketPanel) attach(conn *websocket.Conn) {
	p.mu.Lock()
	if p.conn != nil || p.disposed {
		p.mu.Unlock()
		log.Warningf("rejecting second connection for panel %s", p.id)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "panel already connected"))
		conn.Close()
		return
	}
	p.conn = conn
	p.mu.Unlock()

	log.Debugf("panel %s connected", p.id)
	for {
		var msg bridge.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warningf("panel %s read error: %s", p.id, err)
			}
			break
		}
		p.onMessage.Fire(msg)
	}
	p.Dispose()
}

// Dispose closes the socket and raises the dispose event once.
func (p *SocketPanel) Dispose() {
	p.disposeOnce.Do(func() {
		p.mu.Lock()
		p.disposed = true
		conn := p.conn
		p.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		if p.server != nil {
			p.server.forget(p.id)
		}
		log.Debugf("panel %s disposed", p.id)
		p.onDispose.Fire(struct{}{})
		p.onMessage.Clear()
		p.onDispose.Clear()
	})
}
