package webview

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fitsedit.webview")

//go:embed static/*
var staticFiles embed.FS

// Server hosts panel pages and their sockets.
type Server struct {
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	http     *http.Server
	baseURL  string

	mu     sync.Mutex
	panels map[string]*SocketPanel
}

func NewServer() *Server {
	s := &Server{
		// Pages are served from our own listener on loopback.
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		mux:      http.NewServeMux(),
		panels:   make(map[string]*SocketPanel),
	}

	static, _ := fs.Sub(staticFiles, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	s.mux.HandleFunc("GET /panel/{id}", s.handlePage)
	s.mux.HandleFunc("GET /ws/{id}", s.handleWS)
	return s
}

// Handler exposes the routes, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on addr (":0" picks a free port) and serves in the
// background. It returns the base URL.
func (s *Server) Start(addr string) (string, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("could not start listener: %w", err)
	}

	s.SetBaseURL("http://" + l.Addr().String())
	s.http = &http.Server{Handler: s.mux}

	go func() {
		if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("panel server error: %s", err)
		}
	}()

	log.Infof("serving panels on %s", s.BaseURL())
	return s.BaseURL(), nil
}

// SetBaseURL overrides the URL used to build panel links, e.g. when the
// handler is mounted by someone else.
func (s *Server) SetBaseURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseURL = u
}

func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseURL
}

// NewPanel creates a panel that a page can connect to.
func (s *Server) NewPanel() *SocketPanel {
	p := newSocketPanel(s)
	s.mu.Lock()
	s.panels[p.id] = p
	s.mu.Unlock()
	return p
}

// PanelURL is where a browser shows p.
func (s *Server) PanelURL(p Panel) string {
	return s.BaseURL() + "/panel/" + p.ID()
}

func (s *Server) panel(id string) (*SocketPanel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.panels[id]
	return p, ok
}

func (s *Server) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.panels, id)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(p.HTML()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	p, ok := s.panel(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warningf("WS upgrade error: %s", err)
		return
	}
	p.attach(conn)
}

// Close disposes every panel and stops serving.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	panels := make([]*SocketPanel, 0, len(s.panels))
	for _, p := range s.panels {
		panels = append(panels, p)
	}
	s.mu.Unlock()

	for _, p := range panels {
		p.Dispose()
	}
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}
