package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"fitsedit/internal/config"
	"fitsedit/internal/editor"
	"fitsedit/internal/scheduler"
	"fitsedit/internal/storage"
	"fitsedit/internal/watch"
	"fitsedit/internal/webview"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"
)

const lsName = "fitsedit"

var log = commonlog.GetLogger("fitsedit.server")

// ErrNotInitialized is returned for custom methods called before initialize.
var ErrNotInitialized = fmt.Errorf("server not initialized")

type methodFunc func(ctx *glsp.Context) (r any, validMethod bool, validParams bool, err error)

// Server speaks the host protocol: the LSP lifecycle from protocol.Handler
// plus the fits/* custom editor methods.
type Server struct {
	handler *protocol.Handler
	methods map[string]methodFunc
	base    config.Config
	version string

	mu        sync.Mutex
	cfg       config.Config
	provider  *editor.Provider
	web       *webview.Server
	backups   *storage.SQLite
	watcher   *watch.Watcher
	scheduler *scheduler.Scheduler
	release   func()
}

// New creates the handler. base holds settings from the config file;
// initializationOptions are merged over it.
func New(base config.Config, version string) *Server {
	s := &Server{base: base, version: version}
	s.handler = &protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,
	}
	s.methods = map[string]methodFunc{
		MethodOpenCustomDocument:   method(s.openCustomDocument),
		MethodResolveCustomEditor:  method(s.resolveCustomEditor),
		MethodSaveCustomDocument:   method(s.saveCustomDocument),
		MethodSaveCustomDocumentAs: method(s.saveCustomDocumentAs),
		MethodRevertCustomDocument: method(s.revertCustomDocument),
		MethodBackupCustomDocument: method(s.backupCustomDocument),
		MethodDeleteBackup:         method(s.deleteBackup),
		MethodUndo:                 method(s.undo),
		MethodRedo:                 method(s.redo),
	}
	return s
}

// NewServer wraps a Server for stdio.
func NewServer(base config.Config, version string, debug bool) *server.Server {
	return server.NewServer(New(base, version), lsName, debug)
}

// Handle implements glsp.Handler.
func (s *Server) Handle(ctx *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	if fn, ok := s.methods[ctx.Method]; ok {
		return fn(ctx)
	}
	return s.handler.Handle(ctx)
}

func method[P any](fn func(ctx *glsp.Context, params *P) (any, error)) methodFunc {
	return func(ctx *glsp.Context) (any, bool, bool, error) {
		var params P
		if err := json.Unmarshal(ctx.Params, &params); err != nil {
			return nil, true, false, err
		}
		r, err := fn(ctx, &params)
		return r, true, true, err
	}
}

// components is a snapshot of the components start brought up.
type components struct {
	cfg      config.Config
	provider *editor.Provider
	web      *webview.Server
	backups  *storage.SQLite
}

func (s *Server) running() (components, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return components{}, ErrNotInitialized
	}
	return components{cfg: s.cfg, provider: s.provider, web: s.web, backups: s.backups}, nil
}
