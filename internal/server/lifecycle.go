package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"fitsedit/internal/config"
	"fitsedit/internal/editor"
	"fitsedit/internal/scheduler"
	"fitsedit/internal/storage"
	"fitsedit/internal/watch"
	"fitsedit/internal/webview"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const pruneInterval = time.Hour

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	cfg, err := config.Merge(s.base, params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	log.Infof("config: %+v", cfg)

	if err := s.start(cfg, context.Notify); err != nil {
		return nil, err
	}

	capabilities := s.handler.CreateServerCapabilities()
	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lsName,
			Version: &s.version,
		},
	}, nil
}

// start brings up storage, the panel server, the watcher and the provider.
// notify carries change events back to the host.
func (s *Server) start(cfg config.Config, notify glsp.NotifyFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider != nil {
		return fmt.Errorf("server already initialized")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.BackupDB), 0700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	backups, err := storage.NewSQLite(cfg.BackupDB)
	if err != nil {
		return err
	}

	mux := storage.NewMux()
	mux.Handle(storage.SchemeFile, storage.Local{})
	mux.Handle(storage.SchemeBackup, backups)

	web := webview.NewServer()
	if _, err := web.Start(cfg.PanelAddr); err != nil {
		backups.Close()
		return err
	}

	opts := editor.Options{
		RequestTimeout: cfg.RequestTimeout(),
		Editable:       cfg.Editable,
		ViewerScript:   cfg.ViewerScript,
		SocketURL:      web.SocketURL,
	}

	// The watcher reports into the provider, which is created after it.
	var target atomic.Pointer[editor.Provider]
	var watcher *watch.Watcher
	if cfg.WatchFiles {
		watcher, err = watch.New(func(path string) {
			if p := target.Load(); p != nil {
				p.FileChanged(path)
			}
		})
		if err != nil {
			log.Warningf("file watching disabled: %s", err)
		} else {
			opts.Watcher = watcher
		}
	}
	provider := editor.New(mux, opts)
	target.Store(provider)

	release := provider.OnDidChangeCustomDocument(func(c editor.DocumentChange) {
		if notify == nil {
			return
		}
		notify(MethodDidChangeCustomDocument, DidChangeCustomDocumentParams{
			URI:    string(c.URI),
			Label:  c.Label,
			Index:  c.Command.Index,
			EditID: c.Command.Edit.ID,
		})
	})

	sched := scheduler.NewScheduler(8)
	sched.Run()
	if maxAge := cfg.BackupMaxAge(); maxAge > 0 {
		sched.SchedulePeriodic(pruneInterval, scheduler.Task{
			Name: "prune backups",
			Execute: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				n, err := backups.Prune(ctx, time.Now().Add(-maxAge))
				if err != nil {
					return err
				}
				if n > 0 {
					log.Infof("pruned %d stale backups", n)
				}
				return nil
			},
		})
	}

	s.cfg = cfg
	s.provider = provider
	s.web = web
	s.backups = backups
	s.watcher = watcher
	s.scheduler = sched
	s.release = release
	return nil
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	log.Info("shutting down")
	protocol.SetTraceValue(protocol.TraceValueOff)
	return s.Close()
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// Close tears down everything start brought up. It is safe to call twice.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provider == nil {
		return nil
	}

	s.scheduler.Stop()
	s.release()
	s.provider.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.web.Close(ctx)

	if s.watcher != nil {
		if werr := s.watcher.Close(); werr != nil {
			log.Warningf("failed to close watcher: %s", werr)
		}
	}
	if berr := s.backups.Close(); berr != nil && err == nil {
		err = berr
	}

	s.provider = nil
	s.web = nil
	s.backups = nil
	s.watcher = nil
	s.scheduler = nil
	return err
}
