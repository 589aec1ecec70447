package server

import (
	"context"
	"fmt"
	"time"

	"fitsedit/internal/document"
	"fitsedit/internal/editor"
	"fitsedit/internal/storage"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	MethodOpenCustomDocument      = "fits/openCustomDocument"
	MethodResolveCustomEditor     = "fits/resolveCustomEditor"
	MethodSaveCustomDocument      = "fits/saveCustomDocument"
	MethodSaveCustomDocumentAs    = "fits/saveCustomDocumentAs"
	MethodRevertCustomDocument    = "fits/revertCustomDocument"
	MethodBackupCustomDocument    = "fits/backupCustomDocument"
	MethodDeleteBackup            = "fits/deleteBackup"
	MethodUndo                    = "fits/undo"
	MethodRedo                    = "fits/redo"
	MethodDidChangeCustomDocument = "fits/didChangeCustomDocument"
)

// Host requests wait on panels at most this long on top of the bridge timeout.
const requestTimeout = 2 * time.Minute

type OpenCustomDocumentParams struct {
	URI      string `json:"uri"`
	BackupID string `json:"backupId,omitempty"`
}

type OpenCustomDocumentResult struct {
	URI      string `json:"uri"`
	Untitled bool   `json:"untitled"`
}

type DocumentParams struct {
	URI string `json:"uri"`
}

type ResolveCustomEditorResult struct {
	PanelID string `json:"panelId"`
	URL     string `json:"url"`
}

type SaveAsParams struct {
	URI         string `json:"uri"`
	Destination string `json:"destination"`
}

type BackupResult struct {
	ID string `json:"id"`
}

type DeleteBackupParams struct {
	ID string `json:"id"`
}

type DidChangeCustomDocumentParams struct {
	URI    string `json:"uri"`
	Label  string `json:"label"`
	Index  int    `json:"index"`
	EditID string `json:"editId"`
}

func (s *Server) openCustomDocument(
	ctx *glsp.Context,
	params *OpenCustomDocumentParams,
) (any, error) {
	r, err := s.running()
	if err != nil {
		return nil, err
	}

	uri := storage.Location(params.URI)
	if uri.Scheme() == storage.SchemeFile {
		path, err := uri.Path()
		if err != nil {
			return nil, err
		}
		if !r.cfg.Handles(path) {
			return nil, fmt.Errorf("not a FITS file: %s", path)
		}
	}

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	doc, err := r.provider.OpenCustomDocument(c, uri, storage.Location(params.BackupID))
	if err != nil {
		return nil, err
	}
	return OpenCustomDocumentResult{
		URI:      string(doc.URI()),
		Untitled: doc.URI().IsUntitled(),
	}, nil
}

func (s *Server) resolveCustomEditor(
	ctx *glsp.Context,
	params *DocumentParams,
) (any, error) {
	r, err := s.running()
	if err != nil {
		return nil, err
	}
	doc, err := r.provider.Document(storage.Location(params.URI))
	if err != nil {
		return nil, err
	}

	panel := r.web.NewPanel()
	if err := r.provider.ResolveCustomEditor(doc, panel); err != nil {
		panel.Dispose()
		return nil, err
	}

	url := r.web.PanelURL(panel)
	ctx.Notify(
		"window/showDocument",
		protocol.ShowDocumentParams{
			URI:      protocol.URI(url),
			External: &protocol.True,
		},
	)
	return ResolveCustomEditorResult{PanelID: panel.ID(), URL: url}, nil
}

// withDocument runs fn on the open document at uri under a bounded context.
func (s *Server) withDocument(uri string, fn func(context.Context, *editor.Provider, *document.Document) error) error {
	r, err := s.running()
	if err != nil {
		return err
	}
	doc, err := r.provider.Document(storage.Location(uri))
	if err != nil {
		return err
	}
	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return fn(c, r.provider, doc)
}

func (s *Server) saveCustomDocument(ctx *glsp.Context, params *DocumentParams) (any, error) {
	return nil, s.withDocument(params.URI, func(c context.Context, p *editor.Provider, doc *document.Document) error {
		return p.SaveCustomDocument(c, doc)
	})
}

func (s *Server) saveCustomDocumentAs(ctx *glsp.Context, params *SaveAsParams) (any, error) {
	if params.Destination == "" {
		return nil, fmt.Errorf("destination is required")
	}
	return nil, s.withDocument(params.URI, func(c context.Context, p *editor.Provider, doc *document.Document) error {
		return p.SaveCustomDocumentAs(c, doc, storage.Location(params.Destination))
	})
}

func (s *Server) revertCustomDocument(ctx *glsp.Context, params *DocumentParams) (any, error) {
	return nil, s.withDocument(params.URI, func(c context.Context, p *editor.Provider, doc *document.Document) error {
		return p.RevertCustomDocument(c, doc)
	})
}

func (s *Server) backupCustomDocument(ctx *glsp.Context, params *SaveAsParams) (any, error) {
	var result BackupResult
	err := s.withDocument(params.URI, func(c context.Context, p *editor.Provider, doc *document.Document) error {
		backup, err := p.BackupCustomDocument(c, doc, storage.Location(params.Destination))
		if err != nil {
			return err
		}
		result.ID = string(backup.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Server) deleteBackup(ctx *glsp.Context, params *DeleteBackupParams) (any, error) {
	r, err := s.running()
	if err != nil {
		return nil, err
	}
	loc := storage.Location(params.ID)
	if loc.Scheme() != storage.SchemeBackup {
		return nil, fmt.Errorf("not a backup: %s", params.ID)
	}

	c, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	document.NewBackup(loc, r.backups).Delete(c)
	return nil, nil
}

func (s *Server) undo(ctx *glsp.Context, params *DocumentParams) (any, error) {
	return nil, s.withDocument(params.URI, func(_ context.Context, _ *editor.Provider, doc *document.Document) error {
		return doc.Undo()
	})
}

func (s *Server) redo(ctx *glsp.Context, params *DocumentParams) (any, error) {
	return nil, s.withDocument(params.URI, func(_ context.Context, _ *editor.Provider, doc *document.Document) error {
		return doc.Redo()
	})
}
