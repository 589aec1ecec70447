package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"fitsedit/internal/bridge"
	"fitsedit/internal/document"
	"fitsedit/internal/event"
	"fitsedit/internal/registry"
	"fitsedit/internal/storage"
	"fitsedit/internal/webview"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fitsedit.editor")

var (
	// ErrNoPanel is returned when a document's bytes are needed but no
	// panel shows it.
	ErrNoPanel = fmt.Errorf("no panel is showing the document")

	// ErrUnknownDocument is returned for locations that are not open.
	ErrUnknownDocument = fmt.Errorf("document is not open")
)

// Watcher is notified which files back open documents.
type Watcher interface {
	Add(path string) error
	Remove(path string)
}

type Options struct {
	// RequestTimeout bounds requests to panels. Zero waits forever.
	RequestTimeout time.Duration
	// Editable is reported to panels of untitled documents.
	Editable bool
	// ViewerScript is the URL of the viewer library for panel pages.
	ViewerScript string
	// SocketURL tells a panel page where to connect. Pages are rendered
	// without a socket when nil.
	SocketURL func(webview.Panel) string
	// Watcher, when set, receives the paths of open file documents.
	Watcher Watcher
}

// DocumentChange is an edit on one of the provider's documents.
type DocumentChange struct {
	URI     storage.Location
	Label   string
	Command document.EditCommand
}

type tracked struct {
	doc     *document.Document
	path    string
	release []func()
}

// Provider owns the open documents, the panels showing them and the bridge
// used to talk to those panels.
type Provider struct {
	storage  storage.Storage
	opts     Options
	registry *registry.Registry
	bridge   *bridge.Bridge

	mu   sync.Mutex
	docs map[storage.Location]*tracked

	onDidChange event.Emitter[DocumentChange]
}

func New(store storage.Storage, opts Options) *Provider {
	return &Provider{
		storage:  store,
		opts:     opts,
		registry: registry.New(),
		bridge:   bridge.New(opts.RequestTimeout),
		docs:     make(map[storage.Location]*tracked),
	}
}

// OnDidChangeCustomDocument subscribes to edits on every document.
func (p *Provider) OnDidChangeCustomDocument(fn func(DocumentChange)) func() {
	return p.onDidChange.Subscribe(fn)
}

// Document returns the open document at uri.
func (p *Provider) Document(uri storage.Location) (*document.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.docs[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, uri)
	}
	return t.doc, nil
}

// OpenCustomDocument opens uri, seeding it from backup when given. An
// already open document is returned as is.
func (p *Provider) OpenCustomDocument(
	ctx context.Context,
	uri storage.Location,
	backup storage.Location,
) (*document.Document, error) {
	if doc, err := p.Document(uri); err == nil {
		return doc, nil
	}

	delegate := document.DelegateFunc(func(ctx context.Context) ([]byte, error) {
		return p.getFileData(ctx, uri)
	})
	doc, err := document.Create(ctx, p.storage, uri, backup, delegate)
	if err != nil {
		return nil, err
	}

	t := &tracked{doc: doc}
	t.release = append(t.release,
		doc.OnDidChange(func(ev document.ChangeEvent) {
			p.onDidChange.Fire(DocumentChange{URI: uri, Label: ev.Label, Command: ev.Command})
		}),
		doc.OnDidChangeContent(func(ev document.ContentEvent) {
			p.pushUpdate(uri, ev)
		}),
	)
	if p.opts.Watcher != nil && uri.Scheme() == storage.SchemeFile {
		if path, err := uri.Path(); err == nil {
			if err := p.opts.Watcher.Add(path); err != nil {
				log.Warningf("not watching %s: %s", path, err)
			} else {
				t.path = filepath.Clean(path)
			}
		}
	}

	p.mu.Lock()
	if existing, ok := p.docs[uri]; ok {
		p.mu.Unlock()
		p.untrack(t)
		return existing.doc, nil
	}
	p.docs[uri] = t
	p.mu.Unlock()

	log.Infof("opened custom document %s", uri)
	return doc, nil
}

// ResolveCustomEditor attaches panel to doc: the panel is registered, given
// its page and wired to the message handlers.
func (p *Provider) ResolveCustomEditor(doc *document.Document, panel webview.Panel) error {
	uri := doc.URI()

	page := webview.Page{
		Title:        filepath.Base(uri.Opaque()),
		ViewerScript: p.opts.ViewerScript,
	}
	if p.opts.SocketURL != nil {
		page.Socket = p.opts.SocketURL(panel)
	}
	html, err := webview.Render(page)
	if err != nil {
		return err
	}

	p.registry.Add(string(uri), panel)
	panel.SetHTML(html)
	panel.OnDidReceiveMessage(func(msg bridge.Message) {
		p.handleMessage(doc, panel, msg)
	})
	panel.OnDidDispose(func() {
		p.panelClosed(uri)
	})

	log.Debugf("panel %s resolved for %s", panel.ID(), uri)
	return nil
}

func (p *Provider) handleMessage(doc *document.Document, panel webview.Panel, msg bridge.Message) {
	switch msg.Type {
	case bridge.TypeReady:
		if err := p.sendInit(doc, panel); err != nil {
			log.Errorf("failed to initialize panel %s: %s", panel.ID(), err)
		}

	case bridge.TypeStroke:
		var edit document.Edit
		if err := json.Unmarshal(msg.Body, &edit); err != nil {
			log.Warningf("malformed stroke from panel %s: %s", panel.ID(), err)
			return
		}
		if edit.Label == "" {
			edit.Label = "Stroke"
		}
		if _, err := doc.MakeEdit(edit); err != nil {
			log.Warningf("dropping stroke for %s: %s", doc.URI(), err)
		}

	case bridge.TypeResponse:
		p.bridge.Resolve(msg)

	default:
		log.Debugf("ignoring %q message from panel %s", msg.Type, panel.ID())
	}
}

func (p *Provider) sendInit(doc *document.Document, panel webview.Panel) error {
	if doc.URI().IsUntitled() {
		return p.bridge.Notify(panel, bridge.TypeInit, bridge.InitBody{
			Untitled: true,
			Editable: p.opts.Editable,
		})
	}
	return p.bridge.Notify(panel, bridge.TypeInit, bridge.InitBody{
		Value: bridge.EncodeBytes(doc.Data()),
	})
}

func (p *Provider) pushUpdate(uri storage.Location, ev document.ContentEvent) {
	edits, err := json.Marshal(ev.Edits)
	if err != nil {
		log.Errorf("failed to encode edits for %s: %s", uri, err)
		return
	}
	body := bridge.UpdateBody{Edits: edits}
	if ev.Content != nil {
		value := bridge.EncodeBytes(ev.Content)
		body.Value = &value
	}

	for panel := range p.registry.Get(string(uri)) {
		if err := p.bridge.Notify(panel, bridge.TypeUpdate, body); err != nil {
			log.Warningf("failed to update panel %s: %s", panel.ID(), err)
		}
	}
}

// getFileData asks the first panel showing uri for its serialized payload.
func (p *Provider) getFileData(ctx context.Context, uri storage.Location) ([]byte, error) {
	panel, ok := p.registry.First(string(uri))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPanel, uri)
	}

	body, err := p.bridge.Request(ctx, panel, bridge.TypeGetFileData, nil)
	if err != nil {
		return nil, err
	}
	return bridge.DecodeBody(body)
}

func (p *Provider) panelClosed(uri storage.Location) {
	if p.registry.Count(string(uri)) > 0 {
		return
	}
	p.closeDocument(uri)
}

func (p *Provider) closeDocument(uri storage.Location) {
	p.mu.Lock()
	t, ok := p.docs[uri]
	delete(p.docs, uri)
	p.mu.Unlock()
	if !ok {
		return
	}
	p.untrack(t)
	log.Infof("closed custom document %s", uri)
}

func (p *Provider) untrack(t *tracked) {
	for _, release := range t.release {
		release()
	}
	if t.path != "" {
		p.opts.Watcher.Remove(t.path)
	}
	t.doc.Dispose()
}

func (p *Provider) SaveCustomDocument(ctx context.Context, doc *document.Document) error {
	return doc.Save(ctx)
}

func (p *Provider) SaveCustomDocumentAs(ctx context.Context, doc *document.Document, destination storage.Location) error {
	return doc.SaveAs(ctx, destination)
}

func (p *Provider) RevertCustomDocument(ctx context.Context, doc *document.Document) error {
	return doc.Revert(ctx)
}

// BackupCustomDocument writes a backup of doc. An empty destination gets a
// fresh backup location.
func (p *Provider) BackupCustomDocument(
	ctx context.Context,
	doc *document.Document,
	destination storage.Location,
) (*document.Backup, error) {
	if destination == "" {
		destination = storage.NewBackupLocation()
	}
	return doc.Backup(ctx, destination)
}

// FileChanged reverts clean documents backed by path after an external
// change. Documents with unsaved edits are left alone.
func (p *Provider) FileChanged(path string) {
	path = filepath.Clean(path)

	p.mu.Lock()
	var docs []*document.Document
	for _, t := range p.docs {
		if t.path == path {
			docs = append(docs, t.doc)
		}
	}
	p.mu.Unlock()

	for _, doc := range docs {
		if doc.IsDirty() {
			log.Infof("%s changed on disk but has unsaved edits", doc.URI())
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		current, err := p.storage.ReadFile(ctx, doc.URI())
		if err == nil && string(current) == string(doc.Data()) {
			cancel()
			continue
		}
		if err := doc.Revert(ctx); err != nil {
			log.Warningf("failed to reload %s: %s", doc.URI(), err)
		}
		cancel()
	}
}

// Dispose fails outstanding panel requests and closes every document.
func (p *Provider) Dispose() {
	p.bridge.Close()

	p.mu.Lock()
	uris := make([]storage.Location, 0, len(p.docs))
	for uri := range p.docs {
		uris = append(uris, uri)
	}
	p.mu.Unlock()

	for _, uri := range uris {
		p.closeDocument(uri)
	}
	p.registry.Close()
	p.onDidChange.Clear()
}
