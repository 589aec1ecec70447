package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"fitsedit/internal/event"
	"fitsedit/internal/storage"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fitsedit.document")

var (
	// ErrNotAtTop is returned when a command is undone while newer edits are applied.
	ErrNotAtTop = fmt.Errorf("edit is not the most recent applied edit")

	// ErrHistoryDiverged is returned when a command is redone after its slot
	// in the log was overwritten by a newer edit.
	ErrHistoryDiverged = fmt.Errorf("edit history diverged")

	// ErrNothingToUndo is returned by Undo on an empty applied log.
	ErrNothingToUndo = fmt.Errorf("nothing to undo")

	// ErrNothingToRedo is returned by Redo when no undone edit remains.
	ErrNothingToRedo = fmt.Errorf("nothing to redo")

	// ErrDisposed is returned by operations on a disposed document.
	ErrDisposed = fmt.Errorf("document is disposed")

	// ErrUntitled is returned by Save on a document that has no location
	// yet. Untitled documents are saved with SaveAs.
	ErrUntitled = fmt.Errorf("untitled document has no location to save to")
)

// Edit is one user-applied mutation. The payload is opaque to the host.
type Edit struct {
	ID      string          `json:"id"`
	Label   string          `json:"label,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Delegate supplies the current serialized payload, usually by asking a
// live panel for it.
type Delegate interface {
	FileData(ctx context.Context) ([]byte, error)
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func(ctx context.Context) ([]byte, error)

func (f DelegateFunc) FileData(ctx context.Context) ([]byte, error) { return f(ctx) }

// ChangeEvent is raised once per MakeEdit. Command reverses or replays it.
type ChangeEvent struct {
	Label   string
	Command EditCommand
}

// ContentEvent is raised when the applied edits change without a new edit:
// undo, redo and revert. Content is nil unless the bytes were reloaded.
type ContentEvent struct {
	Content []byte
	Edits   []Edit
}

// Document is one open file: its bytes plus the edit log. The log doubles as
// the undo stack. Entries past cursor are undone edits kept for redo.
type Document struct {
	uri      storage.Location
	storage  storage.Storage
	delegate Delegate

	mu         sync.Mutex
	data       []byte
	edits      []Edit
	cursor     int
	savedEdits []Edit
	disposed   bool

	disposeOnce sync.Once

	onDidChange        event.Emitter[ChangeEvent]
	onDidChangeContent event.Emitter[ContentEvent]
	onDidDispose       event.Emitter[struct{}]
}

// Create opens the document at uri. When backup is set, the initial bytes
// come from there instead, for restoring unsaved work.
func Create(
	ctx context.Context,
	store storage.Storage,
	uri storage.Location,
	backup storage.Location,
	delegate Delegate,
) (*Document, error) {
	from := uri
	if backup != "" {
		from = backup
	}

	data, err := readFile(ctx, store, from)
	if err != nil {
		return nil, err
	}

	log.Infof("opened %s (%s)", uri, humanize.Bytes(uint64(len(data))))
	return &Document{
		uri:      uri,
		storage:  store,
		delegate: delegate,
		data:     data,
	}, nil
}

func readFile(ctx context.Context, store storage.Storage, loc storage.Location) ([]byte, error) {
	if loc.IsUntitled() {
		return []byte{}, nil
	}
	data, err := store.ReadFile(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", loc, err)
	}
	return data, nil
}

func (d *Document) URI() storage.Location { return d.uri }

// Data returns a copy of the last loaded or saved bytes.
func (d *Document) Data() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte{}, d.data...)
}

// Edits returns the applied edits, oldest first.
func (d *Document) Edits() []Edit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.appliedLocked()
}

// SavedEdits returns the applied edits as of the last save.
func (d *Document) SavedEdits() []Edit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Edit{}, d.savedEdits...)
}

func (d *Document) appliedLocked() []Edit {
	return append([]Edit{}, d.edits[:d.cursor]...)
}

// IsDirty reports whether the applied edits differ from the saved ones.
func (d *Document) IsDirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.cursor != len(d.savedEdits) {
		return true
	}
	for i, e := range d.savedEdits {
		if d.edits[i].ID != e.ID {
			return true
		}
	}
	return false
}

// OnDidChange subscribes to new edits.
func (d *Document) OnDidChange(fn func(ChangeEvent)) func() {
	return d.onDidChange.Subscribe(fn)
}

// OnDidChangeContent subscribes to undo, redo and revert.
func (d *Document) OnDidChangeContent(fn func(ContentEvent)) func() {
	return d.onDidChangeContent.Subscribe(fn)
}

// OnDidDispose subscribes to disposal.
func (d *Document) OnDidDispose(fn func()) func() {
	return d.onDidDispose.Subscribe(func(struct{}) { fn() })
}

// MakeEdit appends edit to the log, discarding any undone edits, and raises
// a ChangeEvent. Each call is one undo frame.
func (d *Document) MakeEdit(edit Edit) (EditCommand, error) {
	if edit.ID == "" {
		edit.ID = ksuid.New().String()
	}

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return EditCommand{}, ErrDisposed
	}
	d.edits = append(d.edits[:d.cursor], edit)
	d.cursor++
	cmd := EditCommand{doc: d, Index: d.cursor - 1, Edit: edit}
	d.mu.Unlock()

	d.onDidChange.Fire(ChangeEvent{Label: edit.Label, Command: cmd})
	return cmd, nil
}

// Undo reverts the most recent applied edit.
func (d *Document) Undo() error {
	d.mu.Lock()
	if d.cursor == 0 {
		d.mu.Unlock()
		return ErrNothingToUndo
	}
	return d.undoLocked(d.cursor-1, d.edits[d.cursor-1])
}

// Redo re-applies the most recently undone edit.
func (d *Document) Redo() error {
	d.mu.Lock()
	if d.cursor == len(d.edits) {
		d.mu.Unlock()
		return ErrNothingToRedo
	}
	return d.redoLocked(d.cursor, d.edits[d.cursor])
}

// undoLocked expects d.mu held and releases it.
func (d *Document) undoLocked(index int, edit Edit) error {
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	if index != d.cursor-1 {
		d.mu.Unlock()
		return fmt.Errorf("%w: index %d, applied %d", ErrNotAtTop, index, d.cursor)
	}
	if d.edits[index].ID != edit.ID {
		d.mu.Unlock()
		return fmt.Errorf("%w: cannot undo %s at %d", ErrHistoryDiverged, edit.ID, index)
	}
	d.cursor--
	ev := ContentEvent{Edits: d.appliedLocked()}
	d.mu.Unlock()

	d.onDidChangeContent.Fire(ev)
	return nil
}

// redoLocked expects d.mu held and releases it.
func (d *Document) redoLocked(index int, edit Edit) error {
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	if index != d.cursor || index >= len(d.edits) || d.edits[index].ID != edit.ID {
		d.mu.Unlock()
		return fmt.Errorf("%w: cannot redo %s at %d", ErrHistoryDiverged, edit.ID, index)
	}
	d.cursor++
	ev := ContentEvent{Edits: d.appliedLocked()}
	d.mu.Unlock()

	d.onDidChangeContent.Fire(ev)
	return nil
}

// Save writes the current payload to the document's own location and marks
// the applied edits as saved.
func (d *Document) Save(ctx context.Context) error {
	if d.uri.IsUntitled() {
		return ErrUntitled
	}

	d.mu.Lock()
	applied := d.appliedLocked()
	d.mu.Unlock()

	data, err := d.saveAs(ctx, d.uri)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.savedEdits = applied
	d.data = data
	d.mu.Unlock()
	return nil
}

// SaveAs writes the current payload to target. Nothing is written when ctx
// is cancelled before the payload is available.
func (d *Document) SaveAs(ctx context.Context, target storage.Location) error {
	_, err := d.saveAs(ctx, target)
	return err
}

func (d *Document) saveAs(ctx context.Context, target storage.Location) ([]byte, error) {
	data, err := d.delegate.FileData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get file data: %w", err)
	}
	if err := ctx.Err(); err != nil {
		log.Infof("save of %s cancelled", d.uri)
		return nil, err
	}
	if err := d.storage.WriteFile(ctx, target, data); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", target, err)
	}
	log.Infof("saved %s to %s (%s)", d.uri, target, humanize.Bytes(uint64(len(data))))
	return data, nil
}

// Revert reloads the bytes from disk and resets the log to the saved edits.
func (d *Document) Revert(ctx context.Context) error {
	data, err := readFile(ctx, d.storage, d.uri)
	if err != nil {
		return err
	}

	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	d.data = data
	d.edits = append([]Edit{}, d.savedEdits...)
	d.cursor = len(d.edits)
	ev := ContentEvent{
		Content: append([]byte{}, data...),
		Edits:   d.appliedLocked(),
	}
	d.mu.Unlock()

	d.onDidChangeContent.Fire(ev)
	return nil
}

// Backup is a full-content copy of the document for hot-exit recovery.
type Backup struct {
	ID      storage.Location
	storage storage.Storage
}

// NewBackup refers to an existing backup at id, e.g. one restored after a
// restart.
func NewBackup(id storage.Location, store storage.Storage) *Backup {
	return &Backup{ID: id, storage: store}
}

// Delete removes the backup. Failures are logged and otherwise ignored.
func (b *Backup) Delete(ctx context.Context) {
	if err := b.storage.Delete(ctx, b.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warningf("failed to delete backup %s: %s", b.ID, err)
	}
}

// Backup writes the current payload to destination.
func (d *Document) Backup(ctx context.Context, destination storage.Location) (*Backup, error) {
	if err := d.SaveAs(ctx, destination); err != nil {
		return nil, err
	}
	return NewBackup(destination, d.storage), nil
}

// Dispose raises the dispose event. Only the first call has any effect.
func (d *Document) Dispose() {
	d.disposeOnce.Do(func() {
		d.mu.Lock()
		d.disposed = true
		d.mu.Unlock()

		log.Debugf("disposed %s", d.uri)
		d.onDidDispose.Fire(struct{}{})
		d.onDidChange.Clear()
		d.onDidChangeContent.Clear()
		d.onDidDispose.Clear()
	})
}
