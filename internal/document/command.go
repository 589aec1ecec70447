package document

// EditCommand is one undo frame. It records where in the log its edit sits,
// so both directions can be checked against the current log instead of
// relying on captured state.
type EditCommand struct {
	doc   *Document
	Index int
	Edit  Edit
}

// Undo removes the command's edit. It must be the most recent applied edit.
func (c EditCommand) Undo() error {
	c.doc.mu.Lock()
	return c.doc.undoLocked(c.Index, c.Edit)
}

// Redo re-applies the command's edit. It must be the next undone edit.
func (c EditCommand) Redo() error {
	c.doc.mu.Lock()
	return c.doc.redoLocked(c.Index, c.Edit)
}
