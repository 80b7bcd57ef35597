package manifest

import (
	"log/slog"
)

const (
	listFilename  = "segments.yaml"
	indexFilename = "segments.index.yaml"

	// how many tail lines to inspect when recovering state
	tailRecoverLines = 20
)

// IndexedListWriter appends items to a list file and maintains an
// optional index file of (key, canonical_key, position) entries, one
// per key transition, for faster seeking. On construction and on every
// directory change both files are tail-read to recover the last item,
// the last object row and the last index key.
type IndexedListWriter struct {
	list     *FileWriter
	index    *FileWriter // nil when unindexed
	dirKnown bool        // directory resolved; false until the first datetimed segment
	lastKey  string
	lastLine any   // most recent decoded record, string or []any
	lastRow  []any // most recent JSON-array record
}

// NewIndexedListWriter creates a writer rooted at root/dirname. With
// dirKnown=false the directory is unresolved until SetDirname.
func NewIndexedListWriter(root, dirname string, dirKnown, withIndex bool) *IndexedListWriter {
	w := &IndexedListWriter{
		list:     NewFileWriter(root, dirname, listFilename),
		dirKnown: dirKnown,
	}
	if withIndex {
		w.index = NewFileWriter(root, dirname, indexFilename)
	}
	if dirKnown {
		w.load()
	}
	return w
}

func (w *IndexedListWriter) Dirname() string {
	return w.list.Dirname()
}

// DirKnown reports whether the target directory has been resolved.
func (w *IndexedListWriter) DirKnown() bool {
	return w.dirKnown
}

// SetDirname rolls the writer to a new directory and recovers state
// from the files found there.
func (w *IndexedListWriter) SetDirname(dirname string) {
	if w.dirKnown && dirname == w.list.Dirname() {
		return
	}
	w.list.SetDirname(dirname)
	if w.index != nil {
		w.index.SetDirname(dirname)
	}
	w.dirKnown = true
	w.load()
}

func (w *IndexedListWriter) load() {
	w.lastLine = nil
	w.lastRow = nil
	lines, err := TailLines(w.list.FullPath(), tailRecoverLines)
	if err != nil {
		slog.Error("cannot recover manifest tail", "path", w.list.FullPath(), "err", err)
	}
	for _, line := range lines {
		v, ok := ParseLine(line)
		if !ok || v == nil {
			continue
		}
		if w.lastLine == nil {
			w.lastLine = v
		}
		if row, ok := v.([]any); ok {
			w.lastRow = row
			break
		}
	}
	if w.index == nil {
		return
	}
	w.lastKey = ""
	lines, err = TailLines(w.index.FullPath(), tailRecoverLines)
	if err != nil {
		slog.Error("cannot recover index tail", "path", w.index.FullPath(), "err", err)
	}
	for _, line := range lines {
		v, ok := ParseLine(line)
		if !ok {
			continue
		}
		if row, ok := v.([]any); ok && len(row) > 0 {
			if key, ok := row[0].(string); ok {
				w.lastKey = key
			}
			break
		}
	}
}

// LastLine is the most recent decoded record, nil when empty.
func (w *IndexedListWriter) LastLine() any {
	return w.lastLine
}

// LastRow is the most recent JSON-array record, nil when none found.
func (w *IndexedListWriter) LastRow() []any {
	return w.lastRow
}

// UpdateIndex appends an index entry when key differs from the last
// one. A no-op for empty keys, unindexed writers and unresolved
// directories.
func (w *IndexedListWriter) UpdateIndex(key, canonicalKey string) error {
	if key == "" || w.index == nil || !w.dirKnown || key == w.lastKey {
		return nil
	}
	position, err := w.list.Tell()
	if err != nil {
		return err
	}
	if err := w.index.WriteRecord([]any{key, canonicalKey, position}); err != nil {
		return err
	}
	w.lastKey = key
	return nil
}

// Write appends one record to the list file.
func (w *IndexedListWriter) Write(v any) error {
	return w.list.WriteRecord(v)
}

func (w *IndexedListWriter) Close() error {
	err := w.list.Close()
	if w.index != nil {
		if err2 := w.index.Close(); err == nil {
			err = err2
		}
	}
	return err
}
