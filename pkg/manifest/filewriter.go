package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// FileWriter appends lines to a file under root/dirname/filename. The
// file is opened lazily on first write and closed automatically when
// the directory or filename changes.
type FileWriter struct {
	root     string
	dirname  string
	filename string
	handle   *os.File
	size     int64
}

// NewFileWriter creates a writer. A filename with a directory part has
// that part split off into dirname.
func NewFileWriter(root, dirname, filename string) *FileWriter {
	if d := path.Dir(filename); filename != "" && d != "." {
		dirname = path.Join(dirname, d)
		filename = path.Base(filename)
	}
	return &FileWriter{root: root, dirname: dirname, filename: filename}
}

func (w *FileWriter) open() error {
	if w.handle != nil {
		return nil
	}
	dir := filepath.Join(w.root, filepath.FromSlash(w.dirname))
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(filepath.Join(dir, w.filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.handle = f
	w.size = fi.Size()
	return nil
}

func (w *FileWriter) Close() error {
	if w.handle == nil {
		return nil
	}
	err := w.handle.Close()
	w.handle = nil
	return err
}

func (w *FileWriter) IsOpen() bool {
	return w.handle != nil
}

func (w *FileWriter) Dirname() string {
	return w.dirname
}

// SetDirname changes the directory, closing the current file if different.
func (w *FileWriter) SetDirname(dirname string) {
	if w.dirname != dirname {
		w.dirname = dirname
		w.Close()
	}
}

func (w *FileWriter) Filename() string {
	return w.filename
}

func (w *FileWriter) SetFilename(filename string) {
	if w.filename != filename {
		w.filename = filename
		w.Close()
	}
}

// Path returns the root-relative path (slash-separated).
func (w *FileWriter) Path() string {
	return path.Join(w.dirname, w.filename)
}

// SetPath splits p into dirname and filename, closing on change.
func (w *FileWriter) SetPath(p string) {
	dirname, filename := path.Dir(p), path.Base(p)
	if dirname == "." {
		dirname = ""
	}
	if dirname != w.dirname || filename != w.filename {
		w.dirname = dirname
		w.filename = filename
		w.Close()
	}
}

// FullPath returns the filesystem path of the target file.
func (w *FileWriter) FullPath() string {
	return filepath.Join(w.root, filepath.FromSlash(w.dirname), w.filename)
}

// Tell returns the current append offset, opening the file if needed.
func (w *FileWriter) Tell() (int64, error) {
	if err := w.open(); err != nil {
		return 0, err
	}
	return w.size, nil
}

// WriteLine appends one line.
func (w *FileWriter) WriteLine(line string) error {
	if err := w.open(); err != nil {
		return err
	}
	n, err := fmt.Fprintln(w.handle, line)
	w.size += int64(n)
	return err
}

// WriteRecord appends one manifest record: "- <payload>". Strings are
// written verbatim, everything else is JSON-encoded.
func (w *FileWriter) WriteRecord(v any) error {
	payload, ok := v.(string)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	return w.WriteLine("- " + payload)
}
