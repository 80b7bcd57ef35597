package manifest

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/streamrec/hlschunker/pkg/hls"
)

// DefaultPathTemplate is the output layout for downloaded segments:
// one directory per day, one per hour.
const DefaultPathTemplate = "2006-01-02/15/{timestamp}.{ext}"

const timestampLayout = "2006-01-02_15-04-05"

// MissingDatetimeError reports a segment without a datetime hitting a
// template that needs one. After wall-clock recovery this should never
// happen.
type MissingDatetimeError struct {
	Template string
}

func (e *MissingDatetimeError) Error() string {
	return "segment datetime not set, needed by template " + e.Template
}

// Formatter maps segments to output-relative paths. Templates are Go
// time layouts with extra placeholders: {ext}, {seq} and {timestamp}
// (derived from the segment's URL epoch when known, its sequence
// otherwise).
type Formatter struct {
	PathTemplate     string
	BaseTemplate     string
	IndexKeyTemplate string
	Ext              string
}

// NewFormatter creates a root formatter. The index key template is the
// first directory component of the path template.
func NewFormatter(pathTemplate, ext string) *Formatter {
	return &Formatter{
		PathTemplate:     pathTemplate,
		IndexKeyTemplate: firstDirComponent(pathTemplate),
		Ext:              ext,
	}
}

func firstDirComponent(pathTemplate string) string {
	dir := path.Dir(pathTemplate)
	if dir == "." || dir == "" {
		return ""
	}
	return strings.Split(dir, "/")[0]
}

// Format expands template for seg. An empty template yields an empty
// path without requiring a datetime.
func (f *Formatter) Format(template string, seg *hls.Segment) (string, error) {
	if template == "" {
		return "", nil
	}
	if seg.DateTime.IsZero() {
		return "", &MissingDatetimeError{Template: template}
	}
	out := seg.DateTime.UTC().Format(template)
	timestamp := strconv.FormatInt(seg.Sequence, 10)
	if seg.Epoch > 0 {
		timestamp = time.Unix(seg.Epoch, 0).UTC().Format(timestampLayout)
	}
	r := strings.NewReplacer(
		"{ext}", f.Ext,
		"{seq}", strconv.FormatInt(seg.Sequence, 10),
		"{timestamp}", timestamp,
	)
	return r.Replace(out), nil
}

// Path returns the output-relative path for seg.
func (f *Formatter) Path(seg *hls.Segment) (string, error) {
	return f.Format(f.PathTemplate, seg)
}

// Base returns the directory a sub-manifest for seg lives in.
func (f *Formatter) Base(seg *hls.Segment) (string, error) {
	return f.Format(f.BaseTemplate, seg)
}

// IndexKey returns the index bucket key for seg, empty when unindexed.
func (f *Formatter) IndexKey(seg *hls.Segment) (string, error) {
	return f.Format(f.IndexKeyTemplate, seg)
}

// Depth is the number of components in the path template.
func (f *Formatter) Depth() int {
	return len(strings.Split(f.PathTemplate, "/"))
}

// Split derives a formatter bound to the subtree at depth: the path
// template keeps the trailing components, the base template absorbs the
// leading ones, and the index key becomes the first remaining directory
// component.
func (f *Formatter) Split(depth int) *Formatter {
	parts := strings.Split(f.PathTemplate, "/")
	pathTemplate := strings.Join(parts[depth:], "/")
	return &Formatter{
		PathTemplate:     pathTemplate,
		BaseTemplate:     path.Join(f.BaseTemplate, strings.Join(parts[:depth], "/")),
		IndexKeyTemplate: firstDirComponent(pathTemplate),
		Ext:              f.Ext,
	}
}
