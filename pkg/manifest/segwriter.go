package manifest

import (
	"time"

	"github.com/streamrec/hlschunker/pkg/hls"
)

// SegmentRow is a decoded segment record from a segments.yaml file.
type SegmentRow struct {
	Sequence       int64
	SourceSequence int64
	Duration       float64
	DateTime       time.Time
	Path           string
	Checksum       uint32
}

// segmentRowFromAny coerces a decoded JSON array
// [sequence, source_sequence, duration, datetime, path, checksum]
// into a SegmentRow.
func segmentRowFromAny(row []any) (*SegmentRow, bool) {
	if len(row) < 6 {
		return nil, false
	}
	seq, ok1 := row[0].(float64)
	srcSeq, ok2 := row[1].(float64)
	duration, ok3 := row[2].(float64)
	dtStr, ok4 := row[3].(string)
	p, ok5 := row[4].(string)
	checksum, ok6 := row[5].(float64)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return nil, false
	}
	dt, _ := ParseDateTime(dtStr)
	return &SegmentRow{
		Sequence:       int64(seq),
		SourceSequence: int64(srcSeq),
		Duration:       duration,
		DateTime:       dt,
		Path:           p,
		Checksum:       uint32(checksum),
	}, true
}

// SegmentsListWriter records a stream of items into an indexed list.
// The master writer (empty base template) stays in the storage root;
// sub-writers roll to a new directory whenever the formatter's base
// changes, closing the previous sub-manifest with a CHUNK-END tag.
type SegmentsListWriter struct {
	ilw         *IndexedListWriter
	formatter   *Formatter
	chunker     *Chunker
	lastSegment *SegmentRow
	lastTag     hls.Tag
	lastWasTag  bool
	pendingTags []hls.Tag // tags seen before the first directory is known
}

func NewSegmentsListWriter(root string, formatter *Formatter, chunker *Chunker) *SegmentsListWriter {
	dirKnown := formatter.BaseTemplate == ""
	w := &SegmentsListWriter{
		ilw:       NewIndexedListWriter(root, "", dirKnown, formatter.IndexKeyTemplate != ""),
		formatter: formatter,
		chunker:   chunker,
	}
	w.decodeRecovered()
	return w
}

// decodeRecovered converts the raw recovered tail records into typed
// segment/tag state.
func (w *SegmentsListWriter) decodeRecovered() {
	w.lastSegment = nil
	w.lastWasTag = false
	if row := w.ilw.LastRow(); row != nil {
		if sr, ok := segmentRowFromAny(row); ok {
			w.lastSegment = sr
		}
	}
	if s, ok := w.ilw.LastLine().(string); ok {
		if tag, ok := hls.ParseTag(s); ok {
			w.lastTag = tag
			w.lastWasTag = true
		}
	}
}

// LastSegment is the most recent segment row, recovered or written.
func (w *SegmentsListWriter) LastSegment() *SegmentRow {
	return w.lastSegment
}

// LastTag returns the last written item when it was a tag.
func (w *SegmentsListWriter) LastTag() (hls.Tag, bool) {
	return w.lastTag, w.lastWasTag
}

// ResumeFrom opens the sub-manifest directory matching seg, recovering
// its tail state, so that writing continues where a previous run ended.
func (w *SegmentsListWriter) ResumeFrom(seg *hls.Segment) error {
	base, err := w.formatter.Base(seg)
	if err != nil {
		return err
	}
	w.rollTo(base)
	return nil
}

func (w *SegmentsListWriter) rollTo(dir string) {
	w.ilw.SetDirname(dir)
	w.decodeRecovered()
	for _, tag := range w.pendingTags {
		if w.lastWasTag && w.lastTag == tag {
			continue
		}
		_ = w.ilw.Write(tag.String())
		w.lastTag = tag
		w.lastWasTag = true
	}
	w.pendingTags = nil
}

func (w *SegmentsListWriter) Write(item hls.Item) error {
	switch it := item.(type) {
	case *hls.Segment:
		return w.writeSegment(it)
	case hls.Tag:
		return w.writeTag(it)
	}
	return nil
}

func (w *SegmentsListWriter) writeSegment(seg *hls.Segment) error {
	if !seg.DateTime.IsZero() {
		newDir, err := w.formatter.Base(seg)
		if err != nil {
			return err
		}
		switch {
		case !w.ilw.DirKnown():
			w.rollTo(newDir)
		case newDir != w.ilw.Dirname():
			// close the old sub-manifest before rolling over
			if err := w.writeTag(hls.TagChunkEnd); err != nil {
				return err
			}
			w.rollTo(newDir)
		}
		key, err := w.formatter.IndexKey(seg)
		if err != nil {
			return err
		}
		if err := w.ilw.UpdateIndex(key, FormatDateTime(seg.DateTime)); err != nil {
			return err
		}
	}
	if w.chunker != nil {
		if err := w.chunker.Write(seg); err != nil {
			return err
		}
	}
	p, err := w.formatter.Path(seg)
	if err != nil {
		return err
	}
	row := []any{seg.Sequence, seg.SourceSequence, seg.Duration, FormatDateTime(seg.DateTime), p, seg.Checksum}
	if err := w.ilw.Write(row); err != nil {
		return err
	}
	w.lastSegment = &SegmentRow{
		Sequence:       seg.Sequence,
		SourceSequence: seg.SourceSequence,
		Duration:       seg.Duration,
		DateTime:       seg.DateTime.UTC(),
		Path:           p,
		Checksum:       seg.Checksum,
	}
	w.lastWasTag = false
	return nil
}

func (w *SegmentsListWriter) writeTag(tag hls.Tag) error {
	// never repeat the same tag kind at the end of the list
	if w.lastWasTag && w.lastTag == tag {
		return nil
	}
	if !w.ilw.DirKnown() {
		if n := len(w.pendingTags); n == 0 || w.pendingTags[n-1] != tag {
			w.pendingTags = append(w.pendingTags, tag)
		}
		w.lastTag = tag
		w.lastWasTag = true
		return nil
	}
	if tag == hls.TagSourceEnd || tag.IsDiscontinuity() {
		if w.chunker != nil {
			if err := w.chunker.End(); err != nil {
				return err
			}
		}
	}
	if err := w.ilw.Write(tag.String()); err != nil {
		return err
	}
	w.lastTag = tag
	w.lastWasTag = true
	return nil
}

func (w *SegmentsListWriter) Close() error {
	return w.ilw.Close()
}
