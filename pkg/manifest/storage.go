package manifest

import (
	"github.com/streamrec/hlschunker/pkg/hls"
)

// Storage fans every recorded item out to the master segment list and
// the per-depth sub-manifests. Only the master writer drives the
// chunker.
type Storage struct {
	master  *SegmentsListWriter
	subs    []*SegmentsListWriter
	chunker *Chunker
}

// NewStorage creates the manifest hierarchy for a feed. The chunker,
// when non-nil, is owned by the storage and closed with it.
func NewStorage(root string, formatter *Formatter, chunker *Chunker) *Storage {
	s := &Storage{
		master:  NewSegmentsListWriter(root, formatter, chunker),
		chunker: chunker,
	}
	for depth := 1; depth < formatter.Depth(); depth++ {
		s.subs = append(s.subs, NewSegmentsListWriter(root, formatter.Split(depth), nil))
	}
	return s
}

// LastSegment is the master list's most recent segment row.
func (s *Storage) LastSegment() *SegmentRow {
	return s.master.LastSegment()
}

// LastTag returns the master list's last item when it was a tag.
func (s *Storage) LastTag() (hls.Tag, bool) {
	return s.master.LastTag()
}

// Resume reopens the sub-manifests matching the master's last recorded
// segment, so a restarted pipeline appends instead of rolling over.
func (s *Storage) Resume() error {
	last := s.master.LastSegment()
	if last == nil {
		return nil
	}
	seg := &hls.Segment{Checksum: last.Checksum, DateTime: last.DateTime}
	for _, sub := range s.subs {
		if err := sub.ResumeFrom(seg); err != nil {
			return err
		}
	}
	return nil
}

// Write records one item into the master list and all sub-manifests.
func (s *Storage) Write(item hls.Item) error {
	if err := s.master.Write(item); err != nil {
		return err
	}
	for _, sub := range s.subs {
		if err := sub.Write(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) Close() error {
	err := s.master.Close()
	for _, sub := range s.subs {
		if err2 := sub.Close(); err == nil {
			err = err2
		}
	}
	if s.chunker != nil {
		if err2 := s.chunker.Close(); err == nil {
			err = err2
		}
	}
	return err
}
