package hls

import (
	"time"
)

// SegmentsList is an ordered list of playlist items with bookkeeping of
// the most recently removed item, so that merges keep working after the
// head of the list has been drained into storage.
type SegmentsList struct {
	items              []Item
	lastRemovedItem    Item
	lastRemovedSegment *Segment
}

func NewSegmentsList(items ...Item) *SegmentsList {
	return &SegmentsList{items: items}
}

func (l *SegmentsList) Len() int {
	return len(l.items)
}

// Items returns the underlying items in order.
func (l *SegmentsList) Items() []Item {
	return l.items
}

func (l *SegmentsList) Append(items ...Item) {
	l.items = append(l.items, items...)
}

func (l *SegmentsList) AppendLeft(item Item) {
	l.items = append([]Item{item}, l.items...)
}

// PopLeft removes and returns the first item, recording it as the last
// removed item (and segment, if it is one). Returns nil when empty.
func (l *SegmentsList) PopLeft() Item {
	if len(l.items) == 0 {
		return nil
	}
	item := l.items[0]
	l.items = l.items[1:]
	l.lastRemovedItem = item
	if seg, ok := item.(*Segment); ok {
		l.lastRemovedSegment = seg
	}
	return item
}

func (l *SegmentsList) LastItem() Item {
	if len(l.items) == 0 {
		return nil
	}
	return l.items[len(l.items)-1]
}

func (l *SegmentsList) FirstSegment() *Segment {
	for _, item := range l.items {
		if seg, ok := item.(*Segment); ok {
			return seg
		}
	}
	return nil
}

func (l *SegmentsList) LastSegment() *Segment {
	for i := len(l.items) - 1; i >= 0; i-- {
		if seg, ok := l.items[i].(*Segment); ok {
			return seg
		}
	}
	return nil
}

func (l *SegmentsList) LastRemovedItem() Item {
	return l.lastRemovedItem
}

func (l *SegmentsList) LastRemovedSegment() *Segment {
	return l.lastRemovedSegment
}

// Extend merges right onto the tail of l. The merge anchor is the last
// known segment of l (possibly already removed); everything in right after
// the anchor is appended with datetimes propagated from the anchor's end.
// If the anchor is not found in right the lists do not overlap: with
// force=false nothing changes and false is returned, with force=true a
// SOURCE-DISCONTINUITY is inserted (unless the tail already ends the
// timeline) and all of right is appended.
func (l *SegmentsList) Extend(right *SegmentsList, force bool) bool {
	if right == nil || right.Len() == 0 {
		return true
	}
	last := l.LastSegment()
	if last == nil {
		last = l.lastRemovedSegment
	}
	if last == nil {
		l.items = append(l.items, right.items...)
		return true
	}
	nextDT := last.End()
	for i, item := range right.items {
		if !SameItem(item, last) {
			continue
		}
		for _, it := range right.items[i+1:] {
			if seg, ok := it.(*Segment); ok {
				seg.DateTime = nextDT
				if !nextDT.IsZero() {
					nextDT = nextDT.Add(SecondsToDuration(seg.Duration))
				}
			}
			l.items = append(l.items, it)
		}
		return true
	}
	if !force {
		return false
	}
	tail := l.LastItem()
	if tail == nil {
		tail = l.lastRemovedItem
	}
	if !endsTimeline(tail) {
		l.items = append(l.items, TagSourceDiscontinuity)
	}
	l.items = append(l.items, right.items...)
	return true
}

// endsTimeline reports whether item already terminates or breaks the
// timeline, so that no extra discontinuity marker is needed after it.
func endsTimeline(item Item) bool {
	tag, ok := item.(Tag)
	return ok && (tag.IsEnd() || tag.IsDiscontinuity())
}

// ExtendLeft prepends the part of left that precedes l's first segment,
// back-propagating datetimes from that segment. A no-op when items were
// already removed from l (its head is no longer the start of the
// timeline) or when the anchor segment is not found in left.
func (l *SegmentsList) ExtendLeft(left *SegmentsList) {
	if left == nil || left.Len() == 0 {
		return
	}
	if l.lastRemovedSegment != nil {
		return
	}
	first := l.FirstSegment()
	if first == nil {
		l.items = append(append([]Item{}, left.items...), l.items...)
		return
	}
	anchor := -1
	for i := len(left.items) - 1; i >= 0; i-- {
		if SameItem(left.items[i], first) {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return
	}
	prepend := make([]Item, anchor)
	copy(prepend, left.items[:anchor])
	nextDT := first.DateTime
	for i := len(prepend) - 1; i >= 0; i-- {
		if seg, ok := prepend[i].(*Segment); ok && !nextDT.IsZero() {
			seg.DateTime = nextDT.Add(-SecondsToDuration(seg.Duration))
			nextDT = seg.DateTime
		}
	}
	l.items = append(prepend, l.items...)
}

// TrimLeft removes everything up to and including the item matching
// until, propagating until's datetime forward when the matched item has
// none. Returns the number of removed items, 0 when until was not found.
func (l *SegmentsList) TrimLeft(until *Segment) int {
	if until == nil {
		return 0
	}
	popCount := 0
	var nextDT time.Time
	for i, item := range l.items {
		if !nextDT.IsZero() {
			if seg, ok := item.(*Segment); ok {
				seg.DateTime = nextDT
				nextDT = nextDT.Add(SecondsToDuration(seg.Duration))
			}
			continue
		}
		if !SameItem(item, until) {
			continue
		}
		popCount = i + 1
		seg, ok := item.(*Segment)
		if !ok || !seg.DateTime.IsZero() {
			break
		}
		if until.DateTime.IsZero() {
			break
		}
		seg.DateTime = until.DateTime
		nextDT = until.DateTime.Add(SecondsToDuration(until.Duration))
	}
	if popCount > 0 {
		l.items = l.items[popCount-1:]
		l.PopLeft()
	}
	return popCount
}

// ApplyEndDatetime stamps datetimes on all segments, working backwards
// from the known wall-clock end of the last segment.
func (l *SegmentsList) ApplyEndDatetime(end time.Time) {
	for i := len(l.items) - 1; i >= 0; i-- {
		if seg, ok := l.items[i].(*Segment); ok {
			seg.DateTime = end.Add(-SecondsToDuration(seg.Duration))
			end = seg.DateTime
		}
	}
}
