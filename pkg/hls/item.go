// Package hls models HLS media playlists: segments, control tags,
// ordered segment lists, and an M3U8 index parser.
package hls

import (
	"hash/crc32"
	"regexp"
	"strconv"
	"time"
)

// Item is a single entry in a playlist: either a *Segment or a Tag.
type Item interface {
	isPlaylistItem()
}

// Tag is a control marker interleaved with segments in a playlist
// or a recorded manifest.
type Tag int

const (
	// TagSourceDiscontinuity mirrors EXT-X-DISCONTINUITY from the source.
	TagSourceDiscontinuity Tag = iota
	// TagPullDiscontinuity marks a gap introduced by the recorder itself,
	// e.g. a restart or a failed merge with the upstream playlist.
	TagPullDiscontinuity
	// TagPullError marks a segment whose download exhausted all retries.
	TagPullError
	// TagSourceEnd mirrors EXT-X-ENDLIST from the source.
	TagSourceEnd
	// TagChunkEnd closes a sub-manifest when recording rolls over to a
	// new directory.
	TagChunkEnd
)

func (Tag) isPlaylistItem() {}

var tagNames = map[Tag]string{
	TagSourceDiscontinuity: "SOURCE-DISCONTINUITY",
	TagPullDiscontinuity:   "PULL-DISCONTINUITY",
	TagPullError:           "PULL-ERROR",
	TagSourceEnd:           "SOURCE-END",
	TagChunkEnd:            "CHUNK-END",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return "UNKNOWN-TAG"
}

// ParseTag maps a manifest tag name back to its Tag value.
func ParseTag(name string) (Tag, bool) {
	for t, n := range tagNames {
		if n == name {
			return t, true
		}
	}
	return 0, false
}

// IsDiscontinuity reports whether the tag breaks timeline continuity.
func (t Tag) IsDiscontinuity() bool {
	return t == TagSourceDiscontinuity || t == TagPullDiscontinuity || t == TagPullError
}

// IsEnd reports whether the tag terminates a list or sub-manifest.
func (t Tag) IsEnd() bool {
	return t == TagSourceEnd || t == TagChunkEnd
}

// SegmentStatus tracks a segment through its download lifecycle.
type SegmentStatus int

const (
	StatusPending   SegmentStatus = 0
	StatusDone      SegmentStatus = 1
	StatusCancelled SegmentStatus = -1
)

// Segment is one media segment from a playlist. Identity is the CRC32
// checksum of the raw (unresolved) URL as it appeared in the playlist,
// so the same segment matches across polls even when datetimes drift.
type Segment struct {
	Checksum       uint32
	URL            string // absolute URL
	Duration       float64
	DateTime       time.Time
	SourceSequence int64 // media sequence number from the source playlist
	Sequence       int64 // recorder-assigned storage sequence
	Epoch          int64 // start time guessed from the URL, 0 if unknown
	Path           string
	Status         SegmentStatus
	Deadline       time.Time // pending items past this point are given up on
}

func (*Segment) isPlaylistItem() {}

// NewSegment creates a segment. rawURL is the URL string as written in
// the playlist (identity), absURL the resolved downloadable URL.
func NewSegment(rawURL, absURL string, duration float64, dateTime time.Time, sourceSeq int64) *Segment {
	return &Segment{
		Checksum:       crc32.ChecksumIEEE([]byte(rawURL)),
		URL:            absURL,
		Duration:       duration,
		DateTime:       dateTime,
		SourceSequence: sourceSeq,
		Epoch:          GuessEpochFromURL(absURL),
	}
}

// End returns the wall-clock end of the segment, zero if DateTime is unset.
func (s *Segment) End() time.Time {
	if s.DateTime.IsZero() {
		return time.Time{}
	}
	return s.DateTime.Add(SecondsToDuration(s.Duration))
}

// SameItem reports whether two items are the same playlist entry.
// Tags compare by kind, segments by checksum.
func SameItem(a, b Item) bool {
	switch x := a.(type) {
	case Tag:
		y, ok := b.(Tag)
		return ok && x == y
	case *Segment:
		y, ok := b.(*Segment)
		return ok && x != nil && y != nil && x.Checksum == y.Checksum
	}
	return false
}

// SecondsToDuration converts a fractional seconds count to a Duration.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

var (
	dwEpochRE      = regexp.MustCompile(`dwstream.*segment(\d+)`)
	genericEpochRE = regexp.MustCompile(`-\d+-(\d+)`)
)

// GuessEpochFromURL extracts a Unix-epoch start time embedded in known
// segment URL shapes (DW streams count decaseconds, BBC-style names
// carry epoch seconds). Returns 0 when no pattern matches.
func GuessEpochFromURL(url string) int64 {
	if m := dwEpochRE.FindStringSubmatch(url); m != nil {
		if epoch, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return epoch * 10
		}
	}
	if m := genericEpochRE.FindStringSubmatch(url); m != nil {
		if epoch, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return epoch
		}
	}
	return 0
}
