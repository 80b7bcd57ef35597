package hls

import (
	"fmt"
	"math"
	"strings"
)

// PlaylistEntry is one segment reference to be written into a generated
// media playlist.
type PlaylistEntry struct {
	Sequence int64
	Duration float64
	URI      string
}

// SegmentsToIndex renders entries as an M3U8 media playlist. URIs are
// resolved against base when it is non-empty. complete appends
// EXT-X-ENDLIST, marking the playlist as closed VoD content.
func SegmentsToIndex(entries []PlaylistEntry, base string, complete bool) string {
	maxDuration := 0.0
	for _, e := range entries {
		if e.Duration > maxDuration {
			maxDuration = e.Duration
		}
	}
	var seq int64
	if len(entries) > 0 {
		seq = entries[0].Sequence
	}
	var b strings.Builder
	fmt.Fprintf(&b, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:%d\n#EXT-X-MEDIA-SEQUENCE:%d\n",
		int(math.Ceil(maxDuration)), seq)
	for _, e := range entries {
		fmt.Fprintf(&b, "#EXTINF:%g,\n%s\n", e.Duration, ResolveURL(base, e.URI))
	}
	if complete {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
