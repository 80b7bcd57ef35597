package hls

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGuessEpochFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want int64
	}{
		{"http://dwstream4.example.com/hls/segment164065771.ts", 1640657710},
		{"http://example.com/bbc-media-1464-1465203606.ts", 1465203606},
		{"http://example.com/plain/segment.ts", 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, GuessEpochFromURL(c.url), c.url)
	}
}

func TestSameItem(t *testing.T) {
	s1 := NewSegment("a.ts", "http://x/a.ts", 4, time.Time{}, 0)
	s1b := NewSegment("a.ts", "http://y/a.ts", 6, time.Now(), 17)
	s2 := NewSegment("b.ts", "http://x/b.ts", 4, time.Time{}, 1)

	require.True(t, SameItem(s1, s1b), "same raw URL means same segment")
	require.False(t, SameItem(s1, s2))
	require.True(t, SameItem(TagSourceEnd, TagSourceEnd))
	require.False(t, SameItem(TagSourceEnd, TagChunkEnd))
	require.False(t, SameItem(s1, TagSourceEnd))
	require.False(t, SameItem(TagSourceEnd, s1))
}

func TestTagProperties(t *testing.T) {
	for _, tag := range []Tag{TagSourceDiscontinuity, TagPullDiscontinuity, TagPullError} {
		require.True(t, tag.IsDiscontinuity(), tag.String())
		require.False(t, tag.IsEnd(), tag.String())
	}
	for _, tag := range []Tag{TagSourceEnd, TagChunkEnd} {
		require.True(t, tag.IsEnd(), tag.String())
		require.False(t, tag.IsDiscontinuity(), tag.String())
	}
	for _, tag := range []Tag{TagSourceDiscontinuity, TagPullDiscontinuity, TagPullError, TagSourceEnd, TagChunkEnd} {
		parsed, ok := ParseTag(tag.String())
		require.True(t, ok)
		require.Equal(t, tag, parsed)
	}
	_, ok := ParseTag("NO-SUCH-TAG")
	require.False(t, ok)
}

func TestSegmentEnd(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seg := NewSegment("a.ts", "http://x/a.ts", 4.5, start, 0)
	require.Equal(t, start.Add(4500*time.Millisecond), seg.End())

	noDT := NewSegment("b.ts", "http://x/b.ts", 4.5, time.Time{}, 0)
	require.True(t, noDT.End().IsZero())
}
