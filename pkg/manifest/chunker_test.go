package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/streamrec/hlschunker/pkg/hls"
)

type notification struct {
	chunkPath string
	start     time.Time
	end       time.Time
	prevPath  string
	nextPath  string
}

type captureNotifier struct {
	got []notification
}

func (n *captureNotifier) NotifyChunk(chunkPath string, start, end time.Time, prevPath, nextPath string) {
	n.got = append(n.got, notification{chunkPath, start, end, prevPath, nextPath})
}

func chunkSeg(seq int64, duration float64, dt time.Time) *hls.Segment {
	return &hls.Segment{Sequence: seq, Duration: duration, DateTime: dt, Checksum: uint32(seq)}
}

var chunkT0 = time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

func TestChunkerBoundaryAtExactTick(t *testing.T) {
	root := t.TempDir()
	notifier := &captureNotifier{}
	c := NewChunker(root, NewFormatter(DefaultPathTemplate, "ts"), notifier, 10*time.Second, "feed1")

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(chunkSeg(int64(i), 5, chunkT0.Add(time.Duration(i)*5*time.Second))))
	}
	require.NoError(t, c.Close())

	// chunk closes exactly when a segment end reaches projected_end
	require.Len(t, notifier.got, 1)
	n := notifier.got[0]
	require.Equal(t, "chunks/2023-01-01/000000.yaml", n.chunkPath)
	require.Equal(t, chunkT0, n.start)
	require.Equal(t, chunkT0.Add(10*time.Second), n.end)
	require.Equal(t, "", n.prevPath)
	require.Equal(t, "chunks/2023-01-01/000010.yaml", n.nextPath)

	segments, err := ReadChunkSegments(filepath.Join(root, "chunks", "2023-01-01", "000000.yaml"))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	require.Equal(t, int64(0), segments[0].Sequence)
	require.Equal(t, "2023-01-01/00/0.ts", segments[0].Path)

	// the second chunk reopened at segment 2 but was not finished
	segments, err = ReadChunkSegments(filepath.Join(root, "chunks", "2023-01-01", "000010.yaml"))
	require.NoError(t, err)
	require.Len(t, segments, 1)
}

func TestChunkerEndOnStreamEnd(t *testing.T) {
	root := t.TempDir()
	notifier := &captureNotifier{}
	c := NewChunker(root, NewFormatter(DefaultPathTemplate, "ts"), notifier, 300*time.Second, "feed1")

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Write(chunkSeg(int64(i), 6, chunkT0.Add(time.Duration(i)*6*time.Second))))
	}
	require.NoError(t, c.End())
	// End on an already closed chunker is a no-op
	require.NoError(t, c.End())
	require.NoError(t, c.Close())

	require.Len(t, notifier.got, 1)
	require.Equal(t, chunkT0, notifier.got[0].start)
	require.Equal(t, chunkT0.Add(18*time.Second), notifier.got[0].end)

	list := NewChunkList(root, "feed1")
	require.Equal(t, "end", list.LastAction().Action)
	require.Equal(t, int64(0), list.LastAction().Sequence)
	require.NoError(t, list.Close())
}

func TestChunkListSequenceNumbers(t *testing.T) {
	root := t.TempDir()
	list := NewChunkList(root, "feed1")

	a, err := list.Write("start", "2023-01-01 00:00:00", "p0")
	require.NoError(t, err)
	require.Equal(t, int64(0), a.Sequence)
	a, err = list.Write("end", "2023-01-01 00:05:00", "p0")
	require.NoError(t, err)
	require.Equal(t, int64(0), a.Sequence)
	a, err = list.Write("start", "2023-01-01 00:05:00", "p1")
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Sequence)
	require.NoError(t, list.Close())

	// recovery picks up last action and previous chunk end
	list2 := NewChunkList(root, "feed1")
	require.Equal(t, "start", list2.LastAction().Action)
	require.Equal(t, int64(1), list2.LastAction().Sequence)
	require.NotNil(t, list2.PrevChunkEnd())
	require.Equal(t, "p0", list2.PrevChunkEnd().Path)
	require.NoError(t, list2.Close())
}

func TestChunkerResumesOpenChunk(t *testing.T) {
	root := t.TempDir()
	f := NewFormatter(DefaultPathTemplate, "ts")
	c := NewChunker(root, f, nil, 300*time.Second, "feed1")
	require.NoError(t, c.Write(chunkSeg(0, 6, chunkT0)))
	require.NoError(t, c.Close())

	// a restart reopens the unterminated chunk and ends it correctly
	c2 := NewChunker(root, f, nil, 300*time.Second, "feed1")
	require.NoError(t, c2.End())
	require.NoError(t, c2.Close())

	list := NewChunkList(root, "feed1")
	require.Equal(t, "end", list.LastAction().Action)
	end, ok := ParseDateTime(list.LastAction().DateTime)
	require.True(t, ok)
	require.True(t, chunkT0.Add(6*time.Second).Equal(end))
	require.NoError(t, list.Close())
}
