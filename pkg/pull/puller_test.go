package pull

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/streamrec/hlschunker/pkg/hls"
	"github.com/streamrec/hlschunker/pkg/manifest"
)

const vodPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PROGRAM-DATE-TIME:2023-01-01T00:00:00Z
#EXTINF:1.0,
s0.ts
#EXTINF:1.0,
s1.ts
#EXTINF:1.0,
s2.ts
#EXT-X-ENDLIST
`

func servePlaylist(playlist func(r *http.Request) string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/index.m3u8" {
			w.Write([]byte(playlist(r))) //nolint:errcheck
			return
		}
		w.Write(tsPayload(1)) //nolint:errcheck
	}))
}

func TestPullerRecordsCompletePlaylist(t *testing.T) {
	srv := servePlaylist(func(*http.Request) string { return vodPlaylist })
	defer srv.Close()

	root := t.TempDir()
	p := New(Config{
		URL:               srv.URL + "/index.m3u8",
		Root:              root,
		FeedID:            "feed1",
		ParallelDownloads: 2,
		Client:            srv.Client(),
	})
	require.NoError(t, p.Run(context.Background(), false))

	lines := readManifestLines(t, filepath.Join(root, "segments.yaml"))
	require.Len(t, lines, 4)
	require.Equal(t, "- SOURCE-END", lines[3])
	for i := 0; i < 3; i++ {
		require.Contains(t, lines[i], fmt.Sprintf("2023-01-01/00/%d.ts", i))
		_, err := os.Stat(filepath.Join(root, "2023-01-01", "00", fmt.Sprintf("%d.ts", i)))
		require.NoError(t, err)
	}

	// the stream end closed the open chunk
	segments, err := manifest.ReadChunkSegments(filepath.Join(root, "chunks", "2023-01-01", "000000.yaml"))
	require.NoError(t, err)
	require.Len(t, segments, 3)
	actions := readManifestLines(t, filepath.Join(root, "chunks", "chunks.yaml"))
	require.Len(t, actions, 2)
	require.Contains(t, actions[0], `"start"`)
	require.Contains(t, actions[1], `"end"`)
}

func TestPullerFollowsLiveUpdates(t *testing.T) {
	var hits atomic.Int64
	srv := servePlaylist(func(*http.Request) string {
		if hits.Add(1) == 1 {
			return `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PROGRAM-DATE-TIME:2023-01-01T00:00:00Z
#EXTINF:1.0,
s0.ts
#EXTINF:1.0,
s1.ts
`
		}
		return `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PROGRAM-DATE-TIME:2023-01-01T00:00:00Z
#EXTINF:1.0,
s0.ts
#EXTINF:1.0,
s1.ts
#EXTINF:1.0,
s2.ts
#EXTINF:1.0,
s3.ts
#EXT-X-ENDLIST
`
	})
	defer srv.Close()

	root := t.TempDir()
	p := New(Config{
		URL:    srv.URL + "/index.m3u8",
		Root:   root,
		FeedID: "feed1",
		Client: srv.Client(),
	})
	require.NoError(t, p.Run(context.Background(), false))

	lines := readManifestLines(t, filepath.Join(root, "segments.yaml"))
	require.Len(t, lines, 5)
	require.Equal(t, "- SOURCE-END", lines[4])
	for i := 0; i < 4; i++ {
		require.Contains(t, lines[i], fmt.Sprintf("%d.ts", i))
	}
}

func TestPullerRestartDeduplicates(t *testing.T) {
	srv := servePlaylist(func(*http.Request) string { return vodPlaylist })
	defer srv.Close()

	root := t.TempDir()
	cfg := Config{URL: srv.URL + "/index.m3u8", Root: root, FeedID: "feed1", Client: srv.Client()}
	require.NoError(t, New(cfg).Run(context.Background(), false))
	before := readManifestLines(t, filepath.Join(root, "segments.yaml"))

	// a second run over the same playlist records nothing new
	require.NoError(t, New(cfg).Run(context.Background(), false))
	after := readManifestLines(t, filepath.Join(root, "segments.yaml"))
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("manifest changed after restart:\n%s", diff)
	}
}

func TestPullerNonOverlappingRestart(t *testing.T) {
	srv := servePlaylist(func(*http.Request) string {
		return `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:100
#EXT-X-PROGRAM-DATE-TIME:2023-01-01T01:00:00Z
#EXTINF:1.0,
s100.ts
#EXT-X-ENDLIST
`
	})
	defer srv.Close()

	// seed a manifest whose tail does not appear in the live window
	root := t.TempDir()
	formatter := manifest.NewFormatter(manifest.DefaultPathTemplate, "ts")
	seeded := manifest.NewStorage(root, formatter, nil)
	old := hls.NewSegment("old.ts", "http://example.com/old.ts", 1,
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), 0)
	require.NoError(t, seeded.Write(old))
	require.NoError(t, seeded.Close())

	cfg := Config{URL: srv.URL + "/index.m3u8", Root: root, FeedID: "feed1", Client: srv.Client()}
	require.NoError(t, New(cfg).Run(context.Background(), false))

	lines := readManifestLines(t, filepath.Join(root, "segments.yaml"))
	require.Len(t, lines, 4)
	require.Equal(t, "- PULL-DISCONTINUITY", lines[1])
	// the live segment keeps source sequence 100 but gets local sequence 1
	require.Contains(t, lines[2], "- [1,100,1,")
	require.Contains(t, lines[2], `"2023-01-01/01/1.ts"`)
	require.Equal(t, "- SOURCE-END", lines[3])
}

func TestPullerMediaSequenceRegression(t *testing.T) {
	windowA := `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:10
#EXT-X-PROGRAM-DATE-TIME:2023-01-01T00:00:00Z
#EXTINF:1.0,
s10.ts
#EXTINF:1.0,
s11.ts
`
	windowB := `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXT-X-MEDIA-SEQUENCE:5
#EXTINF:1.0,
s5.ts
#EXTINF:1.0,
s6.ts
#EXTINF:1.0,
s7.ts
`
	// the window the change detection observes after the regression
	windowB2 := windowB + `#EXTINF:1.0,
s8.ts
#EXT-X-ENDLIST
`
	var hits atomic.Int64
	srv := servePlaylist(func(*http.Request) string {
		switch hits.Add(1) {
		case 1:
			return windowA
		case 2, 3:
			return windowB
		default:
			return windowB2
		}
	})
	defer srv.Close()

	root := t.TempDir()
	p := New(Config{URL: srv.URL + "/index.m3u8", Root: root, FeedID: "feed1", Client: srv.Client()})
	require.NoError(t, p.Run(context.Background(), false))

	lines := readManifestLines(t, filepath.Join(root, "segments.yaml"))
	require.Len(t, lines, 8)
	require.Contains(t, lines[0], "- [0,10,1,")
	require.Contains(t, lines[1], "- [1,11,1,")
	require.Equal(t, "- SOURCE-DISCONTINUITY", lines[2])
	for i, src := range []int{5, 6, 7, 8} {
		require.Contains(t, lines[3+i], fmt.Sprintf("- [%d,%d,1,", i+2, src))
	}
	require.Equal(t, "- SOURCE-END", lines[7])
	require.Equal(t, 1, strings.Count(strings.Join(lines, "\n"), "- SOURCE-DISCONTINUITY"))
}

func TestRecoverDatetimeFallsBackToWallClock(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-TARGETDURATION:1
#EXTINF:1.0,
s0.ts
#EXTINF:1.0,
s1.ts
`
	srv := servePlaylist(func(*http.Request) string { return playlist })
	defer srv.Close()

	p := New(Config{URL: srv.URL + "/index.m3u8", Root: t.TempDir(), FeedID: "feed1", Client: srv.Client()})
	index, err := hls.Parse([]byte(playlist), baseURL(srv.URL+"/index.m3u8"))
	require.NoError(t, err)
	index.TargetDuration = 0.1 // keep the change detection window short

	before := time.Now().UTC()
	recovered, err := p.recoverDatetime(context.Background(), index)
	require.NoError(t, err)
	require.Equal(t, hls.TagPullDiscontinuity, recovered.Segments.Items()[0])
	first := recovered.Segments.FirstSegment()
	require.False(t, first.DateTime.IsZero())
	require.False(t, first.DateTime.Before(before.Add(-3*time.Second)))
}

func TestPullerNotifiesMetadataSink(t *testing.T) {
	srv := servePlaylist(func(*http.Request) string { return vodPlaylist })
	defer srv.Close()

	var mu sync.Mutex
	var payloads []map[string]any
	sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
	}))
	defer sink.Close()

	root := t.TempDir()
	p := New(Config{
		URL:            srv.URL + "/index.m3u8",
		Root:           root,
		FeedID:         "feed1",
		Metadata:       map[string]any{"id": "feed1", "title": "Test Feed"},
		NotifyEndpoint: sink.URL,
		Client:         srv.Client(),
	})
	require.NoError(t, p.Run(context.Background(), false))

	require.Len(t, payloads, 1)
	require.Equal(t, "feed1/chunks/2023-01-01/000000.m3u8", payloads[0]["chunk_relative_url"])
	require.Equal(t, "Test Feed", payloads[0]["title"])
	require.Nil(t, payloads[0]["prev_chunk_relative_url"])
}
