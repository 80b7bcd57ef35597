package pull

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNotifierPayload(t *testing.T) {
	var mu sync.Mutex
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		mu.Lock()
		payloads = append(payloads, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, map[string]any{"id": "feed1", "title": "Evening News"}, srv.Client())
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	n.NotifyChunk("chunks/2023-01-01/000000.yaml", start, start.Add(5*time.Minute),
		"", "chunks/2023-01-01/000500.yaml")
	n.Wait()

	require.Len(t, payloads, 1)
	p := payloads[0]
	require.Equal(t, "feed1", p["id"])
	require.Equal(t, "Evening News", p["title"])
	require.Equal(t, "feed1/chunks/2023-01-01/000000.m3u8", p["chunk_relative_url"])
	require.Nil(t, p["prev_chunk_relative_url"])
	require.Equal(t, "feed1/chunks/2023-01-01/000500.m3u8", p["next_chunk_relative_url"])
}

func TestNotifierGivesUpAfterRetries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, map[string]any{"id": "feed1"}, srv.Client())
	n.retrySleep = time.Millisecond
	n.NotifyChunk("chunks/2023-01-01/000000.yaml", time.Time{}, time.Time{}, "", "")
	n.Wait()
	require.Equal(t, int64(10), hits.Load())
}

func TestNotifierSubmitsInOrder(t *testing.T) {
	var mu sync.Mutex
	var urls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		mu.Lock()
		urls = append(urls, payload["chunk_relative_url"].(string))
		mu.Unlock()
	}))
	defer srv.Close()

	n := NewNotifier(srv.URL, map[string]any{"id": "feed1"}, srv.Client())
	n.NotifyChunk("chunks/a.yaml", time.Time{}, time.Time{}, "", "")
	n.NotifyChunk("chunks/b.yaml", time.Time{}, time.Time{}, "", "")
	n.NotifyChunk("chunks/c.yaml", time.Time{}, time.Time{}, "", "")
	n.Wait()
	require.Equal(t, []string{"feed1/chunks/a.m3u8", "feed1/chunks/b.m3u8", "feed1/chunks/c.m3u8"}, urls)
}
