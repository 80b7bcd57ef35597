// Package pull implements the recording pipeline for one HLS feed:
// playlist polling, parallel segment downloads, ordered manifest
// bookkeeping, and chunk metadata submission.
package pull

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const tsPacketSize = 188

// tsSynced probes the first packets of an MPEG-TS payload for the 0x47
// sync byte at the expected stride.
func tsSynced(data []byte) bool {
	if len(data) < tsPacketSize {
		return false
	}
	for i := 0; i < 3; i++ {
		off := i * tsPacketSize
		if off >= len(data) {
			break
		}
		if data[off] != 0x47 {
			return false
		}
	}
	return true
}

// DownloadToFile fetches url with a GET request and writes the body to
// path, creating parent directories as needed. A non-200 status is
// returned without touching the file. When the local file already has
// exactly Content-Length bytes the write is skipped, so an interrupted
// run can resume without re-downloading.
func DownloadToFile(ctx context.Context, client *http.Client, url, path string) (http.Header, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return resp.Header, resp.StatusCode, nil
	}
	if info, err := os.Stat(path); err == nil && resp.ContentLength >= 0 && info.Size() == resp.ContentLength {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return resp.Header, resp.StatusCode, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Header, resp.StatusCode, err
	}
	if strings.HasSuffix(path, ".ts") && !tsSynced(body) {
		slog.Warn("segment payload fails MPEG-TS sync probe", "url", url, "size", len(body))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return resp.Header, resp.StatusCode, err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return resp.Header, resp.StatusCode, err
	}
	return resp.Header, resp.StatusCode, nil
}

// fetch downloads url into memory.
func fetch(ctx context.Context, client *http.Client, url string) ([]byte, http.Header, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, resp.StatusCode, err
	}
	return body, resp.Header, resp.StatusCode, nil
}

// sleepOrStop sleeps for d, returning false when stop closes first.
func sleepOrStop(stop <-chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}
