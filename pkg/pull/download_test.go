package pull

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func tsPayload(packets int) []byte {
	data := make([]byte, packets*tsPacketSize)
	for i := 0; i < packets; i++ {
		data[i*tsPacketSize] = 0x47
	}
	return data
}

func TestTSSynced(t *testing.T) {
	require.True(t, tsSynced(tsPayload(3)))
	require.True(t, tsSynced(tsPayload(1)))
	require.False(t, tsSynced([]byte("not a transport stream")))

	broken := tsPayload(3)
	broken[tsPacketSize] = 0x00
	require.False(t, tsSynced(broken))
}

func TestDownloadToFile(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte("first version of the segment")) //nolint:errcheck
			return
		}
		// different payload of the same length
		w.Write([]byte("other version, equal length!")) //nolint:errcheck
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "2023-01-01", "00", "0.ts")
	_, status, err := DownloadToFile(context.Background(), srv.Client(), srv.URL+"/0.ts", path)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first version of the segment", string(got))

	// same Content-Length: the local file is kept as is
	_, status, err = DownloadToFile(context.Background(), srv.Client(), srv.URL+"/0.ts", path)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	got, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first version of the segment", string(got))
	require.Equal(t, int64(2), hits.Load())
}

func TestDownloadToFileHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "0.ts")
	_, status, err := DownloadToFile(context.Background(), srv.Client(), srv.URL+"/0.ts", path)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}
