package pull

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDetectChange(t *testing.T) {
	t0 := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := hits.Add(1)
		if n <= 2 {
			w.Header().Set("Date", t0.Format(http.TimeFormat))
			w.Write([]byte("window A")) //nolint:errcheck
			return
		}
		w.Header().Set("Date", t0.Add(2*time.Second).Format(http.TimeFormat))
		w.Write([]byte("window B")) //nolint:errcheck
	}))
	defer srv.Close()

	body, end, err := DetectChange(context.Background(), srv.Client(), srv.URL, 10)
	require.NoError(t, err)
	require.Equal(t, "window B", string(body))
	// midpoint between the last unchanged and first changed response
	require.True(t, t0.Add(time.Second).Equal(end), "got %v", end)
}

func TestDetectChangeNoChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("static")) //nolint:errcheck
	}))
	defer srv.Close()

	_, _, err := DetectChange(context.Background(), srv.Client(), srv.URL, 0.1)
	require.ErrorIs(t, err, ErrNoChange)
}
