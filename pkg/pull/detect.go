package pull

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// ErrNoChange is returned by DetectChange when the playlist body never
// changed within the observation window.
var ErrNoChange = errors.New("unable to detect playlist change")

const detectSleep = 300 * time.Millisecond

// DetectChange polls url until its body changes and estimates the
// wall-clock time of the change from the server Date headers: the
// midpoint between the last unchanged and the first changed response.
// For a live playlist that midpoint is when the newest segment was
// published, which annotates datetime-less streams to within the poll
// cadence. The changed body is returned for the caller to parse.
func DetectChange(ctx context.Context, client *http.Client, url string, targetDuration float64) ([]byte, time.Time, error) {
	slog.Info("guessing live stream datetime from server time", "url", url)
	firstBody, firstHeaders, status, err := fetch(ctx, client, url)
	if err != nil {
		return nil, time.Time{}, err
	}
	if status != http.StatusOK {
		return nil, time.Time{}, fmt.Errorf("HTTP error %d for URL %s", status, url)
	}
	if targetDuration <= 0 {
		targetDuration = 10
	}
	// observe for at most three segment durations
	count := int(targetDuration * 3 / detectSleep.Seconds())
	var secondBody []byte
	var secondHeaders http.Header
	changed := false
	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return nil, time.Time{}, ctx.Err()
		case <-time.After(detectSleep):
		}
		secondBody, secondHeaders, status, err = fetch(ctx, client, url)
		if err != nil {
			return nil, time.Time{}, err
		}
		if status != http.StatusOK {
			return nil, time.Time{}, fmt.Errorf("HTTP error %d for URL %s", status, url)
		}
		if !bytes.Equal(firstBody, secondBody) {
			changed = true
			break
		}
		firstBody, firstHeaders = secondBody, secondHeaders
	}
	if !changed {
		return nil, time.Time{}, ErrNoChange
	}
	firstDT := headerDate(firstHeaders)
	secondDT := headerDate(secondHeaders)
	end := secondDT.Add(-secondDT.Sub(firstDT) / 2)
	slog.Info("using server time for live stream datetime annotation",
		"end", end, "accuracy", detectSleep)
	return secondBody, end, nil
}

func headerDate(h http.Header) time.Time {
	if t, err := http.ParseTime(h.Get("Date")); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
