package pull

import (
	"context"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/streamrec/hlschunker/pkg/hls"
	"github.com/streamrec/hlschunker/pkg/manifest"
	"github.com/streamrec/hlschunker/pkg/scheduler"
)

const (
	// pending segments are given up on after this much time
	defaultPendingTimeout = 300 * time.Second
	downloadAttempts      = 10
	errorSleepStart       = 5 * time.Second
	errorSleepMax         = 60 * time.Second
)

// SegmentStorage downloads segments in parallel while keeping the
// recorded manifest strictly ordered: every item is promised into a
// pending FIFO on arrival and only written through once everything
// ahead of it has settled. A segment whose download fails for good is
// recorded as a PULL-ERROR gap instead of a row, so the manifest never
// references a file that is not on disk.
type SegmentStorage struct {
	root       string
	feedID     string
	formatter  *manifest.Formatter
	store      *manifest.Storage
	client     *http.Client
	sched      *scheduler.Scheduler
	timeout    time.Duration
	attempts   int
	retrySleep time.Duration

	mu       sync.Mutex
	pending  []hls.Item
	sequence int64

	stop     chan struct{}
	stopOnce sync.Once
}

func NewSegmentStorage(root, feedID string, formatter *manifest.Formatter, store *manifest.Storage,
	client *http.Client, parallelDownloads int) *SegmentStorage {
	s := &SegmentStorage{
		root:       root,
		feedID:     feedID,
		formatter:  formatter,
		store:      store,
		client:     client,
		sched:      scheduler.New(parallelDownloads),
		timeout:    defaultPendingTimeout,
		attempts:   downloadAttempts,
		retrySleep: errorSleepStart,
		stop:       make(chan struct{}),
	}
	if last := store.LastSegment(); last != nil {
		s.sequence = last.Sequence + 1
	}
	return s
}

// Store promises item into the ordered pending queue. Segments get the
// next storage sequence number and a download job; tags settle as soon
// as everything before them has.
func (s *SegmentStorage) Store(item hls.Item) error {
	seg, isSegment := item.(*hls.Segment)
	s.mu.Lock()
	if isSegment {
		seg.Status = hls.StatusPending
		seg.Deadline = time.Now().Add(s.timeout)
		seg.Sequence = s.sequence
		s.sequence++
	}
	s.pending = append(s.pending, item)
	err := s.flushLocked()
	s.mu.Unlock()
	if isSegment {
		if seg.DateTime.IsZero() {
			slog.Error("segment has no datetime, cancelling", "feed", s.feedID, "url", seg.URL)
			s.cancel(seg)
		} else {
			s.sched.Submit(func() { s.download(seg) })
		}
	}
	return err
}

func (s *SegmentStorage) download(seg *hls.Segment) {
	relPath, err := s.formatter.Path(seg)
	if err != nil {
		slog.Error("cannot derive segment path", "feed", s.feedID, "url", seg.URL, "err", err)
		s.cancel(seg)
		return
	}
	path := filepath.Join(s.root, relPath)
	errorSleep := s.retrySleep
	for i := 0; i < s.attempts; i++ {
		if s.sched.Stopped() {
			break
		}
		_, status, err := DownloadToFile(context.Background(), s.client, seg.URL, path)
		if err == nil && status == http.StatusOK {
			slog.Debug("segment downloaded", "feed", s.feedID, "path", relPath)
			s.done(seg)
			return
		}
		if err != nil {
			slog.Info("segment download network error, will retry",
				"feed", s.feedID, "url", seg.URL, "err", err, "retryIn", errorSleep)
		} else {
			slog.Info("segment download HTTP error, will retry",
				"feed", s.feedID, "url", seg.URL, "status", status, "retryIn", errorSleep)
		}
		if !sleepOrStop(s.stop, errorSleep) {
			break
		}
		if errorSleep < errorSleepMax {
			errorSleep *= 2
		}
	}
	slog.Warn("giving up on segment", "feed", s.feedID, "url", seg.URL)
	s.cancel(seg)
}

func (s *SegmentStorage) done(seg *hls.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg.Status = hls.StatusDone
	if err := s.flushLocked(); err != nil {
		slog.Error("manifest flush failed", "feed", s.feedID, "err", err)
	}
}

func (s *SegmentStorage) cancel(seg *hls.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg.Status = hls.StatusCancelled
	if err := s.flushLocked(); err != nil {
		slog.Error("manifest flush failed", "feed", s.feedID, "err", err)
	}
}

// flushLocked pops and records settled items from the head of the
// pending queue. A still-pending segment blocks the queue until it
// settles or its deadline passes, at which point it is cancelled.
func (s *SegmentStorage) flushLocked() error {
	now := time.Now()
	for len(s.pending) > 0 {
		head := s.pending[0]
		if seg, ok := head.(*hls.Segment); ok && seg.Status == hls.StatusPending {
			if seg.Deadline.After(now) {
				return nil
			}
			slog.Warn("pending segment timed out, cancelling", "feed", s.feedID, "url", seg.URL)
			seg.Status = hls.StatusCancelled
		}
		s.pending = s.pending[1:]
		if err := s.writeOut(head); err != nil {
			return err
		}
	}
	return nil
}

func (s *SegmentStorage) writeOut(item hls.Item) error {
	if seg, ok := item.(*hls.Segment); ok {
		if seg.Status == hls.StatusCancelled {
			pipelineMetrics.segmentsStored.WithLabelValues(s.feedID, "cancelled").Inc()
			// a discontinuity stands in for the lost segment
			item = hls.TagPullError
		} else {
			pipelineMetrics.segmentsStored.WithLabelValues(s.feedID, "done").Inc()
		}
	}
	if tag, ok := item.(hls.Tag); ok {
		pipelineMetrics.manifestTags.WithLabelValues(s.feedID, tag.String()).Inc()
	}
	return s.store.Write(item)
}

// Stop cancels queued downloads and aborts retry sleeps. Running
// downloads finish on their own.
func (s *SegmentStorage) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.sched.Stop()
}

// Wait blocks until in-flight downloads settle, then flushes the
// queue. Segments that never completed are recorded as PULL-ERROR.
func (s *SegmentStorage) Wait() {
	s.sched.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.pending {
		if seg, ok := item.(*hls.Segment); ok && seg.Status == hls.StatusPending {
			seg.Status = hls.StatusCancelled
		}
	}
	if err := s.flushLocked(); err != nil {
		slog.Error("manifest flush failed", "feed", s.feedID, "err", err)
	}
}

// QueueLen is the number of downloads queued or running.
func (s *SegmentStorage) QueueLen() int {
	return s.sched.Len()
}

// PendingLen is the number of items promised but not yet recorded.
func (s *SegmentStorage) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Sequence is the next storage sequence number to be assigned.
func (s *SegmentStorage) Sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequence
}
