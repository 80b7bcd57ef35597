package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/streamrec/hlschunker/pkg/hls"
	"github.com/streamrec/hlschunker/pkg/manifest"
)

const defaultPollInterval = 5 * time.Second

// Config describes one feed recording pipeline.
type Config struct {
	URL               string
	Root              string
	FeedID            string
	Metadata          map[string]any
	NotifyEndpoint    string
	ChunkDuration     time.Duration
	Ext               string
	ParallelDownloads int
	Client            *http.Client
}

// Puller records one live HLS feed: it polls the source playlist,
// merges each fetch onto the recorded timeline, hands new segments to
// the parallel downloader, and keeps the manifests and chunk lists
// current. A restart resumes from the persisted manifest tail.
type Puller struct {
	cfg      Config
	client   *http.Client
	storage  *manifest.Storage
	store    *SegmentStorage
	notifier *Notifier

	pollInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

func New(cfg Config) *Puller {
	if cfg.Ext == "" {
		cfg.Ext = "ts"
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 5 * time.Minute
	}
	if cfg.ParallelDownloads <= 0 {
		cfg.ParallelDownloads = 4
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	formatter := manifest.NewFormatter(manifest.DefaultPathTemplate, cfg.Ext)
	p := &Puller{
		cfg:          cfg,
		client:       client,
		pollInterval: defaultPollInterval,
		stop:         make(chan struct{}),
	}
	var chunker *manifest.Chunker
	if cfg.NotifyEndpoint != "" {
		p.notifier = NewNotifier(cfg.NotifyEndpoint, cfg.Metadata, client)
		chunker = manifest.NewChunker(cfg.Root, formatter, p.notifier, cfg.ChunkDuration, cfg.FeedID)
	} else {
		chunker = manifest.NewChunker(cfg.Root, formatter, nil, cfg.ChunkDuration, cfg.FeedID)
	}
	p.storage = manifest.NewStorage(cfg.Root, formatter, chunker)
	p.store = NewSegmentStorage(cfg.Root, cfg.FeedID, formatter, p.storage, client, cfg.ParallelDownloads)
	return p
}

// Run pulls the feed until the source ends, an error occurs, or Stop is
// called. With runForever the loop survives iteration errors and keeps
// polling even past an ENDLIST, which some broadcasters emit between
// programmes. Unsupported playlist directives are always fatal.
func (p *Puller) Run(ctx context.Context, runForever bool) error {
	defer p.wait()

	body, _, status, err := fetch(ctx, p.client, p.cfg.URL)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		slog.Warn("HTTP error on initial playlist fetch", "status", status, "url", p.cfg.URL)
		return nil
	}
	base := baseURL(p.cfg.URL)
	index, err := hls.Parse(body, base)
	if err != nil {
		return err
	}
	pipelineMetrics.playlistPolls.WithLabelValues(p.cfg.FeedID).Inc()
	if index.Segments.FirstSegment() == nil {
		slog.Warn("playlist has no segments", "url", p.cfg.URL)
		return nil
	}

	if last := p.storage.LastSegment(); last != nil {
		anchor := &hls.Segment{
			Checksum: last.Checksum,
			Duration: last.Duration,
			DateTime: last.DateTime,
			Sequence: last.Sequence,
		}
		popped := index.Segments.TrimLeft(anchor)
		if popped == 0 && !startsWithSourceDiscontinuity(index.Segments) {
			// the persisted tail and the live window no longer overlap
			if tag, wasTag := p.storage.LastTag(); !wasTag || !(tag == hls.TagPullDiscontinuity || tag.IsEnd()) {
				index.Segments.AppendLeft(hls.TagPullDiscontinuity)
			}
		} else {
			slog.Info("resuming recording", "feed", p.cfg.FeedID, "overlap", popped)
			if err := p.storage.Resume(); err != nil {
				return err
			}
		}
	}

	if !index.Complete {
		if first := index.Segments.FirstSegment(); first != nil && first.DateTime.IsZero() {
			index, err = p.recoverDatetime(ctx, index)
			if err != nil {
				return err
			}
		}
	}

	segments := index.Segments
	if err := p.drain(segments); err != nil {
		return err
	}
	p.pollInterval = pollIntervalFor(index)
	prevSeq := index.Sequence

	liveUpdates := !index.Complete || runForever
	for liveUpdates && !p.stopped() {
		if !p.sleep(ctx, p.pollInterval) {
			break
		}
		err := func() error {
			body, err := p.fetchPlaylist(ctx)
			if err != nil || body == nil {
				return err
			}
			newIndex, err := hls.Parse(body, base)
			if err != nil {
				return err
			}
			pipelineMetrics.playlistPolls.WithLabelValues(p.cfg.FeedID).Inc()
			if newIndex.Sequence < prevSeq || !segments.Extend(newIndex.Segments, false) {
				slog.Info("discontinuity in source playlist", "feed", p.cfg.FeedID, "url", p.cfg.URL)
				recovered, err := p.recoverDatetime(ctx, newIndex)
				if err != nil {
					return err
				}
				// forced merge inserts a SOURCE-DISCONTINUITY when needed
				segments.Extend(recovered.Segments, true)
				newIndex = recovered
			}
			prevSeq = newIndex.Sequence
			if err := p.drain(segments); err != nil {
				return err
			}
			if !runForever {
				liveUpdates = !newIndex.Complete
			}
			return nil
		}()
		if err != nil {
			var unsupported *hls.UnsupportedDirectiveError
			if errors.As(err, &unsupported) || !runForever {
				return err
			}
			slog.Error("pull iteration failed", "feed", p.cfg.FeedID, "err", err)
		}
	}
	return nil
}

// recoverDatetime annotates a datetime-less live playlist by watching
// the source for its next update and back-propagating the observed
// wall-clock time. When the source never changes the current wall
// clock is used instead, which is off by at most the live window, and
// a PULL-DISCONTINUITY marks the guessed timing.
func (p *Puller) recoverDatetime(ctx context.Context, index *hls.Index) (*hls.Index, error) {
	body, end, err := DetectChange(ctx, p.client, p.cfg.URL, index.TargetDuration)
	if errors.Is(err, ErrNoChange) {
		slog.Warn("no playlist change observed, falling back to wall clock", "url", p.cfg.URL)
		index.Segments.ApplyEndDatetime(time.Now().UTC())
		index.Segments.AppendLeft(hls.TagPullDiscontinuity)
		return index, nil
	}
	if err != nil {
		return nil, err
	}
	latest, err := hls.Parse(body, index.Base)
	if err != nil {
		return nil, err
	}
	latest.Segments.ExtendLeft(index.Segments)
	latest.Segments.ApplyEndDatetime(end)
	return latest, nil
}

// fetchPlaylist downloads the playlist with unbounded retries on
// network errors. Returns a nil body when stopped while retrying.
func (p *Puller) fetchPlaylist(ctx context.Context) ([]byte, error) {
	errorSleep := errorSleepStart
	for !p.stopped() {
		body, _, status, err := fetch(ctx, p.client, p.cfg.URL)
		if err == nil {
			if status != http.StatusOK {
				return nil, fmt.Errorf("HTTP error %d for URL %s", status, p.cfg.URL)
			}
			return body, nil
		}
		slog.Info("network error fetching playlist, will retry",
			"feed", p.cfg.FeedID, "err", err, "retryIn", errorSleep)
		if !p.sleep(ctx, errorSleep) {
			break
		}
		if errorSleep < errorSleepMax {
			errorSleep *= 2
		}
	}
	return nil, nil
}

func (p *Puller) drain(segments *hls.SegmentsList) error {
	for segments.Len() > 0 {
		if err := p.store.Store(segments.PopLeft()); err != nil {
			return err
		}
	}
	return nil
}

func (p *Puller) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		p.Stop()
		return false
	case <-p.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (p *Puller) stopped() bool {
	select {
	case <-p.stop:
		return true
	default:
		return false
	}
}

// Stop aborts the pull loop and cancels queued downloads. Running
// downloads finish and are recorded before Run returns.
func (p *Puller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.store.Stop()
	if p.notifier != nil {
		p.notifier.Stop()
	}
}

func (p *Puller) wait() {
	slog.Info("waiting for downloads to complete", "feed", p.cfg.FeedID)
	p.store.Wait()
	if p.notifier != nil {
		p.notifier.Wait()
	}
	if err := p.storage.Close(); err != nil {
		slog.Error("closing manifests", "feed", p.cfg.FeedID, "err", err)
	}
}

// Stats is a point-in-time snapshot of the pipeline.
type Stats struct {
	QueuedDownloads int   `json:"queued_downloads"`
	PendingWrites   int   `json:"pending_writes"`
	NextSequence    int64 `json:"next_sequence"`
}

func (p *Puller) Stats() Stats {
	return Stats{
		QueuedDownloads: p.store.QueueLen(),
		PendingWrites:   p.store.PendingLen(),
		NextSequence:    p.store.Sequence(),
	}
}

func pollIntervalFor(index *hls.Index) time.Duration {
	if index.TargetDuration > 0 {
		return hls.SecondsToDuration(index.TargetDuration / 2)
	}
	if last := index.Segments.LastSegment(); last != nil && last.Duration > 0 {
		return hls.SecondsToDuration(last.Duration / 2)
	}
	return defaultPollInterval
}

func startsWithSourceDiscontinuity(l *hls.SegmentsList) bool {
	items := l.Items()
	if len(items) == 0 {
		return false
	}
	tag, ok := items[0].(hls.Tag)
	return ok && tag == hls.TagSourceDiscontinuity
}

func baseURL(rawURL string) string {
	if i := strings.LastIndexByte(rawURL, '/'); i >= 0 {
		return rawURL[:i+1]
	}
	return rawURL
}
