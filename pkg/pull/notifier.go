package pull

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/streamrec/hlschunker/pkg/scheduler"
)

const (
	notifyAttempts    = 10
	defaultRetrySleep = 30 * time.Second
)

// Notifier submits completed-chunk metadata to an HTTP endpoint.
// Submissions are queued through a concurrency-1 scheduler so they
// reach the endpoint one at a time, in chunk completion order, and
// never block the recording pipeline.
type Notifier struct {
	endpoint   string
	metadata   map[string]any
	streamID   string
	client     *http.Client
	sched      *scheduler.Scheduler
	attempts   int
	retrySleep time.Duration
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewNotifier(endpoint string, metadata map[string]any, client *http.Client) *Notifier {
	streamID := ""
	if id, ok := metadata["id"].(string); ok {
		streamID = id
	}
	return &Notifier{
		endpoint:   endpoint,
		metadata:   metadata,
		streamID:   streamID,
		client:     client,
		sched:      scheduler.New(1),
		attempts:   notifyAttempts,
		retrySleep: defaultRetrySleep,
		stop:       make(chan struct{}),
	}
}

// NotifyChunk queues a metadata submission for a completed chunk.
// Relative URLs point at the playlist renditions of the chunk manifests
// under the stream id prefix.
func (n *Notifier) NotifyChunk(chunkPath string, start, end time.Time, prevPath, nextPath string) {
	payload := make(map[string]any, len(n.metadata)+3)
	for k, v := range n.metadata {
		payload[k] = v
	}
	payload["chunk_relative_url"] = n.chunkURL(chunkPath)
	payload["prev_chunk_relative_url"] = nil
	if prevPath != "" {
		payload["prev_chunk_relative_url"] = n.chunkURL(prevPath)
	}
	payload["next_chunk_relative_url"] = nil
	if nextPath != "" {
		payload["next_chunk_relative_url"] = n.chunkURL(nextPath)
	}
	n.sched.Submit(func() { n.send(payload) })
}

func (n *Notifier) chunkURL(chunkPath string) string {
	return path.Join(n.streamID, strings.TrimSuffix(chunkPath, path.Ext(chunkPath))+".m3u8")
}

func (n *Notifier) send(payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Error("cannot encode chunk metadata", "stream", n.streamID, "err", err)
		return
	}
	for i := 0; i < n.attempts; i++ {
		if n.sched.Stopped() {
			return
		}
		status, err := n.post(body)
		if err == nil && (status == http.StatusOK || status == http.StatusCreated) {
			slog.Info("chunk successfully submitted", "stream", n.streamID)
			pipelineMetrics.chunkNotify.WithLabelValues(n.streamID, "ok").Inc()
			return
		}
		if err != nil {
			slog.Error("error submitting chunk, will retry",
				"stream", n.streamID, "err", err, "retryIn", n.retrySleep)
		} else {
			slog.Error("error submitting chunk, will retry",
				"stream", n.streamID, "status", status, "retryIn", n.retrySleep)
		}
		pipelineMetrics.chunkNotify.WithLabelValues(n.streamID, "error").Inc()
		if !sleepOrStop(n.stop, n.retrySleep) {
			return
		}
	}
	slog.Error("giving up submitting chunk", "stream", n.streamID)
}

func (n *Notifier) post(body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.StatusCode, nil
}

// Stop abandons queued submissions and aborts retry sleeps.
func (n *Notifier) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
	n.sched.Stop()
}

// Wait blocks until all queued submissions have been delivered or
// given up on.
func (n *Notifier) Wait() {
	n.sched.Wait()
}
