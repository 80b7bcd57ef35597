package pull

import (
	"github.com/prometheus/client_golang/prometheus"
)

var pipelineMetrics struct {
	playlistPolls  *prometheus.CounterVec
	segmentsStored *prometheus.CounterVec
	manifestTags   *prometheus.CounterVec
	chunkNotify    *prometheus.CounterVec
}

const (
	playlistPollsName  = "playlist_polls_total"
	segmentsStoredName = "segments_stored_total"
	manifestTagsName   = "manifest_tags_total"
	chunkNotifyName    = "chunk_notify_attempts_total"
	service            = "hlschunker"
)

func init() {
	pipelineMetrics.playlistPolls = newPipelineCounter(playlistPollsName,
		"Number of source playlist fetches processed, partitioned by feed.", []string{"feed"})
	pipelineMetrics.segmentsStored = newPipelineCounter(segmentsStoredName,
		"Number of segments recorded in the manifest, partitioned by feed and outcome.", []string{"feed", "outcome"})
	pipelineMetrics.manifestTags = newPipelineCounter(manifestTagsName,
		"Number of control tags written to the manifest, partitioned by feed and tag.", []string{"feed", "tag"})
	pipelineMetrics.chunkNotify = newPipelineCounter(chunkNotifyName,
		"Number of chunk metadata submissions, partitioned by stream and outcome.", []string{"stream", "outcome"})
}

func newPipelineCounter(counterName, help string, labels []string) *prometheus.CounterVec {
	cv := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        counterName,
			Help:        help,
			ConstLabels: prometheus.Labels{"service": service},
		},
		labels,
	)
	prometheus.MustRegister(cv)
	return cv
}
