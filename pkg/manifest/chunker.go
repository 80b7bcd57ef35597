package manifest

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/streamrec/hlschunker/pkg/hls"
)

// ChunkPathTemplate names per-chunk segment lists by chunk start time.
const ChunkPathTemplate = "chunks/2006-01-02/150405.yaml"

// ChunkNotifier receives completed-chunk notifications. nextPath is the
// projected path of the chunk starting at the completed chunk's end.
type ChunkNotifier interface {
	NotifyChunk(chunkPath string, start, end time.Time, prevPath, nextPath string)
}

// ChunkSegment is one row of a per-chunk segment list.
type ChunkSegment struct {
	Sequence int64
	Duration float64
	DateTime time.Time
	Path     string
}

// Chunker groups the recorded segment stream into chunks of at least
// minDuration wall-clock time, writing one segment list per chunk plus
// the chunk action log, and notifying when a chunk completes. An
// unterminated chunk found in the action log on startup is reopened.
type Chunker struct {
	formatter    *Formatter
	notifier     ChunkNotifier
	minDuration  time.Duration
	list         *ChunkList
	chunk        *FileWriter
	start        time.Time
	projectedEnd time.Time
	lastItem     *ChunkSegment
}

func NewChunker(root string, formatter *Formatter, notifier ChunkNotifier, minDuration time.Duration, streamID string) *Chunker {
	c := &Chunker{
		formatter:   formatter,
		notifier:    notifier,
		minDuration: minDuration,
		list:        NewChunkList(root, streamID),
		chunk:       NewFileWriter(root, "", ""),
	}
	if la := c.list.LastAction(); la != nil && la.Action == "start" {
		c.chunk.SetPath(la.Path)
		if start, ok := ParseDateTime(la.DateTime); ok {
			c.start = start
			c.projectedEnd = start.Add(minDuration)
		}
	}
	return c
}

func chunkSegmentFromAny(row []any) (*ChunkSegment, bool) {
	if len(row) < 4 {
		return nil, false
	}
	seq, ok1 := row[0].(float64)
	duration, ok2 := row[1].(float64)
	dtStr, ok3 := row[2].(string)
	p, ok4 := row[3].(string)
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil, false
	}
	dt, _ := ParseDateTime(dtStr)
	return &ChunkSegment{Sequence: int64(seq), Duration: duration, DateTime: dt, Path: p}, true
}

// last returns the most recent row of the open chunk file, reading the
// file tail when the chunker has not written anything itself yet.
func (c *Chunker) last() *ChunkSegment {
	if c.lastItem != nil {
		return c.lastItem
	}
	lines, err := TailLines(c.chunk.FullPath(), tailRecoverLines)
	if err != nil {
		slog.Error("cannot recover chunk tail", "path", c.chunk.FullPath(), "err", err)
	}
	for _, line := range lines {
		v, ok := ParseLine(line)
		if !ok {
			continue
		}
		if row, ok := v.([]any); ok {
			if cs, ok := chunkSegmentFromAny(row); ok {
				c.lastItem = cs
				return cs
			}
		}
	}
	return nil
}

func (c *Chunker) notify(start, end time.Time, chunkPath string) {
	if c.notifier == nil {
		return
	}
	prevPath := ""
	if pe := c.list.PrevChunkEnd(); pe != nil {
		prevPath = pe.Path
	}
	nextPath := end.UTC().Format(ChunkPathTemplate)
	c.notifier.NotifyChunk(chunkPath, start, end, prevPath, nextPath)
}

// closeChunk ends the open chunk at end and notifies.
func (c *Chunker) closeChunk(end time.Time) error {
	chunkPath := c.chunk.Path()
	c.chunk.Close()
	if _, err := c.list.Write("end", FormatDateTime(end), chunkPath); err != nil {
		return err
	}
	c.notify(c.start, end, chunkPath)
	c.start = time.Time{}
	c.projectedEnd = time.Time{}
	return nil
}

// End finishes the open chunk, if any, using the end of its last
// recorded segment. Called when the stream ends or breaks.
func (c *Chunker) End() error {
	if c.start.IsZero() {
		return nil
	}
	end := c.start
	if li := c.last(); li != nil && !li.DateTime.IsZero() {
		end = li.DateTime.Add(hls.SecondsToDuration(li.Duration))
	}
	return c.closeChunk(end)
}

// Write records seg into the current chunk, opening and closing chunks
// at minDuration boundaries.
func (c *Chunker) Write(seg *hls.Segment) error {
	if c.start.IsZero() || (!c.projectedEnd.IsZero() && !c.projectedEnd.After(seg.DateTime)) {
		if !c.start.IsZero() {
			// segments skipped past the projected end; close the open
			// chunk before starting the next one
			end := c.start
			if li := c.last(); li != nil && !li.DateTime.IsZero() {
				end = li.DateTime.Add(hls.SecondsToDuration(li.Duration))
			}
			if err := c.closeChunk(end); err != nil {
				return err
			}
		}
		c.start = seg.DateTime
		c.projectedEnd = c.start.Add(c.minDuration)
		c.chunk.SetPath(c.start.UTC().Format(ChunkPathTemplate))
		if _, err := c.list.Write("start", FormatDateTime(c.start), c.chunk.Path()); err != nil {
			return err
		}
	}
	p, err := c.formatter.Path(seg)
	if err != nil {
		return err
	}
	if err := c.chunk.WriteRecord([]any{seg.Sequence, seg.Duration, FormatDateTime(seg.DateTime), p}); err != nil {
		return err
	}
	c.lastItem = &ChunkSegment{Sequence: seg.Sequence, Duration: seg.Duration, DateTime: seg.DateTime.UTC(), Path: p}
	itemEnd := seg.DateTime.Add(hls.SecondsToDuration(seg.Duration))
	if !c.projectedEnd.IsZero() && !c.projectedEnd.After(itemEnd) {
		return c.closeChunk(itemEnd)
	}
	return nil
}

func (c *Chunker) Close() error {
	err := c.chunk.Close()
	if err2 := c.list.Close(); err == nil {
		err = err2
	}
	return err
}

// ReadChunkSegments reads a whole per-chunk segment list. A missing
// file returns os.ErrNotExist.
func ReadChunkSegments(path string) ([]ChunkSegment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var segments []ChunkSegment
	for _, line := range strings.Split(string(data), "\n") {
		v, ok := ParseLine(line)
		if !ok {
			continue
		}
		row, ok := v.([]any)
		if !ok {
			continue
		}
		if cs, ok := chunkSegmentFromAny(row); ok {
			segments = append(segments, *cs)
		}
	}
	return segments, nil
}
