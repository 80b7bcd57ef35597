package manifest

import (
	"log/slog"
)

const (
	chunkDirname      = "chunks"
	chunkListFilename = "chunks.yaml"
)

// ChunkAction is one entry of the chunk action log: chunks alternate a
// start action and an end action sharing the same sequence number.
type ChunkAction struct {
	Action   string // "start" or "end"
	Sequence int64
	DateTime string // canonical manifest datetime
	Path     string
}

// ChunkList appends chunk actions to chunks/chunks.yaml and recovers
// the last action (and the previous chunk's end) from the file tail.
type ChunkList struct {
	w            *FileWriter
	streamID     string
	lastAction   *ChunkAction
	prevChunkEnd *ChunkAction
}

func NewChunkList(root, streamID string) *ChunkList {
	c := &ChunkList{
		w:        NewFileWriter(root, chunkDirname, chunkListFilename),
		streamID: streamID,
	}
	c.load()
	return c
}

func chunkActionFromAny(row []any) (*ChunkAction, bool) {
	if len(row) < 4 {
		return nil, false
	}
	action, ok1 := row[0].(string)
	seq, ok2 := row[1].(float64)
	dt, ok3 := row[2].(string)
	p, ok4 := row[3].(string)
	if !(ok1 && ok2 && ok3 && ok4) {
		return nil, false
	}
	return &ChunkAction{Action: action, Sequence: int64(seq), DateTime: dt, Path: p}, true
}

func (c *ChunkList) load() {
	lines, err := TailLines(c.w.FullPath(), tailRecoverLines)
	if err != nil {
		slog.Error("cannot recover chunk list tail", "path", c.w.FullPath(), "err", err)
	}
	for _, line := range lines {
		v, ok := ParseLine(line)
		if !ok {
			continue
		}
		row, ok := v.([]any)
		if !ok {
			continue
		}
		action, ok := chunkActionFromAny(row)
		if !ok {
			continue
		}
		if c.lastAction == nil {
			c.lastAction = action
			continue
		}
		if action.Action == "end" {
			c.prevChunkEnd = action
			break
		}
	}
}

// LastAction is the most recent chunk action, nil when the log is empty.
func (c *ChunkList) LastAction() *ChunkAction {
	return c.lastAction
}

// PrevChunkEnd is the end action of the chunk before the current one.
func (c *ChunkList) PrevChunkEnd() *ChunkAction {
	return c.prevChunkEnd
}

// Write appends a chunk action. A start action reuses the sequence of
// an unterminated previous start; an action after an end increments it.
func (c *ChunkList) Write(action, dateTime, chunkPath string) (*ChunkAction, error) {
	var sequence int64
	if c.lastAction != nil {
		sequence = c.lastAction.Sequence
		if c.lastAction.Action == "end" {
			sequence++
		}
	}
	entry := &ChunkAction{Action: action, Sequence: sequence, DateTime: dateTime, Path: chunkPath}
	slog.Info("registering chunk action", "stream", c.streamID,
		"action", action, "sequence", sequence, "datetime", dateTime, "path", chunkPath)
	if err := c.w.WriteRecord([]any{action, sequence, dateTime, chunkPath}); err != nil {
		return nil, err
	}
	if c.lastAction != nil && c.lastAction.Action == "end" {
		c.prevChunkEnd = c.lastAction
	}
	c.lastAction = entry
	return entry, nil
}

func (c *ChunkList) Close() error {
	return c.w.Close()
}
