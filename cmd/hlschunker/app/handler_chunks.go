package app

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/streamrec/hlschunker/pkg/hls"
	"github.com/streamrec/hlschunker/pkg/manifest"
)

// chunkHandlerFunc renders a recorded chunk manifest as a complete M3U8
// media playlist. With relative segment addressing the playlist's
// segment URIs resolve back into this handler's subtree, so the first
// path component (the chunk's date directory) is dropped before looking
// the segment up under the feed root.
func (s *Server) chunkHandlerFunc(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	rest := chi.URLParam(r, "*")
	switch {
	case strings.HasSuffix(rest, ".m3u8"):
		s.serveChunkPlaylist(w, r, feedID, rest)
	case strings.HasSuffix(rest, "."+s.Cfg.ChunkExtension):
		_, segPath, ok := strings.Cut(rest, "/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		s.serveDataFile(w, r, feedID, segPath)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveChunkPlaylist(w http.ResponseWriter, r *http.Request, feedID, rest string) {
	chunkRoot := filepath.Join(s.Cfg.DataDir, feedID, "chunks")
	yamlPath, ok := safeJoin(chunkRoot, strings.TrimSuffix(rest, ".m3u8")+".yaml")
	if !ok {
		http.NotFound(w, r)
		return
	}
	slog.Debug("generating chunk playlist", "feed", feedID, "chunk", rest)
	segments, err := manifest.ReadChunkSegments(yamlPath)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		slog.Error("reading chunk manifest", "path", yamlPath, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	entries := make([]hls.PlaylistEntry, 0, len(segments))
	for _, seg := range segments {
		entries = append(entries, hls.PlaylistEntry{
			Sequence: seg.Sequence,
			Duration: seg.Duration,
			URI:      seg.Path,
		})
	}
	body := hls.SegmentsToIndex(entries, s.playlistBase(feedID), true)
	w.Header().Set("Content-Type", "application/x-mpegURL")
	if _, err := w.Write([]byte(body)); err != nil {
		slog.Error("could not write playlist response", "err", err)
	}
}

// playlistBase is the base the generated playlist's segment URIs are
// resolved against: the feed's own root path prefix with full path
// addressing, the configured prefix (possibly empty, meaning relative
// addressing) otherwise.
func (s *Server) playlistBase(feedID string) string {
	if s.Cfg.FullPath {
		return hls.ResolveURL(s.Cfg.Prefix, "/"+feedID+"/")
	}
	return s.Cfg.Prefix
}

// safeJoin joins rel below root, refusing paths that escape it.
func safeJoin(root, rel string) (string, bool) {
	p := filepath.Clean(filepath.Join(root, rel))
	if p != filepath.Clean(root) && !strings.HasPrefix(p, filepath.Clean(root)+string(os.PathSeparator)) {
		return "", false
	}
	return p, true
}
