package app

import (
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
)

// dataFileHandlerFunc serves recorded segment files below a feed root.
func (s *Server) dataFileHandlerFunc(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "feedID")
	rest := chi.URLParam(r, "*")
	if !strings.HasSuffix(rest, "."+s.Cfg.ChunkExtension) {
		http.NotFound(w, r)
		return
	}
	s.serveDataFile(w, r, feedID, rest)
}

func (s *Server) serveDataFile(w http.ResponseWriter, r *http.Request, feedID, rel string) {
	path, ok := safeJoin(s.Cfg.DataDir, feedID+"/"+rel)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		slog.Error("opening data file", "path", path, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	if strings.HasSuffix(rel, ".ts") {
		w.Header().Set("Content-Type", "video/MP2T")
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
