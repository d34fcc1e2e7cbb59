// Package handlers implements C7, the server's REST surface over a rooted
// directory tree: GET /list/<p>, GET/PUT/DELETE/PATCH /files/<p>, POST
// /mkdir/<p>, and the GET /ws upgrade to the change-event broadcast of C8.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/driftfs/driftfs/common"
	"github.com/driftfs/driftfs/internal/server/recentmods"
	"github.com/driftfs/driftfs/internal/server/watcher"
	"github.com/driftfs/driftfs/internal/wire"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const clientIDHeader = "X-Client-ID"

// streamChunkSize names the 1 MiB per-request copy-buffer ceiling (spec.md
// §4.7). The handlers do not reference it; the bound on a request's buffer
// comes from common.CopyWhole, which caps its own buffer at 1 MiB.
const streamChunkSize = 1 << 20

// Server holds the handlers' shared state: the served root, the recent-mods
// map C8's watcher consults, and the broadcaster backing /ws.
type Server struct {
	root  string
	mods  *recentmods.Map
	bcast *watcher.Broadcaster
	log   *slog.Logger
	up    websocket.Upgrader
}

// New builds a Server rooted at root.
func New(root string, mods *recentmods.Map, bcast *watcher.Broadcaster, log *slog.Logger) *Server {
	return &Server{
		root:  root,
		mods:  mods,
		bcast: bcast,
		log:   log,
		up:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Router assembles the gorilla/mux route table for this server.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/list/{path:.*}", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/list", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/files/{path:.*}", s.handleGetFile).Methods(http.MethodGet)
	r.HandleFunc("/files/{path:.*}", s.handlePutFile).Methods(http.MethodPut)
	r.HandleFunc("/files/{path:.*}", s.handleDeleteFile).Methods(http.MethodDelete)
	r.HandleFunc("/files/{path:.*}", s.handleChmod).Methods(http.MethodPatch)
	r.HandleFunc("/mkdir/{path:.*}", s.handleMkdir).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

// resolve validates the requested path against root and returns both the
// cleaned relative form (used as the wire/recent-mods key) and the absolute
// filesystem path. Paths that escape root via ".." are rejected.
func (s *Server) resolve(raw string) (rel, abs string, err error) {
	rel = strings.Trim(filepath.ToSlash(filepath.Clean(raw)), "/")
	if rel == "." {
		rel = ""
	}
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", "", errors.New("path escapes root")
	}
	abs = filepath.Join(s.root, rel)
	return rel, abs, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	_, abs, err := s.resolve(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ents, err := os.ReadDir(abs)
	if err != nil {
		s.notFoundOrError(w, err)
		return
	}

	out := make([]wire.Entry, 0, len(ents))
	for _, e := range ents {
		info, err := e.Info()
		if err != nil {
			continue
		}
		kind := wire.KindFile
		if e.IsDir() {
			kind = wire.KindDir
		}
		out = append(out, wire.Entry{
			Name:  e.Name(),
			Kind:  kind,
			Size:  uint64(info.Size()),
			Mode:  uint32(info.Mode().Perm()),
			Mtime: uint64(info.ModTime().Unix()),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	_, abs, err := s.resolve(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f, err := os.Open(abs)
	if err != nil {
		s.notFoundOrError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	size := info.Size()

	start, end, ranged, ok := parseRange(r.Header.Get("Range"), size)
	if ranged && !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if !ranged {
		start, end = 0, size-1
		if size == 0 {
			end = -1
		}
	}

	length := end - start + 1
	if length < 0 {
		length = 0
	}

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch {
	case length == 0:
		// offset == size: satisfiable, but there is nothing to express as
		// a byte range, so skip Content-Range rather than emit one RFC
		// 7233 forbids (last-byte-pos < first-byte-pos).
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
		return
	case ranged:
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.WriteHeader(http.StatusPartialContent)
	default:
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusOK)
	}
	if _, err := common.CopyWhole(w, f, length); err != nil && !errors.Is(err, io.EOF) {
		s.log.Warn("stream file", "path", abs, "err", err)
	}
}

// parseRange decodes a "bytes=a-b" / "bytes=a-" header. ranged reports
// whether a Range header was present at all; ok reports whether it is
// satisfiable against size (false ⇒ caller must respond 416).
func parseRange(header string, size int64) (start, end int64, ranged, ok bool) {
	if header == "" {
		return 0, 0, false, true
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, true, false
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, true, false
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start > size {
		return 0, 0, true, false
	}

	if parts[1] == "" {
		// Open-ended range: offset == size is a satisfiable zero-length
		// read, not unsatisfiable — only offset > size is (rejected
		// above). offset > size is excluded above by start > size.
		if start == size {
			return start, start - 1, true, true
		}
		return start, size - 1, true, true
	}

	// Closed a-b form has no byte at offset == size either.
	if start >= size {
		return 0, 0, true, false
	}
	end, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil || end < start {
		return 0, 0, true, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true, true
}

func (s *Server) handlePutFile(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		http.Error(w, "missing "+clientIDHeader, http.StatusBadRequest)
		return
	}

	rel, abs, err := s.resolve(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".driftfs-tmp-*")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	length := r.ContentLength
	if length < 0 {
		length = 1 << 40 // unknown length; CopyWhole's limit is advisory for chunked bodies
	}
	if _, err := common.CopyWhole(tmp, r.Body, length); err != nil && !errors.Is(err, io.EOF) {
		tmp.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := tmp.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := os.Rename(tmpName, abs); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mods.Mark(rel, clientID, watcher.AttributionTTL, time.Now())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		http.Error(w, "missing "+clientIDHeader, http.StatusBadRequest)
		return
	}

	rel, abs, err := s.resolve(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := os.RemoveAll(abs); err != nil {
		s.notFoundOrError(w, err)
		return
	}

	s.mods.Mark(rel, clientID, watcher.AttributionTTL, time.Now())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		http.Error(w, "missing "+clientIDHeader, http.StatusBadRequest)
		return
	}

	rel, abs, err := s.resolve(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.mods.Mark(rel, clientID, watcher.AttributionTTL, time.Now())
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleChmod(w http.ResponseWriter, r *http.Request) {
	clientID := r.Header.Get(clientIDHeader)
	if clientID == "" {
		http.Error(w, "missing "+clientIDHeader, http.StatusBadRequest)
		return
	}

	rel, abs, err := s.resolve(mux.Vars(r)["path"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var body wire.ChmodBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid chmod body", http.StatusBadRequest)
		return
	}
	perm, err := wire.ParsePerm(body.Perm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := os.Chmod(abs, os.FileMode(perm)); err != nil {
		s.notFoundOrError(w, err)
		return
	}

	s.mods.Mark(rel, clientID, watcher.AttributionTTL, time.Now())
	w.WriteHeader(http.StatusOK)
}

// handleWebSocket upgrades the connection and relays every broadcast
// message to the client until it disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.up.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	id, ch := s.bcast.Subscribe()
	defer s.bcast.Unsubscribe(id)

	// Drain client-initiated frames on a separate goroutine purely to
	// detect disconnects; driftfs's protocol is server-to-client only.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
	}
}

func (s *Server) notFoundOrError(w http.ResponseWriter, err error) {
	if errors.Is(err, os.ErrNotExist) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, os.ErrPermission) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
