package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driftfs/driftfs/internal/server/recentmods"
	"github.com/driftfs/driftfs/internal/server/watcher"
	"github.com/driftfs/driftfs/internal/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string, *httptest.Server) {
	root := t.TempDir()
	s := New(root, recentmods.New(), watcher.NewBroadcaster(), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, root, ts
}

func TestHandleList_ReturnsSortedEntries(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "a"), 0o755))

	resp, err := http.Get(ts.URL + "/list/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []wire.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, wire.KindDir, entries[0].Kind)
	assert.Equal(t, "b.txt", entries[1].Name)
	assert.Equal(t, wire.KindFile, entries[1].Kind)
}

func TestHandleList_MissingDirectoryReturns404(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/list/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleGetFile_NoRangeReturnsWholeBody(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello world"), 0o644))

	resp, err := http.Get(ts.URL + "/files/f.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello world", string(body))
}

func TestHandleGetFile_ValidRangeReturns206(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("hello world"), 0o644))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/files/f.txt", nil)
	req.Header.Set("Range", "bytes=0-4")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 0-4/11", resp.Header.Get("Content-Range"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "hello", string(body))
}

func TestHandleGetFile_OffsetAtSizeReturnsZeroBytes(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("abc"), 0o644))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/files/f.txt", nil)
	req.Header.Set("Range", "bytes=3-")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestHandleGetFile_OffsetPastSizeReturns416(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("abc"), 0o644))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/files/f.txt", nil)
	req.Header.Set("Range", "bytes=4-")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestHandleGetFile_ClosedRangeAtSizeReturns416(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("abc"), 0o644))

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/files/f.txt", nil)
	req.Header.Set("Range", "bytes=3-5")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
}

func TestHandleGetFile_EmptyFileWholeBodyIsZeroBytes(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "empty.txt"), nil, 0o644))

	resp, err := http.Get(ts.URL + "/files/empty.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)
}

func TestHandlePutFile_AtomicallyReplacesContent(t *testing.T) {
	_, root, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/files/new.txt", io.NopCloser(strings.NewReader("payload")))
	req.Header.Set("X-Client-ID", "c1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := os.ReadFile(filepath.Join(root, "new.txt"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestHandlePutFile_MissingClientIDReturns400(t *testing.T) {
	_, _, ts := newTestServer(t)
	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/files/new.txt", io.NopCloser(strings.NewReader("x")))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlePutFile_MarksRecentModsForWatcher(t *testing.T) {
	s, _, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPut, ts.URL+"/files/f.txt", io.NopCloser(strings.NewReader("x")))
	req.Header.Set("X-Client-ID", "c1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	got := s.mods.ConsumeOnFire("f.txt", time.Now())
	assert.Equal(t, "c1", got)
}

func TestHandleDeleteFile_RemovesDirectoryRecursively(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "d", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "d", "sub", "f.txt"), []byte("x"), 0o644))

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/files/d", nil)
	req.Header.Set("X-Client-ID", "c1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err = os.Stat(filepath.Join(root, "d"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleMkdir_CreatesIntermediateParentsAndIsIdempotent(t *testing.T) {
	_, root, ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mkdir/a/b/c", nil)
		req.Header.Set("X-Client-ID", "c1")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}

	info, err := os.Stat(filepath.Join(root, "a", "b", "c"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestHandleChmod_SetsPermissionBits(t *testing.T) {
	_, root, ts := newTestServer(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o644))

	body, _ := json.Marshal(wire.ChmodBody{Perm: "600"})
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/files/f.txt", io.NopCloser(strings.NewReader(string(body))))
	req.Header.Set("X-Client-ID", "c1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	info, err := os.Stat(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestHandleWebSocket_RelaysBroadcastMessages(t *testing.T) {
	s, _, ts := newTestServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the handler a moment to subscribe before publishing.
	time.Sleep(20 * time.Millisecond)
	s.bcast.Publish(wire.FormatChangeEvent("x.txt", "c1"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "CHANGE:x.txt|BY:c1", string(msg))
}

func TestResolve_RejectsPathEscape(t *testing.T) {
	s, _, _ := newTestServer(t)
	_, _, err := s.resolve("../../etc/passwd")
	assert.Error(t, err)
}

