// Package wire defines the data that travels between the driftfs client and
// server: directory-listing entries, the chmod body, and the WebSocket
// change-event text frame.
package wire

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the entry type carried on the wire; it mirrors the two kinds the
// registry understands.
type Kind string

const (
	KindFile Kind = "file"
	KindDir  Kind = "dir"
)

// Entry is a single row of a directory listing, as returned by GET
// /list/<path> and consumed by the VFS dispatch layer to populate the
// path/inode registry and attribute cache in one round trip.
type Entry struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	Size  uint64 `json:"size"`
	Mode  uint32 `json:"mode"`
	Mtime uint64 `json:"mtime"`
}

// ChmodBody is the PATCH /files/<path> request payload. Perm is an octal
// string ("755"), matching the wire contract in spec.md §6 and the
// RemoteEntry.perm convention observed in the original implementation.
type ChmodBody struct {
	Perm string `json:"perm"`
}

// ParsePerm decodes an octal permission string into the low 9 mode bits.
func ParsePerm(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid perm %q: %w", s, err)
	}
	return uint32(v) & 0o777, nil
}

// FormatPerm encodes the low 9 mode bits as a zero-padded octal string.
func FormatPerm(mode uint32) string {
	return fmt.Sprintf("%03o", mode&0o777)
}

const (
	changePrefix = "CHANGE:"
	byMarker     = "|BY:"
	// UnknownClientID is substituted by the server when a watcher fire
	// cannot be attributed to any pending mutation.
	UnknownClientID = "unknown"
)

// ChangeEvent is the decoded form of a WebSocket text frame:
// "CHANGE:<path>|BY:<client-id>".
type ChangeEvent struct {
	Path     string
	ClientID string
}

// FormatChangeEvent encodes a ChangeEvent back into its wire text form.
func FormatChangeEvent(path, clientID string) string {
	if clientID == "" {
		clientID = UnknownClientID
	}
	return changePrefix + path + byMarker + clientID
}

// ParseChangeEvent decodes a wire text frame. Frames that do not match the
// "CHANGE:<path>|BY:<id>" shape are rejected so the caller can log and
// discard them, per spec.md §4.6 ("unparseable frames are logged and
// discarded").
func ParseChangeEvent(frame string) (ChangeEvent, error) {
	if !strings.HasPrefix(frame, changePrefix) {
		return ChangeEvent{}, fmt.Errorf("not a change event: %q", frame)
	}
	rest := frame[len(changePrefix):]
	idx := strings.LastIndex(rest, byMarker)
	if idx < 0 {
		return ChangeEvent{}, fmt.Errorf("missing %q marker: %q", byMarker, frame)
	}
	path := rest[:idx]
	id := rest[idx+len(byMarker):]
	if id == "" {
		return ChangeEvent{}, fmt.Errorf("empty client id: %q", frame)
	}
	return ChangeEvent{Path: path, ClientID: id}, nil
}
