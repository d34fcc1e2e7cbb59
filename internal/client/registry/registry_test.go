package registry

import (
	"testing"

	"github.com/driftfs/driftfs/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoot(t *testing.T) {
	r := New()
	path, ok := r.PathOf(RootInode)
	require.True(t, ok)
	assert.Equal(t, "", path)
}

func TestLookupOrInsert_ReturnsSameInodeForSamePath(t *testing.T) {
	r := New()
	a := r.LookupOrInsert("dir/a", wire.KindFile)
	b := r.LookupOrInsert("dir/a", wire.KindFile)
	assert.Equal(t, a, b)
	assert.NotEqual(t, RootInode, a)
}

func TestLookupOrInsert_AllocatesDistinctInodes(t *testing.T) {
	r := New()
	a := r.LookupOrInsert("a", wire.KindFile)
	b := r.LookupOrInsert("b", wire.KindFile)
	assert.NotEqual(t, a, b)
}

func TestRename_PreservesInodeForExactPath(t *testing.T) {
	r := New()
	ino := r.LookupOrInsert("f1", wire.KindFile)

	r.Rename("f1", "f2")

	path, ok := r.PathOf(ino)
	require.True(t, ok)
	assert.Equal(t, "f2", path)

	_, ok = r.InodeOf("f1")
	assert.False(t, ok)
}

func TestRename_RewritesNestedEntries(t *testing.T) {
	r := New()
	dirIno := r.LookupOrInsert("a", wire.KindDir)
	childIno := r.LookupOrInsert("a/b/c", wire.KindFile)

	r.Rename("a", "z")

	path, ok := r.PathOf(dirIno)
	require.True(t, ok)
	assert.Equal(t, "z", path)

	path, ok = r.PathOf(childIno)
	require.True(t, ok)
	assert.Equal(t, "z/b/c", path)
}

func TestRename_DoesNotTouchUnrelatedSiblingWithSamePrefix(t *testing.T) {
	r := New()
	abIno := r.LookupOrInsert("ab", wire.KindFile)
	r.LookupOrInsert("a", wire.KindDir)

	r.Rename("a", "z")

	path, ok := r.PathOf(abIno)
	require.True(t, ok)
	assert.Equal(t, "ab", path, "sibling 'ab' must not be rewritten by renaming 'a'")
}

func TestForget_RemovesBothDirections(t *testing.T) {
	r := New()
	ino := r.LookupOrInsert("gone", wire.KindFile)
	r.Forget("gone")

	_, ok := r.PathOf(ino)
	assert.False(t, ok)
	_, ok = r.InodeOf("gone")
	assert.False(t, ok)
}

func TestKindOf(t *testing.T) {
	r := New()
	ino := r.LookupOrInsert("d", wire.KindDir)
	kind, ok := r.KindOf(ino)
	require.True(t, ok)
	assert.Equal(t, wire.KindDir, kind)
}
