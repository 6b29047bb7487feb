package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmbee/dngsync/internal/delta"
)

func rec(id string, kv ...any) delta.Record {
	r := delta.Record{"id": id}
	for i := 0; i+1 < len(kv); i += 2 {
		r[kv[i].(string)] = kv[i+1]
	}

	return r
}

func snap(recs ...delta.Record) delta.Snapshot {
	s := make(delta.Snapshot, len(recs))
	for _, r := range recs {
		s[r.ID()] = r
	}

	return s
}

func TestSnapshotCache_StoreLoad(t *testing.T) {
	c, err := NewSnapshotCache(filepath.Join(t.TempDir(), "PROJ", "baselines"))
	require.NoError(t, err)

	_, ok, err := c.Load("b1")
	require.NoError(t, err)
	assert.False(t, ok)

	want := snap(rec("a", "name", "A"), rec("b", "value", 2.5))
	require.NoError(t, c.Store("b1", want))

	got, ok, err := c.Load("b1")
	require.NoError(t, err)
	require.True(t, ok)

	d, err := delta.Diff(want, got, "")
	require.NoError(t, err)
	assert.True(t, d.Empty())

	entries, err := os.ReadDir(filepath.Dir(c.Path("b1")))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
	assert.Equal(t, "snapshot.b1.json", entries[0].Name())
}

func TestSnapshotCache_Overwrite(t *testing.T) {
	c, err := NewSnapshotCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Store("b1", snap(rec("a"))))
	require.NoError(t, c.Store("b1", snap(rec("b"), rec("c"))))

	got, ok, err := c.Load("b1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"b", "c"}, got.IDs())
}

func TestSnapshotCache_PathSanitized(t *testing.T) {
	c, err := NewSnapshotCache(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "snapshot.a_b_c.json", filepath.Base(c.Path("a/b:c")))
}

func TestSnapshotCache_Corrupt(t *testing.T) {
	c, err := NewSnapshotCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(c.Path("bad"), []byte(`{"elements":[{"id":`), 0o600))

	_, _, err = c.Load("bad")
	assert.ErrorIs(t, err, delta.ErrMalformed)
}

func TestSnapshotCache_Prune(t *testing.T) {
	c, err := NewSnapshotCache(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"head.20240101T000000Z", "head.20240102T000000Z", "head.20240103T000000Z", "B1"} {
		require.NoError(t, c.Store(id, snap(rec("a"))))
	}

	n, err := c.Prune("head.", "head.20240103T000000Z")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for id, want := range map[string]bool{
		"head.20240101T000000Z": false,
		"head.20240102T000000Z": false,
		"head.20240103T000000Z": true,
		"B1":                    true,
	} {
		_, ok, err := c.Load(id)
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}
}
