package yakv_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"yakv"
	"yakv/internal/testkit"
)

func mustCreate(t *testing.T, opts yakv.Options) *yakv.Db {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yakv")
	db, err := yakv.Create(path, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRoundTrip(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	testkit.AssertRoundTrip(t, db, []byte("a"), []byte("1"))
}

func TestOverwrite(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Insert([]byte("a"), []byte("99")))
	v, err := db.Lookup([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("99"), v)
}

func TestRemove(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Remove([]byte("a")))
	_, err := db.Lookup([]byte("a"))
	require.ErrorIs(t, err, yakv.ErrNotFound)
}

func TestOrderMinAbove(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		require.NoError(t, db.Insert([]byte(k), []byte(k)))
	}
	testkit.AssertAscendingOrder(t, db, []string{"a", "b", "c", "d", "e"})
}

func TestOrderMaxBelow(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		require.NoError(t, db.Insert([]byte(k), []byte(k)))
	}
	k, _, err := db.Max()
	require.NoError(t, err)
	require.Equal(t, []byte("e"), k)

	var desc []string
	for {
		prev, _, err := db.Below(k)
		if err == yakv.ErrNotFound {
			break
		}
		require.NoError(t, err)
		desc = append(desc, string(prev))
		k = prev
	}
	require.Equal(t, []string{"d", "c", "b", "a"}, desc)
}

func TestIdempotentFlush(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	require.NoError(t, db.Insert([]byte("a"), []byte("1")))
	require.NoError(t, db.Flush())
	require.NoError(t, db.Flush())
	v, err := db.Lookup([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "durable.yakv")
	db, err := yakv.Create(path, yakv.DefaultOptions())
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		k := []byte(fmt.Sprintf("key-%04d", i))
		require.NoError(t, db.Insert(k, k))
	}
	require.NoError(t, db.Close())

	reopened, err := yakv.Open(path, yakv.DefaultOptions())
	require.NoError(t, err)
	defer reopened.Close()

	keys, err := reopened.GetAllKeys()
	require.NoError(t, err)
	require.Len(t, keys, 1000)
	for i := 0; i < 1000; i++ {
		want := fmt.Sprintf("key-%04d", i)
		require.Equal(t, want, string(keys[i]))
	}
}

func TestEmptyTreeBoundaries(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	_, _, err := db.Min()
	require.ErrorIs(t, err, yakv.ErrNotFound)
	_, _, err = db.Max()
	require.ErrorIs(t, err, yakv.ErrNotFound)
	_, err = db.Lookup([]byte("nope"))
	require.ErrorIs(t, err, yakv.ErrNotFound)
	require.NoError(t, db.Remove([]byte("nope")))
}

func TestEntryTooLarge(t *testing.T) {
	opts := yakv.DefaultOptions()
	opts.PageSize = 256
	db := mustCreate(t, opts)

	before, err := db.Count()
	require.NoError(t, err)

	huge := make([]byte, 1000)
	err = db.Insert([]byte("k"), huge)
	require.ErrorIs(t, err, yakv.ErrEntryTooLarge)

	after, err := db.Count()
	require.NoError(t, err)
	require.Equal(t, before, after)
	testkit.AssertInvariants(t, db)
}

func TestSplitAndAscend(t *testing.T) {
	opts := yakv.DefaultOptions()
	opts.PageSize = 256
	db := mustCreate(t, opts)

	val := make([]byte, 40)
	for i := range val {
		val[i] = byte('x' + i%3)
	}
	for _, k := range []string{"01", "02", "03", "04", "05"} {
		require.NoError(t, db.Insert([]byte(k), val))
	}
	testkit.AssertInvariants(t, db)

	h, err := db.Height()
	require.NoError(t, err)
	require.Greater(t, h, 1, "expected the root to have split into an internal page")

	keys, err := db.GetAllKeys()
	require.NoError(t, err)
	got := make([]string, len(keys))
	for i, k := range keys {
		got[i] = string(k)
	}
	require.Equal(t, []string{"01", "02", "03", "04", "05"}, got)

	for _, k := range []string{"01", "02", "03", "04", "05"} {
		v, err := db.Lookup([]byte(k))
		require.NoError(t, err)
		require.Equal(t, val, v)
	}
}

func TestManyInsertsThenRemoveAll(t *testing.T) {
	opts := yakv.DefaultOptions()
	opts.PageSize = 512
	db := mustCreate(t, opts)

	const n = 2000
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		k := []byte(fmt.Sprintf("%08d", (i*2654435761)%1000000))
		keys[i] = k
		require.NoError(t, db.Insert(k, []byte("v")))
	}
	testkit.AssertInvariants(t, db)

	for _, k := range keys {
		require.NoError(t, db.Remove(k))
	}
	testkit.AssertInvariants(t, db)

	count, err := db.Count()
	require.NoError(t, err)
	require.Equal(t, 0, count)

	height, err := db.Height()
	require.NoError(t, err)
	require.Equal(t, 1, height, "an empty tree should collapse to a single leaf root")
}

// TestVariableLengthValuesSurviveRemoval covers a case uniform-value
// tests never exercise: values of unequal length mean a sibling's
// surplus bytes can be smaller than an underflowing node's deficit, so
// redistribution alone may not clear the underflow threshold and must
// fall back to a merge (checked here via repeated invariant walks
// through a long run of removals, not just at the end).
func TestVariableLengthValuesSurviveRemoval(t *testing.T) {
	opts := yakv.DefaultOptions()
	opts.PageSize = 512
	db := mustCreate(t, opts)

	const n = 400
	keys, values := testkit.RandomKV(n, 20260802)
	for i := range keys {
		require.NoError(t, db.Insert(keys[i], values[i]))
	}
	testkit.AssertInvariants(t, db)

	for i := 0; i < n; i += 2 {
		require.NoError(t, db.Remove(keys[i]))
		if i%40 == 0 {
			testkit.AssertInvariants(t, db)
		}
	}
	testkit.AssertInvariants(t, db)

	for i := 1; i < n; i += 2 {
		v, err := db.Lookup(keys[i])
		require.NoError(t, err)
		require.Equal(t, values[i], v)
	}
	for i := 0; i < n; i += 2 {
		_, err := db.Lookup(keys[i])
		require.ErrorIs(t, err, yakv.ErrNotFound)
	}
}

func TestAboveBelowExtremes(t *testing.T) {
	db := mustCreate(t, yakv.DefaultOptions())
	for _, k := range []string{"b", "d", "f"} {
		require.NoError(t, db.Insert([]byte(k), []byte(k)))
	}
	_, _, err := db.Above([]byte("z"))
	require.ErrorIs(t, err, yakv.ErrNotFound)

	k, _, err := db.Above([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("b"), k)

	_, _, err = db.Below([]byte("a"))
	require.ErrorIs(t, err, yakv.ErrNotFound)
}
